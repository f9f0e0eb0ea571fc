package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/repository"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
)

// Service orchestrates campaign lifecycle operations.
type Service struct {
	repo               repository.CampaignRepository
	leadRepo           repository.LeadRepository
	defaultConcurrency int
}

// NewService constructs a campaign service.
func NewService(repo repository.CampaignRepository, leads repository.LeadRepository, defaultConcurrency int) *Service {
	return &Service{
		repo:               repo,
		leadRepo:           leads,
		defaultConcurrency: defaultConcurrency,
	}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	TenantID           uuid.UUID
	Name               string
	DialMode           domain.DialMode
	IVRMenuID          *uuid.UUID
	AudioURL           string
	MaxConcurrentCalls int
	MaxRetries         int
	RetryDelay         time.Duration
	CallWindowStart    *string
	CallWindowEnd      *string
	AllowWeekends      bool
	CallerIDName       string
	CallerIDNumber     string
	Metadata           map[string]any
}

// UpdateCampaignInput captures updatable policy fields.
type UpdateCampaignInput struct {
	ID                 uuid.UUID
	Name               *string
	MaxConcurrentCalls *int
	MaxRetries         *int
	RetryDelay         *time.Duration
	CallWindowStart    *string
	CallWindowEnd      *string
	AllowWeekends      *bool
	CallerIDName       *string
	CallerIDNumber     *string
	Metadata           map[string]any
}

// LeadInput expresses one lead to enroll.
type LeadInput struct {
	PhoneNumber string
	DisplayName string
}

// AddLeadsResult reports the outcome of a lead import.
type AddLeadsResult struct {
	Inserted   int
	Duplicates int
}

// Create provisions a new campaign in draft state.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		TenantID:           input.TenantID,
		Name:               input.Name,
		Status:             domain.CampaignStatusDraft,
		DialMode:           input.DialMode,
		IVRMenuID:          input.IVRMenuID,
		AudioURL:           input.AudioURL,
		MaxConcurrentCalls: s.resolveConcurrency(input.MaxConcurrentCalls),
		MaxRetries:         input.MaxRetries,
		RetryDelay:         input.RetryDelay,
		CallWindowStart:    input.CallWindowStart,
		CallWindowEnd:      input.CallWindowEnd,
		AllowWeekends:      input.AllowWeekends,
		CallerIDName:       input.CallerIDName,
		CallerIDNumber:     input.CallerIDNumber,
		Metadata:           input.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}

	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns a tenant's campaigns.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return s.repo.List(ctx, tenantID, afterID, limit)
}

// Update modifies campaign policy.
func (s *Service) Update(ctx context.Context, input UpdateCampaignInput) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		campaign.Name = *input.Name
	}
	if input.MaxConcurrentCalls != nil {
		campaign.MaxConcurrentCalls = s.resolveConcurrency(*input.MaxConcurrentCalls)
	}
	if input.MaxRetries != nil {
		if *input.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max retries must not be negative", apperrors.ErrValidation)
		}
		campaign.MaxRetries = *input.MaxRetries
	}
	if input.RetryDelay != nil {
		campaign.RetryDelay = *input.RetryDelay
	}
	if input.CallWindowStart != nil {
		campaign.CallWindowStart = input.CallWindowStart
	}
	if input.CallWindowEnd != nil {
		campaign.CallWindowEnd = input.CallWindowEnd
	}
	if input.AllowWeekends != nil {
		campaign.AllowWeekends = *input.AllowWeekends
	}
	if input.CallerIDName != nil {
		campaign.CallerIDName = *input.CallerIDName
	}
	if input.CallerIDNumber != nil {
		campaign.CallerIDNumber = *input.CallerIDNumber
	}
	if input.Metadata != nil {
		campaign.Metadata = input.Metadata
	}

	campaign.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, campaign); err != nil {
		return nil, err
	}

	return campaign, nil
}

// Start transitions a campaign to running.
func (s *Service) Start(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.CampaignStatusRunning)
}

// Pause transitions a campaign to paused.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.CampaignStatusPaused)
}

// Complete marks a campaign as completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.CampaignStatusCompleted)
}

// Archive marks a campaign as archived.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.CampaignStatusArchived)
}

// Delete removes a campaign together with its leads and jobs.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Stats aggregates lead progress for a campaign.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.leadRepo.CountByStatus(ctx, id)
}

// AddLeads enrolls leads into a campaign. Phone numbers already present
// in the campaign are skipped silently and reported as duplicates.
func (s *Service) AddLeads(ctx context.Context, campaignID uuid.UUID, inputs []LeadInput) (*AddLeadsResult, error) {
	if _, err := s.repo.Get(ctx, campaignID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	leads := make([]*domain.Lead, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	intraBatch := 0
	for _, in := range inputs {
		if in.PhoneNumber == "" {
			return nil, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
		}
		if seen[in.PhoneNumber] {
			intraBatch++
			continue
		}
		seen[in.PhoneNumber] = true
		leads = append(leads, &domain.Lead{
			ID:          uuid.New(),
			CampaignID:  campaignID,
			PhoneNumber: in.PhoneNumber,
			DisplayName: in.DisplayName,
			Status:      domain.LeadStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	inserted, duplicates, err := s.leadRepo.BulkInsert(ctx, campaignID, leads)
	if err != nil {
		return nil, fmt.Errorf("campaign service: add leads: %w", err)
	}

	return &AddLeadsResult{Inserted: inserted, Duplicates: duplicates + intraBatch}, nil
}

// ListLeads lists a campaign's leads.
func (s *Service) ListLeads(ctx context.Context, campaignID uuid.UUID, status domain.LeadStatus, limit int) ([]*domain.Lead, error) {
	return s.leadRepo.ListByCampaign(ctx, campaignID, status, limit)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.CampaignStatus) error {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status == to {
		return nil
	}
	if !campaign.Status.CanTransition(to) {
		return fmt.Errorf("%w: campaign cannot move from %s to %s", apperrors.ErrInvalidState, campaign.Status, to)
	}
	return s.repo.UpdateStatus(ctx, id, to)
}

func (s *Service) resolveConcurrency(value int) int {
	if value <= 0 {
		value = s.defaultConcurrency
	}
	if value <= 0 {
		value = 1
	}
	return value
}

func validateCreateInput(input CreateCampaignInput) error {
	if input.Name == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if input.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id is required", apperrors.ErrValidation)
	}
	if input.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", apperrors.ErrValidation)
	}
	switch input.DialMode {
	case domain.DialModeIVR:
		if input.IVRMenuID == nil {
			return fmt.Errorf("%w: ivr dial mode requires a menu reference", apperrors.ErrValidation)
		}
	case domain.DialModePlayback:
		if input.AudioURL == "" {
			return fmt.Errorf("%w: playback dial mode requires an audio url", apperrors.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown dial mode %q", apperrors.ErrValidation, input.DialMode)
	}
	return nil
}
