package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/pbx-autodialer/internal/dialer"
	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/repository"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
	"github.com/acme/pbx-autodialer/pkg/logger"
)

const (
	defaultScheduleBatch = 100
	maxScheduleBatch     = 500
)

// Options carries dialer defaults applied when a campaign leaves them
// unset.
type Options struct {
	Gateway          string
	OriginateTimeout time.Duration
	CallerIDName     string
	CallerIDNumber   string
}

// Service drives the job lifecycle: scheduling attempts from leads,
// claiming jobs for dispatch, and recording attempt failures.
type Service struct {
	jobs      repository.JobRepository
	leads     repository.LeadRepository
	campaigns repository.CampaignRepository
	adapter   dialer.Adapter
	opts      Options
	log       *logger.Logger
}

// NewService constructs a job service.
func NewService(
	jobs repository.JobRepository,
	leads repository.LeadRepository,
	campaigns repository.CampaignRepository,
	adapter dialer.Adapter,
	opts Options,
	log *logger.Logger,
) *Service {
	if opts.OriginateTimeout <= 0 {
		opts.OriginateTimeout = 10 * time.Second
	}
	return &Service{
		jobs:      jobs,
		leads:     leads,
		campaigns: campaigns,
		adapter:   adapter,
		opts:      opts,
		log:       log,
	}
}

// Get retrieves a job by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

// ListByCampaign lists a campaign's jobs.
func (s *Service) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	return s.jobs.ListByCampaign(ctx, campaignID, status, limit)
}

// ScheduleBatch converts pending leads into pending jobs. It returns
// the number of jobs created. Jobs are written before leads are
// flipped to scheduled so a crash between the two leaves re-runnable
// leads, never orphaned ones.
func (s *Service) ScheduleBatch(ctx context.Context, campaignID uuid.UUID, limit int, startAt time.Time) (int, error) {
	if limit <= 0 {
		limit = defaultScheduleBatch
	}
	if limit > maxScheduleBatch {
		limit = maxScheduleBatch
	}
	if startAt.IsZero() {
		startAt = time.Now().UTC()
	}

	leads, err := s.leads.NextBatchForScheduling(ctx, campaignID, limit)
	if err != nil {
		return 0, fmt.Errorf("job service: fetch leads: %w", err)
	}
	if len(leads) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	jobs := make([]*domain.Job, 0, len(leads))
	for _, lead := range leads {
		jobs = append(jobs, &domain.Job{
			ID:            uuid.New(),
			CampaignID:    campaignID,
			LeadID:        lead.ID,
			Status:        domain.JobStatusPending,
			AttemptNumber: lead.AttemptCount + 1,
			ScheduledAt:   startAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := s.jobs.CreateBatch(ctx, jobs); err != nil {
		return 0, fmt.Errorf("job service: create jobs: %w", err)
	}

	for i, lead := range leads {
		jobID := jobs[i].ID
		attemptAt := now
		lead.Status = domain.LeadStatusScheduled
		lead.LastJobID = &jobID
		lead.AttemptCount++
		lead.LastAttemptAt = &attemptAt
		lead.UpdatedAt = now
		if err := s.leads.Update(ctx, lead); err != nil {
			s.log.Error("mark lead scheduled",
				zap.String("lead_id", lead.ID.String()),
				zap.Error(err))
		}
	}

	return len(jobs), nil
}

// StartJob claims a job and places its call. The claim is a single
// conditional update, so two racing callers cannot both dispatch the
// same job: the loser observes ErrInvalidState and walks away.
func (s *Service) StartJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	campaign, err := s.campaigns.Get(ctx, job.CampaignID)
	if err != nil {
		return fmt.Errorf("job service: load campaign: %w", err)
	}

	now := time.Now().UTC()
	if err := s.jobs.ClaimDialing(ctx, jobID, now); err != nil {
		return err
	}

	// The job is claimed from here on: any dispatch failure must go
	// through MarkFailed so it never sits pending and blocks the
	// campaign's queue.
	lead, err := s.leads.Get(ctx, job.LeadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.failDispatch(ctx, jobID, "lead record missing")
			return fmt.Errorf("%w: job %s references a missing lead", apperrors.ErrInvalidState, jobID)
		}
		return fmt.Errorf("job service: load lead: %w", err)
	}

	req, err := s.buildOrigination(campaign, lead, job)
	if err != nil {
		s.failDispatch(ctx, jobID, err.Error())
		return err
	}

	lead.Status = domain.LeadStatusInProgress
	lead.LastAttemptAt = &now
	lead.UpdatedAt = now
	if err := s.leads.Update(ctx, lead); err != nil {
		s.log.Error("mark lead in progress",
			zap.String("lead_id", lead.ID.String()),
			zap.Error(err))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.OriginateTimeout)
	defer cancel()

	callUUID, err := s.adapter.Originate(callCtx, req)
	if err != nil {
		s.log.Warn("originate failed",
			zap.String("job_id", jobID.String()),
			zap.String("destination", lead.PhoneNumber),
			zap.Error(err))
		if ferr := s.MarkFailed(ctx, jobID, "originate: "+err.Error()); ferr != nil {
			s.log.Error("record originate failure",
				zap.String("job_id", jobID.String()),
				zap.Error(ferr))
		}
		return fmt.Errorf("%w: originate %s: %v", apperrors.ErrAdapterFailure, lead.PhoneNumber, err)
	}
	if callUUID == "" {
		// Some backends accept the call without echoing an id; the
		// job id then doubles as the correlation key.
		callUUID = job.ID.String()
	}

	// Conditional write keyed on status=dialing. A near-instant hangup
	// can let the CDR reconciler finalize the job before this point;
	// the write then matches nothing and the terminal state stands.
	if err := s.jobs.SetCallUUID(ctx, jobID, callUUID); err != nil {
		return fmt.Errorf("job service: persist call uuid: %w", err)
	}

	s.log.Info("call dispatched",
		zap.String("job_id", jobID.String()),
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("call_uuid", callUUID),
		zap.Int("attempt", job.AttemptNumber))

	return nil
}

// failDispatch records a claimed-but-undialable job as failed, keeping
// StartJob's error return intact.
func (s *Service) failDispatch(ctx context.Context, jobID uuid.UUID, reason string) {
	if err := s.MarkFailed(ctx, jobID, reason); err != nil {
		s.log.Error("record dispatch failure",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
	}
}

// MarkFailed records an attempt failure and, when the campaign's retry
// budget allows, enqueues the next attempt after the retry delay. The
// job write is conditional on an active status, so a job the
// reconciler already finalized is never flipped back to failed.
func (s *Service) MarkFailed(ctx context.Context, jobID uuid.UUID, reason string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.jobs.FinishFailed(ctx, jobID, reason, now); err != nil {
		if errors.Is(err, repository.ErrNotClaimable) {
			return fmt.Errorf("%w: job %s already finalized", apperrors.ErrInvalidState, jobID)
		}
		return fmt.Errorf("job service: mark job failed: %w", err)
	}

	lead, err := s.leads.Get(ctx, job.LeadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("failed job has no lead, skipping retry",
				zap.String("job_id", jobID.String()))
			return nil
		}
		return fmt.Errorf("job service: load lead: %w", err)
	}

	campaign, err := s.campaigns.Get(ctx, job.CampaignID)
	if err != nil {
		return fmt.Errorf("job service: load campaign: %w", err)
	}

	lead.AttemptCount = job.AttemptNumber
	lead.LastAttemptAt = &now
	lead.UpdatedAt = now

	nextAttempt := job.AttemptNumber + 1
	if campaign.MaxRetries > 0 && nextAttempt <= campaign.MaxRetries {
		retry := &domain.Job{
			ID:            uuid.New(),
			CampaignID:    job.CampaignID,
			LeadID:        job.LeadID,
			Status:        domain.JobStatusPending,
			AttemptNumber: nextAttempt,
			ScheduledAt:   now.Add(campaign.RetryDelay),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.jobs.Create(ctx, retry); err != nil {
			return fmt.Errorf("job service: enqueue retry: %w", err)
		}
		lead.Status = domain.LeadStatusPending
		lead.LastJobID = &retry.ID
		s.log.Info("retry scheduled",
			zap.String("job_id", retry.ID.String()),
			zap.String("lead_id", lead.ID.String()),
			zap.Int("attempt", nextAttempt))
	} else {
		lead.Status = domain.LeadStatusFailed
	}

	if err := s.leads.Update(ctx, lead); err != nil {
		return fmt.Errorf("job service: update lead after failure: %w", err)
	}

	return nil
}

// Cancel cancels a job that has not yet been claimed.
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return s.jobs.Cancel(ctx, jobID)
}

func (s *Service) buildOrigination(campaign *domain.Campaign, lead *domain.Lead, job *domain.Job) (dialer.OriginationRequest, error) {
	var app string
	switch campaign.DialMode {
	case domain.DialModeIVR:
		if campaign.IVRMenuID == nil {
			return dialer.OriginationRequest{}, fmt.Errorf("%w: ivr campaign %s has no menu", apperrors.ErrInvalidState, campaign.ID)
		}
		app = fmt.Sprintf("ivr(%s)", campaign.IVRMenuID)
	case domain.DialModePlayback:
		if campaign.AudioURL == "" {
			return dialer.OriginationRequest{}, fmt.Errorf("%w: playback campaign %s has no audio url", apperrors.ErrInvalidState, campaign.ID)
		}
		app = fmt.Sprintf("playback(%s)", campaign.AudioURL)
	default:
		return dialer.OriginationRequest{}, fmt.Errorf("%w: campaign %s has unknown dial mode %q", apperrors.ErrInvalidState, campaign.ID, campaign.DialMode)
	}

	cidName := campaign.CallerIDName
	if cidName == "" {
		cidName = s.opts.CallerIDName
	}
	cidNumber := campaign.CallerIDNumber
	if cidNumber == "" {
		cidNumber = s.opts.CallerIDNumber
	}

	return dialer.OriginationRequest{
		Gateway:        s.opts.Gateway,
		Destination:    lead.PhoneNumber,
		App:            app,
		CallerIDName:   cidName,
		CallerIDNumber: cidNumber,
		Variables: map[string]string{
			dialer.VarCampaignID: campaign.ID.String(),
			dialer.VarLeadID:     lead.ID.String(),
			dialer.VarJobID:      job.ID.String(),
			dialer.VarTenantID:   campaign.TenantID.String(),
		},
	}, nil
}
