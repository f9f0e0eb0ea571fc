package cdr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/pbx-autodialer/internal/billing"
	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/queue"
	"github.com/acme/pbx-autodialer/internal/repository"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
	"github.com/acme/pbx-autodialer/pkg/logger"
)

// JobFinalizer is the slice of the job service the reconciler needs.
type JobFinalizer interface {
	MarkFailed(ctx context.Context, jobID uuid.UUID, reason string) error
}

// jobStore and leadStore narrow the repositories to what reconciliation
// touches.
type jobStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
}

type leadStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	Update(ctx context.Context, lead *domain.Lead) error
}

// OutcomePublisher emits reconciled job outcomes. Publishing is best
// effort; a broker outage never fails an ingestion.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, msg queue.JobOutcomeMessage) error
}

// Service reconciles call detail reports into CDRs, job outcomes,
// lead progress and tenant balances.
type Service struct {
	store     repository.CDRStore
	billing   repository.BillingConfigRepository
	jobs      jobStore
	leads     leadStore
	finalizer JobFinalizer
	publisher OutcomePublisher
	log       *logger.Logger
}

// NewService constructs the reconciler. publisher may be nil when no
// broker is configured.
func NewService(
	store repository.CDRStore,
	billingRepo repository.BillingConfigRepository,
	jobs jobStore,
	leads leadStore,
	finalizer JobFinalizer,
	publisher OutcomePublisher,
	log *logger.Logger,
) *Service {
	return &Service{
		store:     store,
		billing:   billingRepo,
		jobs:      jobs,
		leads:     leads,
		finalizer: finalizer,
		publisher: publisher,
		log:       log,
	}
}

// Ingest processes one call report end to end. Re-delivery of a call
// UUID already recorded is a silent success with no side effects.
func (s *Service) Ingest(ctx context.Context, report Report) (*domain.CDR, error) {
	if report.CallUUID == "" {
		return nil, fmt.Errorf("%w: call uuid is required", apperrors.ErrInvalidInput)
	}
	if report.CampaignID == nil {
		return nil, fmt.Errorf("%w: campaign id is required", apperrors.ErrInvalidInput)
	}
	if report.TenantID == nil {
		return nil, fmt.Errorf("%w: tenant id is required", apperrors.ErrInvalidInput)
	}

	cfg, err := s.billing.GetOrCreate(ctx, *report.TenantID)
	if err != nil {
		return nil, fmt.Errorf("cdr service: load billing config: %w", err)
	}
	charge := billing.Quote(*cfg, report.BillSeconds)

	record := &domain.CDR{
		CallUUID:           report.CallUUID,
		TenantID:           *report.TenantID,
		CampaignID:         *report.CampaignID,
		LeadID:             report.LeadID,
		JobID:              report.JobID,
		Direction:          report.Direction,
		FromNumber:         report.FromNumber,
		ToNumber:           report.ToNumber,
		DurationSeconds:    report.Duration,
		BillSeconds:        report.BillSeconds,
		BillingCost:        charge.Cost,
		BillingCurrency:    charge.Currency,
		BillingRateApplied: charge.RatePerMinute,
		HangupCause:        report.HangupCause,
		FinalStatus:        resolveFinalStatus(report),
		StartedAt:          report.StartedAt,
		AnsweredAt:         report.AnsweredAt,
		EndedAt:            report.EndedAt,
		CreatedAt:          time.Now().UTC(),
	}

	inserted, err := s.store.Insert(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("cdr service: persist cdr: %w", err)
	}
	if !inserted {
		s.log.Debug("duplicate cdr ignored", zap.String("call_uuid", record.CallUUID))
		stored, err := s.store.GetByCallUUID(ctx, record.CallUUID)
		if err != nil {
			return nil, fmt.Errorf("cdr service: load stored cdr: %w", err)
		}
		return stored, nil
	}

	s.finalizeJob(ctx, record)
	s.updateLead(ctx, record)

	if cfg.Prepaid && record.BillingCost > 0 {
		if _, err := s.billing.AdjustBalance(ctx, record.TenantID, -record.BillingCost); err != nil {
			s.log.Error("debit tenant balance",
				zap.String("tenant_id", record.TenantID.String()),
				zap.Float64("cost", record.BillingCost),
				zap.Error(err))
		}
	}

	s.publish(ctx, record)

	return record, nil
}

// resolveFinalStatus classifies the call. Any positive billed duration
// means the callee answered, regardless of the hangup cause.
func resolveFinalStatus(report Report) domain.CDRFinalStatus {
	if report.BillSeconds > 0 {
		return domain.CDRStatusAnswered
	}
	switch report.HangupCause {
	case "USER_BUSY", "CALL_REJECTED":
		return domain.CDRStatusBusy
	case "ORIGINATOR_CANCEL", "LOSE_RACE":
		return domain.CDRStatusCancelled
	case "NO_ANSWER", "ALLOTTED_TIMEOUT":
		return domain.CDRStatusNoAnswer
	default:
		return domain.CDRStatusFailed
	}
}

func (s *Service) finalizeJob(ctx context.Context, record *domain.CDR) {
	if record.JobID == nil {
		return
	}

	if record.BillSeconds > 0 {
		job, err := s.jobs.Get(ctx, *record.JobID)
		if err != nil {
			s.log.Warn("cdr references unknown job",
				zap.String("call_uuid", record.CallUUID),
				zap.String("job_id", record.JobID.String()),
				zap.Error(err))
			return
		}
		now := time.Now().UTC()
		job.Status = domain.JobStatusCompleted
		job.FinishedAt = &now
		job.UpdatedAt = now
		if job.CallUUID == nil {
			uuidCopy := record.CallUUID
			job.CallUUID = &uuidCopy
		}
		if err := s.jobs.Update(ctx, job); err != nil {
			s.log.Error("complete job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
		}
		return
	}

	cause := record.HangupCause
	if cause == "" {
		cause = string(record.FinalStatus)
	}
	if err := s.finalizer.MarkFailed(ctx, *record.JobID, cause); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("cdr references unknown job",
				zap.String("call_uuid", record.CallUUID),
				zap.String("job_id", record.JobID.String()))
			return
		}
		if errors.Is(err, repository.ErrNotClaimable) {
			s.log.Warn("job already finalized",
				zap.String("call_uuid", record.CallUUID),
				zap.String("job_id", record.JobID.String()))
			return
		}
		s.log.Error("mark job failed",
			zap.String("job_id", record.JobID.String()),
			zap.Error(err))
	}
}

func (s *Service) updateLead(ctx context.Context, record *domain.CDR) {
	if record.LeadID == nil || record.FinalStatus != domain.CDRStatusAnswered {
		return
	}
	lead, err := s.leads.Get(ctx, *record.LeadID)
	if err != nil {
		s.log.Warn("cdr references unknown lead",
			zap.String("call_uuid", record.CallUUID),
			zap.String("lead_id", record.LeadID.String()),
			zap.Error(err))
		return
	}
	now := time.Now().UTC()
	lead.Status = domain.LeadStatusCompleted
	lead.LastAttemptAt = &now
	lead.UpdatedAt = now
	if err := s.leads.Update(ctx, lead); err != nil {
		s.log.Error("complete lead",
			zap.String("lead_id", lead.ID.String()),
			zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, record *domain.CDR) {
	if s.publisher == nil {
		return
	}
	msg := queue.JobOutcomeMessage{
		CallUUID:    record.CallUUID,
		TenantID:    record.TenantID,
		CampaignID:  record.CampaignID,
		LeadID:      record.LeadID,
		JobID:       record.JobID,
		FinalStatus: string(record.FinalStatus),
		HangupCause: record.HangupCause,
		BillSeconds: record.BillSeconds,
		Cost:        record.BillingCost,
		Currency:    record.BillingCurrency,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.publisher.PublishOutcome(ctx, msg); err != nil {
		s.log.Warn("publish job outcome",
			zap.String("call_uuid", record.CallUUID),
			zap.Error(err))
	}
}

// GetByCallUUID fetches one CDR.
func (s *Service) GetByCallUUID(ctx context.Context, callUUID string) (*domain.CDR, error) {
	return s.store.GetByCallUUID(ctx, callUUID)
}

// ListByCampaign pages through a campaign's CDRs.
func (s *Service) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CDR, []byte, error) {
	return s.store.ListByCampaign(ctx, campaignID, limit, pagingState)
}
