package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/repository"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
	"github.com/acme/pbx-autodialer/pkg/logger"
)

const (
	defaultTickInterval  = 5 * time.Second
	defaultCampaignLimit = 100
)

// campaignSource and jobSource narrow the repositories to the
// scheduler's read side.
type campaignSource interface {
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
}

type jobSource interface {
	CountByStatus(ctx context.Context, campaignID uuid.UUID, status domain.JobStatus) (int, error)
	NextEligible(ctx context.Context, campaignID uuid.UUID, now time.Time) (*domain.Job, error)
}

// JobStarter dispatches one claimed job.
type JobStarter interface {
	StartJob(ctx context.Context, jobID uuid.UUID) error
}

// Options tune the tick loop.
type Options struct {
	TickInterval  time.Duration
	CampaignLimit int
}

// Scheduler periodically dispatches eligible jobs for running
// campaigns, respecting each campaign's call window and concurrency
// cap.
type Scheduler struct {
	campaigns campaignSource
	jobs      jobSource
	starter   JobStarter
	lock      TickLock
	opts      Options
	log       *logger.Logger

	// ticking guards against a tick body outliving its interval.
	ticking atomic.Bool
}

// New constructs a scheduler. lock may be nil for single-instance
// deployments.
func New(campaigns campaignSource, jobs jobSource, starter JobStarter, lock TickLock, opts Options, log *logger.Logger) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.CampaignLimit <= 0 {
		opts.CampaignLimit = defaultCampaignLimit
	}
	return &Scheduler{
		campaigns: campaigns,
		jobs:      jobs,
		starter:   starter,
		lock:      lock,
		opts:      opts,
		log:       log,
	}
}

// Run executes the tick loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("tick_interval", s.opts.TickInterval))

	for {
		s.fireTick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// fireTick runs one tick unless the previous one is still in flight.
func (s *Scheduler) fireTick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Debug("previous tick still running, skipping")
		return
	}
	defer s.ticking.Store(false)

	if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("scheduler tick failed", zap.Error(err))
	}
}

// Tick executes one scheduling pass under the tick lock.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.lock != nil {
		ok, err := s.lock.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("tick lock held elsewhere, skipping")
			return nil
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				s.log.Warn("release tick lock", zap.Error(err))
			}
		}()
	}

	tracer := otel.Tracer("autodialer.scheduler")
	tctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	now := time.Now().UTC()
	campaigns, err := s.campaigns.ListByStatus(tctx, domain.CampaignStatusRunning, s.opts.CampaignLimit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("campaign.count", len(campaigns)))

	for _, campaign := range campaigns {
		if err := s.dispatchCampaign(tctx, tracer, campaign, now); err != nil {
			s.log.Error("campaign dispatch failed",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Error(err))
		}
	}

	return nil
}

// dispatchCampaign fills the campaign's free concurrency slots with its
// oldest eligible jobs. A failure on one job does not stop the rest of
// the slots.
func (s *Scheduler) dispatchCampaign(ctx context.Context, tracer trace.Tracer, campaign *domain.Campaign, now time.Time) error {
	cctx, span := tracer.Start(ctx, "scheduler.campaign", trace.WithAttributes(
		attribute.String("campaign.id", campaign.ID.String()),
		attribute.Int("campaign.max_concurrent", campaign.MaxConcurrentCalls),
	))
	defer span.End()

	if !callWindowOpen(now, campaign) {
		span.SetAttributes(attribute.Bool("window.closed", true))
		s.log.Debug("campaign outside call window", zap.String("campaign_id", campaign.ID.String()))
		return nil
	}

	dialing, err := s.jobs.CountByStatus(cctx, campaign.ID, domain.JobStatusDialing)
	if err != nil {
		span.RecordError(err)
		return err
	}

	free := campaign.MaxConcurrentCalls - dialing
	if free < 0 {
		free = 0
	}
	span.SetAttributes(attribute.Int("slots.free", free))
	if free == 0 {
		return nil
	}

	dispatched := 0
	for i := 0; i < free; i++ {
		job, err := s.jobs.NextEligible(cctx, campaign.ID, now)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				break
			}
			span.RecordError(err)
			return err
		}

		if err := s.starter.StartJob(cctx, job.ID); err != nil {
			span.RecordError(err)
			// Lost claim races and adapter rejections are expected
			// per-job outcomes; keep filling the remaining slots.
			if errors.Is(err, apperrors.ErrInvalidState) || errors.Is(err, apperrors.ErrAdapterFailure) {
				s.log.Warn("job dispatch skipped",
					zap.String("campaign_id", campaign.ID.String()),
					zap.String("job_id", job.ID.String()),
					zap.Error(err))
				continue
			}
			return err
		}
		dispatched++
	}

	if dispatched > 0 {
		s.log.Info("campaign slots filled",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Int("dispatched", dispatched),
			zap.Int("free_slots", free))
	}
	span.SetAttributes(attribute.Int("jobs.dispatched", dispatched))
	return nil
}
