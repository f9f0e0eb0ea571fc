package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/domain"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
	// ErrNotClaimable indicates a conditional state transition matched
	// no row because the entity was not in an eligible state.
	ErrNotClaimable = apperrors.ErrInvalidState
)

// CampaignRepository manages campaign persistence. The scheduler treats
// campaigns as read-only.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
}

// LeadRepository stores campaign leads.
type LeadRepository interface {
	// BulkInsert inserts leads, silently skipping phone numbers already
	// present in the campaign. It returns inserted and duplicate counts.
	BulkInsert(ctx context.Context, campaignID uuid.UUID, leads []*domain.Lead) (inserted, duplicates int, err error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	Update(ctx context.Context, lead *domain.Lead) error
	// NextBatchForScheduling fetches leads eligible for a scheduling
	// request, ordered by creation time.
	NextBatchForScheduling(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.Lead, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.LeadStatus, limit int) ([]*domain.Lead, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error)
}

// JobRepository stores dialing jobs and implements the atomic claim.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	CreateBatch(ctx context.Context, jobs []*domain.Job) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
	// ClaimDialing performs the single conditional transition to
	// dialing: it succeeds only if the job is currently pending or
	// queued, and returns ErrNotClaimable otherwise. The predicate is
	// evaluated server-side in one statement, never read-then-write.
	ClaimDialing(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// SetCallUUID records the backend call id on a job still in
	// dialing. A job already finalized by the reconciler is left
	// untouched and no error is returned.
	SetCallUUID(ctx context.Context, id uuid.UUID, callUUID string) error
	// FinishFailed finalizes an active job as failed. It returns
	// ErrNotClaimable when the job already reached a terminal status.
	FinishFailed(ctx context.Context, id uuid.UUID, reason string, finishedAt time.Time) error
	// Cancel transitions a pending job to cancelled.
	Cancel(ctx context.Context, id uuid.UUID) error
	// NextEligible returns the oldest pending job with scheduled_at <=
	// now, ordered by (scheduled_at, created_at), or ErrNotFound.
	NextEligible(ctx context.Context, campaignID uuid.UUID, now time.Time) (*domain.Job, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID, status domain.JobStatus) (int, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.JobStatus, limit int) ([]*domain.Job, error)
}

// BillingConfigRepository stores per-tenant billing policy and balance.
type BillingConfigRepository interface {
	// GetOrCreate returns the tenant's billing config, lazily creating
	// a zeroed row on first access.
	GetOrCreate(ctx context.Context, tenantID uuid.UUID) (*domain.BillingConfig, error)
	Update(ctx context.Context, cfg *domain.BillingConfig) error
	// AdjustBalance applies a delta to the stored balance inside a
	// row-scoped transaction, flooring the result at zero, and returns
	// the new balance.
	AdjustBalance(ctx context.Context, tenantID uuid.UUID, delta float64) (float64, error)
}

// CDRStore persists call detail records.
type CDRStore interface {
	// Insert writes a CDR keyed by its call UUID. A duplicate call UUID
	// is reported with inserted=false and no error.
	Insert(ctx context.Context, record *domain.CDR) (inserted bool, err error)
	GetByCallUUID(ctx context.Context, callUUID string) (*domain.CDR, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CDR, []byte, error)
}
