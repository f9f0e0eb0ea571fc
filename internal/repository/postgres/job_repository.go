package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/repository"
)

// JobRepository implements repository.JobRepository using PostgreSQL.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository constructs the repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, campaign_id, lead_id, status, attempt_number, scheduled_at,
	call_uuid, started_at, finished_at, last_error, created_at, updated_at`

// Create inserts a job.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	q := `INSERT INTO jobs (
		id, campaign_id, lead_id, status, attempt_number, scheduled_at,
		call_uuid, started_at, finished_at, last_error, created_at, updated_at
	) VALUES (
		:id, :campaign_id, :lead_id, :status, :attempt_number, :scheduled_at,
		:call_uuid, :started_at, :finished_at, :last_error, :created_at, :updated_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, jobParams(job)); err != nil {
		return fmt.Errorf("job repo: insert: %w", err)
	}
	return nil
}

// CreateBatch inserts jobs in one statement.
func (r *JobRepository) CreateBatch(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	q := `INSERT INTO jobs (
		id, campaign_id, lead_id, status, attempt_number, scheduled_at,
		call_uuid, started_at, finished_at, last_error, created_at, updated_at
	) VALUES (
		:id, :campaign_id, :lead_id, :status, :attempt_number, :scheduled_at,
		:call_uuid, :started_at, :finished_at, :last_error, :created_at, :updated_at
	)`

	rows := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, jobParams(job))
	}

	if _, err := r.db.NamedExecContext(ctx, q, rows); err != nil {
		return fmt.Errorf("job repo: batch insert: %w", err)
	}
	return nil
}

// Get fetches a job by id.
func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	var record jobRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("job repo: get: %w", err)
	}

	job := record.toDomain()
	return &job, nil
}

// Update persists mutable job fields.
func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET
		status = $1, call_uuid = $2, started_at = $3, finished_at = $4,
		last_error = $5, updated_at = $6
	WHERE id = $7`,
		job.Status, job.CallUUID, job.StartedAt, job.FinishedAt,
		job.LastError, time.Now().UTC(), job.ID,
	)
	if err != nil {
		return fmt.Errorf("job repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClaimDialing is the single conditional transition that guarantees at
// most one dispatch per job. The status predicate is evaluated and
// applied server-side in one statement; a concurrent claimer sees zero
// rows affected and fails with ErrNotClaimable.
func (r *JobRepository) ClaimDialing(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET
		status = $1, started_at = $2, last_error = NULL, updated_at = $2
	WHERE id = $3 AND status IN ($4, $5)`,
		domain.JobStatusDialing, startedAt, id,
		domain.JobStatusPending, domain.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("job repo: claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotClaimable
	}
	return nil
}

// SetCallUUID records the backend call id, but only while the job is
// still dialing. When the CDR reconciler finalized the job between
// originate and this write, zero rows match and the terminal state is
// preserved untouched.
func (r *JobRepository) SetCallUUID(ctx context.Context, id uuid.UUID, callUUID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET
		call_uuid = $1, updated_at = $2
	WHERE id = $3 AND status = $4`,
		callUUID, time.Now().UTC(), id, domain.JobStatusDialing,
	)
	if err != nil {
		return fmt.Errorf("job repo: set call uuid: %w", err)
	}
	return nil
}

// FinishFailed finalizes an active job as failed. The status predicate
// keeps a job that already reached a terminal state from being flipped
// back; the caller observes ErrNotClaimable instead.
func (r *JobRepository) FinishFailed(ctx context.Context, id uuid.UUID, reason string, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET
		status = $1, last_error = $2, finished_at = $3, updated_at = $3
	WHERE id = $4 AND status IN ($5, $6, $7)`,
		domain.JobStatusFailed, reason, finishedAt, id,
		domain.JobStatusPending, domain.JobStatusQueued, domain.JobStatusDialing,
	)
	if err != nil {
		return fmt.Errorf("job repo: finish failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotClaimable
	}
	return nil
}

// Cancel transitions a pending job to cancelled.
func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET
		status = $1, finished_at = $2, updated_at = $2
	WHERE id = $3 AND status = $4`,
		domain.JobStatusCancelled, time.Now().UTC(), id, domain.JobStatusPending,
	)
	if err != nil {
		return fmt.Errorf("job repo: cancel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotClaimable
	}
	return nil
}

// NextEligible returns the oldest pending job ready to dial.
func (r *JobRepository) NextEligible(ctx context.Context, campaignID uuid.UUID, now time.Time) (*domain.Job, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+jobColumns+`
		FROM jobs
		WHERE campaign_id = $1 AND status = $2 AND scheduled_at <= $3
		ORDER BY scheduled_at ASC, created_at ASC
		LIMIT 1`, campaignID, domain.JobStatusPending, now)

	var record jobRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("job repo: next eligible: %w", err)
	}

	job := record.toDomain()
	return &job, nil
}

// CountByStatus counts a campaign's jobs in the given status.
func (r *JobRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID, status domain.JobStatus) (int, error) {
	var n int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM jobs
		WHERE campaign_id = $1 AND status = $2`, campaignID, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("job repo: count by status: %w", err)
	}
	return n, nil
}

// ListByCampaign lists jobs, optionally filtered by status.
func (r *JobRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE campaign_id = $1`
	args := []any{campaignID}
	if status != "" {
		query += ` AND status = $2 ORDER BY scheduled_at ASC, created_at ASC LIMIT $3`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY scheduled_at ASC, created_at ASC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("job repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Job
	for rows.Next() {
		var record jobRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("job repo: scan: %w", err)
		}
		job := record.toDomain()
		results = append(results, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job repo: rows err: %w", err)
	}
	return results, nil
}

func jobParams(job *domain.Job) map[string]any {
	return map[string]any{
		"id":             job.ID,
		"campaign_id":    job.CampaignID,
		"lead_id":        job.LeadID,
		"status":         job.Status,
		"attempt_number": job.AttemptNumber,
		"scheduled_at":   job.ScheduledAt,
		"call_uuid":      job.CallUUID,
		"started_at":     job.StartedAt,
		"finished_at":    job.FinishedAt,
		"last_error":     job.LastError,
		"created_at":     job.CreatedAt,
		"updated_at":     job.UpdatedAt,
	}
}

type jobRecord struct {
	ID            uuid.UUID      `db:"id"`
	CampaignID    uuid.UUID      `db:"campaign_id"`
	LeadID        uuid.UUID      `db:"lead_id"`
	Status        string         `db:"status"`
	AttemptNumber int            `db:"attempt_number"`
	ScheduledAt   time.Time      `db:"scheduled_at"`
	CallUUID      sql.NullString `db:"call_uuid"`
	StartedAt     sql.NullTime   `db:"started_at"`
	FinishedAt    sql.NullTime   `db:"finished_at"`
	LastError     sql.NullString `db:"last_error"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r jobRecord) toDomain() domain.Job {
	job := domain.Job{
		ID:            r.ID,
		CampaignID:    r.CampaignID,
		LeadID:        r.LeadID,
		Status:        domain.JobStatus(r.Status),
		AttemptNumber: r.AttemptNumber,
		ScheduledAt:   r.ScheduledAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.CallUUID.Valid {
		v := r.CallUUID.String
		job.CallUUID = &v
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		job.FinishedAt = &t
	}
	if r.LastError.Valid {
		v := r.LastError.String
		job.LastError = &v
	}
	return job
}
