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

// LeadRepository implements repository.LeadRepository using PostgreSQL.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

const leadColumns = `id, campaign_id, phone_number, display_name, status,
	attempt_count, last_attempt_at, last_job_id, created_at, updated_at`

// BulkInsert inserts leads, skipping phone numbers already present in the
// campaign. The unique index on (campaign_id, phone_number) absorbs
// duplicates both within the batch and against stored rows.
func (r *LeadRepository) BulkInsert(ctx context.Context, campaignID uuid.UUID, leads []*domain.Lead) (int, int, error) {
	if len(leads) == 0 {
		return 0, 0, nil
	}

	q := `INSERT INTO leads (
		id, campaign_id, phone_number, display_name, status,
		attempt_count, last_attempt_at, last_job_id, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
	) ON CONFLICT (campaign_id, phone_number) DO NOTHING`

	inserted := 0
	for _, lead := range leads {
		res, err := r.db.ExecContext(ctx, q,
			lead.ID, campaignID, lead.PhoneNumber, lead.DisplayName, lead.Status,
			lead.AttemptCount, lead.LastAttemptAt, lead.LastJobID, lead.CreatedAt, lead.UpdatedAt,
		)
		if err != nil {
			return inserted, 0, fmt.Errorf("lead repo: bulk insert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, 0, fmt.Errorf("lead repo: rows affected: %w", err)
		}
		inserted += int(n)
	}

	return inserted, len(leads) - inserted, nil
}

// Get fetches a lead by id.
func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)

	var record leadRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lead repo: get: %w", err)
	}

	lead := record.toDomain()
	return &lead, nil
}

// Update persists lead progress fields.
func (r *LeadRepository) Update(ctx context.Context, lead *domain.Lead) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET
		display_name = $1, status = $2, attempt_count = $3,
		last_attempt_at = $4, last_job_id = $5, updated_at = $6
	WHERE id = $7`,
		lead.DisplayName, lead.Status, lead.AttemptCount,
		lead.LastAttemptAt, lead.LastJobID, time.Now().UTC(), lead.ID,
	)
	if err != nil {
		return fmt.Errorf("lead repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lead repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// NextBatchForScheduling fetches leads eligible for a scheduling request.
func (r *LeadRepository) NextBatchForScheduling(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.Lead, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+leadColumns+`
		FROM leads
		WHERE campaign_id = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC
		LIMIT $4`, campaignID, domain.LeadStatusPending, domain.LeadStatusScheduled, limit)
	if err != nil {
		return nil, fmt.Errorf("lead repo: select for scheduling: %w", err)
	}
	defer rows.Close()

	return scanLeads(rows)
}

// ListByCampaign lists leads, optionally filtered by status.
func (r *LeadRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.LeadStatus, limit int) ([]*domain.Lead, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE campaign_id = $1`
	args := []any{campaignID}
	if status != "" {
		query += ` AND status = $2 ORDER BY created_at ASC LIMIT $3`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at ASC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lead repo: list: %w", err)
	}
	defer rows.Close()

	return scanLeads(rows)
}

// CountByStatus aggregates lead counts for campaign progress reporting.
func (r *LeadRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT status, COUNT(*) AS n
		FROM leads WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("lead repo: count by status: %w", err)
	}
	defer rows.Close()

	stats := &domain.CampaignStats{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("lead repo: scan count: %w", err)
		}
		stats.TotalLeads += n
		switch domain.LeadStatus(status) {
		case domain.LeadStatusPending:
			stats.PendingLeads = n
		case domain.LeadStatusScheduled:
			stats.ScheduledLeads = n
		case domain.LeadStatusInProgress:
			stats.InProgress = n
		case domain.LeadStatusCompleted:
			stats.CompletedLeads = n
		case domain.LeadStatusFailed:
			stats.FailedLeads = n
		case domain.LeadStatusDoNotCall:
			stats.DoNotCall = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return stats, nil
}

func scanLeads(rows *sqlx.Rows) ([]*domain.Lead, error) {
	var results []*domain.Lead
	for rows.Next() {
		var record leadRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("lead repo: scan: %w", err)
		}
		lead := record.toDomain()
		results = append(results, &lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return results, nil
}

type leadRecord struct {
	ID            uuid.UUID      `db:"id"`
	CampaignID    uuid.UUID      `db:"campaign_id"`
	PhoneNumber   string         `db:"phone_number"`
	DisplayName   sql.NullString `db:"display_name"`
	Status        string         `db:"status"`
	AttemptCount  int            `db:"attempt_count"`
	LastAttemptAt sql.NullTime   `db:"last_attempt_at"`
	LastJobID     *uuid.UUID     `db:"last_job_id"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r leadRecord) toDomain() domain.Lead {
	lead := domain.Lead{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		PhoneNumber:  r.PhoneNumber,
		DisplayName:  r.DisplayName.String,
		Status:       domain.LeadStatus(r.Status),
		AttemptCount: r.AttemptCount,
		LastJobID:    r.LastJobID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastAttemptAt.Valid {
		t := r.LastAttemptAt.Time
		lead.LastAttemptAt = &t
	}
	return lead
}
