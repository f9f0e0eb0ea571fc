package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/repository"
)

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, tenant_id, name, status, dial_mode, ivr_menu_id, audio_url,
	max_concurrent_calls, max_retries, retry_delay_seconds,
	call_window_start, call_window_end, allow_weekends,
	caller_id_name, caller_id_number, metadata, created_at, updated_at`

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (
		id, tenant_id, name, status, dial_mode, ivr_menu_id, audio_url,
		max_concurrent_calls, max_retries, retry_delay_seconds,
		call_window_start, call_window_end, allow_weekends,
		caller_id_name, caller_id_number, metadata, created_at, updated_at
	) VALUES (
		:id, :tenant_id, :name, :status, :dial_mode, :ivr_menu_id, :audio_url,
		:max_concurrent_calls, :max_retries, :retry_delay_seconds,
		:call_window_start, :call_window_end, :allow_weekends,
		:caller_id_name, :caller_id_number, :metadata, :created_at, :updated_at
	)`

	params, err := campaignParams(campaign)
	if err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}

	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, q, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

// Update updates campaign policy and metadata.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		status = :status,
		dial_mode = :dial_mode,
		ivr_menu_id = :ivr_menu_id,
		audio_url = :audio_url,
		max_concurrent_calls = :max_concurrent_calls,
		max_retries = :max_retries,
		retry_delay_seconds = :retry_delay_seconds,
		call_window_start = :call_window_start,
		call_window_end = :call_window_end,
		allow_weekends = :allow_weekends,
		caller_id_name = :caller_id_name,
		caller_id_number = :caller_id_number,
		metadata = :metadata,
		updated_at = :updated_at
	 WHERE id = :id`

	params, err := campaignParams(campaign)
	if err != nil {
		return err
	}

	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStatus updates campaign status.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("campaign repo: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a campaign. Leads and jobs cascade at the schema level.
func (r *CampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("campaign repo: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns a tenant's campaigns with keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sqlx.Rows
	var err error
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns WHERE tenant_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`, tenantID, *afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns WHERE tenant_id = $1 ORDER BY id ASC LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// ListByStatus returns campaigns filtered by status across tenants.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list by status: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

func scanCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	return results, nil
}

func campaignParams(campaign *domain.Campaign) (map[string]any, error) {
	metadata, err := json.Marshal(campaign.Metadata)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: marshal metadata: %w", err)
	}
	return map[string]any{
		"id":                   campaign.ID,
		"tenant_id":            campaign.TenantID,
		"name":                 campaign.Name,
		"status":               campaign.Status,
		"dial_mode":            campaign.DialMode,
		"ivr_menu_id":          campaign.IVRMenuID,
		"audio_url":            campaign.AudioURL,
		"max_concurrent_calls": campaign.MaxConcurrentCalls,
		"max_retries":          campaign.MaxRetries,
		"retry_delay_seconds":  int64(campaign.RetryDelay / time.Second),
		"call_window_start":    campaign.CallWindowStart,
		"call_window_end":      campaign.CallWindowEnd,
		"allow_weekends":       campaign.AllowWeekends,
		"caller_id_name":       campaign.CallerIDName,
		"caller_id_number":     campaign.CallerIDNumber,
		"metadata":             metadata,
		"created_at":           campaign.CreatedAt,
		"updated_at":           campaign.UpdatedAt,
	}, nil
}

type campaignRecord struct {
	ID                 uuid.UUID      `db:"id"`
	TenantID           uuid.UUID      `db:"tenant_id"`
	Name               string         `db:"name"`
	Status             string         `db:"status"`
	DialMode           string         `db:"dial_mode"`
	IVRMenuID          *uuid.UUID     `db:"ivr_menu_id"`
	AudioURL           sql.NullString `db:"audio_url"`
	MaxConcurrentCalls int            `db:"max_concurrent_calls"`
	MaxRetries         int            `db:"max_retries"`
	RetryDelaySeconds  int64          `db:"retry_delay_seconds"`
	CallWindowStart    sql.NullString `db:"call_window_start"`
	CallWindowEnd      sql.NullString `db:"call_window_end"`
	AllowWeekends      bool           `db:"allow_weekends"`
	CallerIDName       sql.NullString `db:"caller_id_name"`
	CallerIDNumber     sql.NullString `db:"caller_id_number"`
	Metadata           []byte         `db:"metadata"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	var metadata map[string]any
	_ = json.Unmarshal(r.Metadata, &metadata)

	campaign := domain.Campaign{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		Name:               r.Name,
		Status:             domain.CampaignStatus(r.Status),
		DialMode:           domain.DialMode(r.DialMode),
		IVRMenuID:          r.IVRMenuID,
		AudioURL:           r.AudioURL.String,
		MaxConcurrentCalls: r.MaxConcurrentCalls,
		MaxRetries:         r.MaxRetries,
		RetryDelay:         time.Duration(r.RetryDelaySeconds) * time.Second,
		AllowWeekends:      r.AllowWeekends,
		CallerIDName:       r.CallerIDName.String,
		CallerIDNumber:     r.CallerIDNumber.String,
		Metadata:           metadata,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.CallWindowStart.Valid {
		v := r.CallWindowStart.String
		campaign.CallWindowStart = &v
	}
	if r.CallWindowEnd.Valid {
		v := r.CallWindowEnd.String
		campaign.CallWindowEnd = &v
	}
	return campaign
}
