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

// BillingConfigRepository implements repository.BillingConfigRepository.
type BillingConfigRepository struct {
	db *sqlx.DB
}

// NewBillingConfigRepository builds the repository.
func NewBillingConfigRepository(db *sqlx.DB) *BillingConfigRepository {
	return &BillingConfigRepository{db: db}
}

// GetOrCreate returns the tenant's billing config, lazily creating a
// zeroed row on first access.
func (r *BillingConfigRepository) GetOrCreate(ctx context.Context, tenantID uuid.UUID) (*domain.BillingConfig, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO billing_configs (
		tenant_id, currency, rate_per_minute, increment_seconds, increment_mode,
		setup_fee, prepaid, balance, created_at, updated_at
	) VALUES ($1, '', 0, 0, '', 0, FALSE, 0, $2, $2)
	ON CONFLICT (tenant_id) DO NOTHING`, tenantID, now)
	if err != nil {
		return nil, fmt.Errorf("billing repo: ensure: %w", err)
	}

	row := r.db.QueryRowxContext(ctx, `SELECT tenant_id, currency, rate_per_minute,
		increment_seconds, increment_mode, setup_fee, prepaid, balance, created_at, updated_at
		FROM billing_configs WHERE tenant_id = $1`, tenantID)

	var record billingRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("billing repo: get: %w", err)
	}

	cfg := record.toDomain()
	return &cfg, nil
}

// Update persists billing policy fields. Balance is excluded: it only
// moves through AdjustBalance.
func (r *BillingConfigRepository) Update(ctx context.Context, cfg *domain.BillingConfig) error {
	res, err := r.db.ExecContext(ctx, `UPDATE billing_configs SET
		currency = $1, rate_per_minute = $2, increment_seconds = $3,
		increment_mode = $4, setup_fee = $5, prepaid = $6, updated_at = $7
	WHERE tenant_id = $8`,
		cfg.Currency, cfg.RatePerMinute, cfg.IncrementSeconds,
		cfg.IncrementMode, cfg.SetupFee, cfg.Prepaid, time.Now().UTC(), cfg.TenantID,
	)
	if err != nil {
		return fmt.Errorf("billing repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("billing repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AdjustBalance applies a delta against the current stored balance,
// floored at zero, inside a transaction scoped to the tenant's row.
func (r *BillingConfigRepository) AdjustBalance(ctx context.Context, tenantID uuid.UUID, delta float64) (float64, error) {
	var balance float64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `UPDATE billing_configs SET
			balance = GREATEST(balance + $1, 0), updated_at = $2
		WHERE tenant_id = $3
		RETURNING balance`, delta, time.Now().UTC(), tenantID)
		if err := row.Scan(&balance); err != nil {
			if err == sql.ErrNoRows {
				return repository.ErrNotFound
			}
			return fmt.Errorf("billing repo: adjust balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

type billingRecord struct {
	TenantID         uuid.UUID `db:"tenant_id"`
	Currency         string    `db:"currency"`
	RatePerMinute    float64   `db:"rate_per_minute"`
	IncrementSeconds int       `db:"increment_seconds"`
	IncrementMode    string    `db:"increment_mode"`
	SetupFee         float64   `db:"setup_fee"`
	Prepaid          bool      `db:"prepaid"`
	Balance          float64   `db:"balance"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r billingRecord) toDomain() domain.BillingConfig {
	return domain.BillingConfig{
		TenantID:         r.TenantID,
		Currency:         r.Currency,
		RatePerMinute:    r.RatePerMinute,
		IncrementSeconds: r.IncrementSeconds,
		IncrementMode:    domain.IncrementMode(r.IncrementMode),
		SetupFee:         r.SetupFee,
		Prepaid:          r.Prepaid,
		Balance:          r.Balance,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
