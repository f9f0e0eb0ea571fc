package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/repository"
)

// CDRStore persists call detail records in Scylla.
type CDRStore struct {
	session *gocql.Session
}

// NewCDRStore creates a new CDR store.
func NewCDRStore(session *gocql.Session) *CDRStore {
	return &CDRStore{session: session}
}

// Insert writes a CDR keyed by call UUID. The lightweight transaction
// makes a duplicate call UUID a no-op: the insert is not applied and
// inserted=false is returned without error, so repeated ingestion of
// the same report never produces a second row.
func (s *CDRStore) Insert(ctx context.Context, record *domain.CDR) (bool, error) {
	applied, err := s.session.Query(`INSERT INTO cdrs (
		call_uuid, tenant_id, campaign_id, lead_id, job_id, direction,
		from_number, to_number, duration_seconds, bill_seconds,
		billing_cost, billing_currency, billing_rate_applied,
		hangup_cause, final_status, recording_url,
		started_at, answered_at, ended_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	IF NOT EXISTS`,
		record.CallUUID, record.TenantID.String(), record.CampaignID.String(),
		uuidPtrString(record.LeadID), uuidPtrString(record.JobID), record.Direction,
		record.FromNumber, record.ToNumber, record.DurationSeconds, record.BillSeconds,
		record.BillingCost, record.BillingCurrency, record.BillingRateApplied,
		record.HangupCause, string(record.FinalStatus), record.RecordingURL,
		record.StartedAt, record.AnsweredAt, record.EndedAt, record.CreatedAt,
	).WithContext(ctx).ScanCAS()
	if err != nil {
		return false, fmt.Errorf("cdr store: insert: %w", err)
	}

	// the listing table is only written when the primary insert applied
	if applied {
		bucket := bucketDate(record.CreatedAt)
		if err := s.session.Query(`INSERT INTO cdrs_by_campaign (
			campaign_id, bucket, created_at, call_uuid, to_number, final_status,
			bill_seconds, billing_cost, billing_currency
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.CampaignID.String(), bucket, record.CreatedAt, record.CallUUID,
			record.ToNumber, string(record.FinalStatus),
			record.BillSeconds, record.BillingCost, record.BillingCurrency,
		).WithContext(ctx).Exec(); err != nil {
			return true, fmt.Errorf("cdr store: insert cdrs_by_campaign: %w", err)
		}
	}

	return applied, nil
}

// GetByCallUUID retrieves one CDR.
func (s *CDRStore) GetByCallUUID(ctx context.Context, callUUID string) (*domain.CDR, error) {
	var (
		tenantIDStr   string
		campaignIDStr string
		leadIDStr     string
		jobIDStr      string
		record        domain.CDR
		finalStatus   string
	)

	err := s.session.Query(`SELECT tenant_id, campaign_id, lead_id, job_id, direction,
		from_number, to_number, duration_seconds, bill_seconds,
		billing_cost, billing_currency, billing_rate_applied,
		hangup_cause, final_status, recording_url,
		started_at, answered_at, ended_at, created_at
		FROM cdrs WHERE call_uuid = ?`, callUUID).WithContext(ctx).Scan(
		&tenantIDStr, &campaignIDStr, &leadIDStr, &jobIDStr, &record.Direction,
		&record.FromNumber, &record.ToNumber, &record.DurationSeconds, &record.BillSeconds,
		&record.BillingCost, &record.BillingCurrency, &record.BillingRateApplied,
		&record.HangupCause, &finalStatus, &record.RecordingURL,
		&record.StartedAt, &record.AnsweredAt, &record.EndedAt, &record.CreatedAt,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("cdr store: get: %w", err)
	}

	record.CallUUID = callUUID
	record.FinalStatus = domain.CDRFinalStatus(finalStatus)

	tenantID, err := uuid.Parse(tenantIDStr)
	if err != nil {
		return nil, fmt.Errorf("cdr store: parse tenant_id: %w", err)
	}
	record.TenantID = tenantID

	campaignID, err := uuid.Parse(campaignIDStr)
	if err != nil {
		return nil, fmt.Errorf("cdr store: parse campaign_id: %w", err)
	}
	record.CampaignID = campaignID

	if leadIDStr != "" {
		if id, err := uuid.Parse(leadIDStr); err == nil {
			record.LeadID = &id
		}
	}
	if jobIDStr != "" {
		if id, err := uuid.Parse(jobIDStr); err == nil {
			record.JobID = &id
		}
	}

	return &record, nil
}

// ListByCampaign lists CDR summaries for a campaign with pagination.
func (s *CDRStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CDR, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT bucket, created_at, call_uuid, to_number, final_status,
		bill_seconds, billing_cost, billing_currency
		FROM cdrs_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	var results []domain.CDR
	var (
		bucket      time.Time
		createdAt   time.Time
		callUUID    string
		toNumber    string
		finalStatus string
		billSec     int
		cost        float64
		currency    string
	)
	for iter.Scan(&bucket, &createdAt, &callUUID, &toNumber, &finalStatus, &billSec, &cost, &currency) {
		results = append(results, domain.CDR{
			CallUUID:        callUUID,
			CampaignID:      campaignID,
			ToNumber:        toNumber,
			FinalStatus:     domain.CDRFinalStatus(finalStatus),
			BillSeconds:     billSec,
			BillingCost:     cost,
			BillingCurrency: currency,
			CreatedAt:       createdAt,
		})
	}

	next := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("cdr store: list by campaign: %w", err)
	}

	return results, next, nil
}

func uuidPtrString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
