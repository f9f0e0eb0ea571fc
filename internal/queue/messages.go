package queue

import (
	"time"

	"github.com/google/uuid"
)

// JobOutcomeMessage announces the reconciled outcome of a dialing job.
type JobOutcomeMessage struct {
	CallUUID    string     `json:"call_uuid"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	CampaignID  uuid.UUID  `json:"campaign_id"`
	LeadID      *uuid.UUID `json:"lead_id,omitempty"`
	JobID       *uuid.UUID `json:"job_id,omitempty"`
	FinalStatus string     `json:"final_status"`
	HangupCause string     `json:"hangup_cause,omitempty"`
	BillSeconds int        `json:"bill_seconds"`
	Cost        float64    `json:"cost"`
	Currency    string     `json:"currency"`
	OccurredAt  time.Time  `json:"occurred_at"`
}
