package domain

import (
	"time"

	"github.com/google/uuid"
)

// CDRFinalStatus classifies the billed outcome of a call leg.
type CDRFinalStatus string

const (
	CDRStatusAnswered  CDRFinalStatus = "answered"
	CDRStatusBusy      CDRFinalStatus = "busy"
	CDRStatusNoAnswer  CDRFinalStatus = "no_answer"
	CDRStatusCancelled CDRFinalStatus = "cancelled"
	CDRStatusFailed    CDRFinalStatus = "failed"
)

// CDR is the terminal artifact of one telephony leg. CallUUID is unique;
// a duplicate ingestion is a silent no-op. References are by id only, so
// a CDR may outlive its campaign, lead and job.
type CDR struct {
	CallUUID           string
	TenantID           uuid.UUID
	CampaignID         uuid.UUID
	LeadID             *uuid.UUID
	JobID              *uuid.UUID
	Direction          string
	FromNumber         string
	ToNumber           string
	DurationSeconds    int
	BillSeconds        int
	BillingCost        float64
	BillingCurrency    string
	BillingRateApplied float64
	HangupCause        string
	FinalStatus        CDRFinalStatus
	RecordingURL       string
	StartedAt          *time.Time
	AnsweredAt         *time.Time
	EndedAt            *time.Time
	CreatedAt          time.Time
}
