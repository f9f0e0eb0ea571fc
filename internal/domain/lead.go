package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus enumerates the progress states of a lead.
type LeadStatus string

const (
	LeadStatusPending    LeadStatus = "pending"
	LeadStatusScheduled  LeadStatus = "scheduled"
	LeadStatusInProgress LeadStatus = "in_progress"
	LeadStatusCompleted  LeadStatus = "completed"
	LeadStatusFailed     LeadStatus = "failed"
	LeadStatusDoNotCall  LeadStatus = "do_not_call"
)

// Lead is a phone number enrolled in exactly one campaign.
// A phone number appears at most once per campaign; duplicate inserts
// are skipped and counted, never an error.
type Lead struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	PhoneNumber   string
	DisplayName   string
	Status        LeadStatus
	AttemptCount  int
	LastAttemptAt *time.Time
	LastJobID     *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
