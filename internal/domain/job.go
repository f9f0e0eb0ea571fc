package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates lifecycle stages for a dialing attempt.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusDialing   JobStatus = "dialing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is one dialing attempt for one lead, the unit the scheduler
// claims and dispatches. The pending -> dialing transition happens at
// most once, enforced by a conditional update at the storage layer.
type Job struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	LeadID        uuid.UUID
	Status        JobStatus
	AttemptNumber int
	ScheduledAt   time.Time
	CallUUID      *string
	StartedAt     *time.Time
	FinishedAt    *time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
