package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusArchived  CampaignStatus = "archived"
)

// DialMode selects what a lead hears once the call is answered.
type DialMode string

const (
	DialModeIVR      DialMode = "ivr"
	DialModePlayback DialMode = "playback"
)

// Campaign models an outbound dialing campaign and its policy.
// The scheduler only ever reads campaigns; all mutation happens
// through the campaign service.
type Campaign struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	Name               string
	Status             CampaignStatus
	DialMode           DialMode
	IVRMenuID          *uuid.UUID
	AudioURL           string
	MaxConcurrentCalls int
	MaxRetries         int
	RetryDelay         time.Duration
	CallWindowStart    *string
	CallWindowEnd      *string
	AllowWeekends      bool
	CallerIDName       string
	CallerIDNumber     string
	Metadata           map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// campaignTransitions is the allowed status transition table.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusRunning, CampaignStatusArchived},
	CampaignStatusRunning:   {CampaignStatusPaused, CampaignStatusCompleted},
	CampaignStatusPaused:    {CampaignStatusRunning, CampaignStatusCompleted},
	CampaignStatusCompleted: {CampaignStatusArchived},
}

// CanTransition reports whether a campaign may move between the two states.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CampaignStats aggregates lead progress for a campaign.
type CampaignStats struct {
	TotalLeads     int64
	PendingLeads   int64
	ScheduledLeads int64
	InProgress     int64
	CompletedLeads int64
	FailedLeads    int64
	DoNotCall      int64
}
