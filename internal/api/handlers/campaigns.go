package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/domain"
	campaignsvc "github.com/acme/pbx-autodialer/internal/service/campaign"
)

type createCampaignRequest struct {
	TenantID           uuid.UUID      `json:"tenant_id"`
	Name               string         `json:"name"`
	DialMode           string         `json:"dial_mode"`
	IVRMenuID          *uuid.UUID     `json:"ivr_menu_id"`
	AudioURL           string         `json:"audio_url"`
	MaxConcurrentCalls int            `json:"max_concurrent_calls"`
	MaxRetries         int            `json:"max_retries"`
	RetryDelaySeconds  int            `json:"retry_delay_seconds"`
	CallWindowStart    *string        `json:"call_window_start"`
	CallWindowEnd      *string        `json:"call_window_end"`
	AllowWeekends      bool           `json:"allow_weekends"`
	CallerIDName       string         `json:"caller_id_name"`
	CallerIDNumber     string         `json:"caller_id_number"`
	Metadata           map[string]any `json:"metadata"`
}

type updateCampaignRequest struct {
	Name               *string        `json:"name"`
	MaxConcurrentCalls *int           `json:"max_concurrent_calls"`
	MaxRetries         *int           `json:"max_retries"`
	RetryDelaySeconds  *int           `json:"retry_delay_seconds"`
	CallWindowStart    *string        `json:"call_window_start"`
	CallWindowEnd      *string        `json:"call_window_end"`
	AllowWeekends      *bool          `json:"allow_weekends"`
	CallerIDName       *string        `json:"caller_id_name"`
	CallerIDNumber     *string        `json:"caller_id_number"`
	Metadata           map[string]any `json:"metadata"`
}

type campaignResponse struct {
	ID                 uuid.UUID             `json:"id"`
	TenantID           uuid.UUID             `json:"tenant_id"`
	Name               string                `json:"name"`
	Status             domain.CampaignStatus `json:"status"`
	DialMode           domain.DialMode       `json:"dial_mode"`
	IVRMenuID          *uuid.UUID            `json:"ivr_menu_id,omitempty"`
	AudioURL           string                `json:"audio_url,omitempty"`
	MaxConcurrentCalls int                   `json:"max_concurrent_calls"`
	MaxRetries         int                   `json:"max_retries"`
	RetryDelaySeconds  int                   `json:"retry_delay_seconds"`
	CallWindowStart    *string               `json:"call_window_start,omitempty"`
	CallWindowEnd      *string               `json:"call_window_end,omitempty"`
	AllowWeekends      bool                  `json:"allow_weekends"`
	CallerIDName       string                `json:"caller_id_name,omitempty"`
	CallerIDNumber     string                `json:"caller_id_number,omitempty"`
	Metadata           map[string]any        `json:"metadata,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type campaignStatsResponse struct {
	TotalLeads     int64 `json:"total_leads"`
	PendingLeads   int64 `json:"pending_leads"`
	ScheduledLeads int64 `json:"scheduled_leads"`
	InProgress     int64 `json:"in_progress"`
	CompletedLeads int64 `json:"completed_leads"`
	FailedLeads    int64 `json:"failed_leads"`
	DoNotCall      int64 `json:"do_not_call"`
}

type addLeadsRequest struct {
	Leads []leadRequest `json:"leads"`
}

type leadRequest struct {
	PhoneNumber string `json:"phone_number"`
	DisplayName string `json:"display_name"`
}

type addLeadsResponse struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

type leadResponse struct {
	ID            uuid.UUID         `json:"id"`
	CampaignID    uuid.UUID         `json:"campaign_id"`
	PhoneNumber   string            `json:"phone_number"`
	DisplayName   string            `json:"display_name,omitempty"`
	Status        domain.LeadStatus `json:"status"`
	AttemptCount  int               `json:"attempt_count"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

type listLeadsResponse struct {
	Leads []leadResponse `json:"leads"`
}

type scheduleBatchRequest struct {
	Limit   int        `json:"limit"`
	StartAt *time.Time `json:"start_at"`
}

type scheduleBatchResponse struct {
	Scheduled int `json:"scheduled"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.campaigns.Create(ctx.Context(), campaignsvc.CreateCampaignInput{
		TenantID:           req.TenantID,
		Name:               req.Name,
		DialMode:           domain.DialMode(req.DialMode),
		IVRMenuID:          req.IVRMenuID,
		AudioURL:           req.AudioURL,
		MaxConcurrentCalls: req.MaxConcurrentCalls,
		MaxRetries:         req.MaxRetries,
		RetryDelay:         time.Duration(req.RetryDelaySeconds) * time.Second,
		CallWindowStart:    req.CallWindowStart,
		CallWindowEnd:      req.CallWindowEnd,
		AllowWeekends:      req.AllowWeekends,
		CallerIDName:       req.CallerIDName,
		CallerIDNumber:     req.CallerIDNumber,
		Metadata:           req.Metadata,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	tenantID, err := parseUUID(ctx.Query("tenant_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "tenant_id query parameter is required")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	var afterID *uuid.UUID
	if afterStr := ctx.Query("after_id"); afterStr != "" {
		if id, err := uuid.Parse(afterStr); err == nil {
			afterID = &id
		}
	}

	campaigns, err := h.campaigns.List(ctx.Context(), tenantID, afterID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := campaignsvc.UpdateCampaignInput{
		ID:                 id,
		Name:               req.Name,
		MaxConcurrentCalls: req.MaxConcurrentCalls,
		MaxRetries:         req.MaxRetries,
		CallWindowStart:    req.CallWindowStart,
		CallWindowEnd:      req.CallWindowEnd,
		AllowWeekends:      req.AllowWeekends,
		CallerIDName:       req.CallerIDName,
		CallerIDNumber:     req.CallerIDNumber,
		Metadata:           req.Metadata,
	}
	if req.RetryDelaySeconds != nil {
		delay := time.Duration(*req.RetryDelaySeconds) * time.Second
		input.RetryDelay = &delay
	}

	campaign, err := h.campaigns.Update(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) deleteCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.campaigns.Delete(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	return h.transitionCampaign(ctx, h.campaigns.Start)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	return h.transitionCampaign(ctx, h.campaigns.Pause)
}

func (h *HandlerSet) completeCampaign(ctx *fiber.Ctx) error {
	return h.transitionCampaign(ctx, h.campaigns.Complete)
}

func (h *HandlerSet) archiveCampaign(ctx *fiber.Ctx) error {
	return h.transitionCampaign(ctx, h.campaigns.Archive)
}

func (h *HandlerSet) transitionCampaign(ctx *fiber.Ctx, fn func(ctx context.Context, id uuid.UUID) error) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := fn(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	stats, err := h.campaigns.Stats(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(campaignStatsResponse{
		TotalLeads:     stats.TotalLeads,
		PendingLeads:   stats.PendingLeads,
		ScheduledLeads: stats.ScheduledLeads,
		InProgress:     stats.InProgress,
		CompletedLeads: stats.CompletedLeads,
		FailedLeads:    stats.FailedLeads,
		DoNotCall:      stats.DoNotCall,
	})
}

func (h *HandlerSet) addLeads(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req addLeadsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Leads) == 0 {
		return fiber.NewError(http.StatusBadRequest, "no leads provided")
	}

	inputs := make([]campaignsvc.LeadInput, 0, len(req.Leads))
	for _, l := range req.Leads {
		inputs = append(inputs, campaignsvc.LeadInput{
			PhoneNumber: l.PhoneNumber,
			DisplayName: l.DisplayName,
		})
	}

	result, err := h.campaigns.AddLeads(ctx.Context(), id, inputs)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(addLeadsResponse{
		Inserted:   result.Inserted,
		Duplicates: result.Duplicates,
	})
}

func (h *HandlerSet) listLeads(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	status := domain.LeadStatus(ctx.Query("status"))

	leads, err := h.campaigns.ListLeads(ctx.Context(), id, status, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listLeadsResponse{Leads: make([]leadResponse, 0, len(leads))}
	for _, l := range leads {
		resp.Leads = append(resp.Leads, leadResponse{
			ID:            l.ID,
			CampaignID:    l.CampaignID,
			PhoneNumber:   l.PhoneNumber,
			DisplayName:   l.DisplayName,
			Status:        l.Status,
			AttemptCount:  l.AttemptCount,
			LastAttemptAt: l.LastAttemptAt,
			CreatedAt:     l.CreatedAt,
		})
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) scheduleBatch(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req scheduleBatchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	startAt := time.Now().UTC()
	if req.StartAt != nil {
		startAt = req.StartAt.UTC()
	}

	scheduled, err := h.jobs.ScheduleBatch(ctx.Context(), id, req.Limit, startAt)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(scheduleBatchResponse{Scheduled: scheduled})
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:                 c.ID,
		TenantID:           c.TenantID,
		Name:               c.Name,
		Status:             c.Status,
		DialMode:           c.DialMode,
		IVRMenuID:          c.IVRMenuID,
		AudioURL:           c.AudioURL,
		MaxConcurrentCalls: c.MaxConcurrentCalls,
		MaxRetries:         c.MaxRetries,
		RetryDelaySeconds:  int(c.RetryDelay / time.Second),
		CallWindowStart:    c.CallWindowStart,
		CallWindowEnd:      c.CallWindowEnd,
		AllowWeekends:      c.AllowWeekends,
		CallerIDName:       c.CallerIDName,
		CallerIDNumber:     c.CallerIDNumber,
		Metadata:           c.Metadata,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}
