package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/domain"
)

type jobResponse struct {
	ID            uuid.UUID        `json:"id"`
	CampaignID    uuid.UUID        `json:"campaign_id"`
	LeadID        uuid.UUID        `json:"lead_id"`
	Status        domain.JobStatus `json:"status"`
	AttemptNumber int              `json:"attempt_number"`
	ScheduledAt   time.Time        `json:"scheduled_at"`
	CallUUID      *string          `json:"call_uuid,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	LastError     *string          `json:"last_error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

type listJobsResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

func (h *HandlerSet) getJob(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid job id")
	}

	job, err := h.jobs.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toJobResponse(job))
}

func (h *HandlerSet) cancelJob(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid job id")
	}

	if err := h.jobs.Cancel(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) listCampaignJobs(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	status := domain.JobStatus(ctx.Query("status"))

	jobs, err := h.jobs.ListByCampaign(ctx.Context(), id, status, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listJobsResponse{Jobs: make([]jobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:            j.ID,
		CampaignID:    j.CampaignID,
		LeadID:        j.LeadID,
		Status:        j.Status,
		AttemptNumber: j.AttemptNumber,
		ScheduledAt:   j.ScheduledAt,
		CallUUID:      j.CallUUID,
		StartedAt:     j.StartedAt,
		FinishedAt:    j.FinishedAt,
		LastError:     j.LastError,
		CreatedAt:     j.CreatedAt,
	}
}
