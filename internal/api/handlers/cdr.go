package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/domain"
	cdrsvc "github.com/acme/pbx-autodialer/internal/service/cdr"
)

type cdrResponse struct {
	CallUUID           string                `json:"call_uuid"`
	TenantID           uuid.UUID             `json:"tenant_id"`
	CampaignID         uuid.UUID             `json:"campaign_id"`
	LeadID             *uuid.UUID            `json:"lead_id,omitempty"`
	JobID              *uuid.UUID            `json:"job_id,omitempty"`
	Direction          string                `json:"direction,omitempty"`
	FromNumber         string                `json:"from_number,omitempty"`
	ToNumber           string                `json:"to_number,omitempty"`
	DurationSeconds    int                   `json:"duration_seconds"`
	BillSeconds        int                   `json:"bill_seconds"`
	BillingCost        float64               `json:"billing_cost"`
	BillingCurrency    string                `json:"billing_currency"`
	BillingRateApplied float64               `json:"billing_rate_applied"`
	HangupCause        string                `json:"hangup_cause,omitempty"`
	FinalStatus        domain.CDRFinalStatus `json:"final_status"`
	StartedAt          *time.Time            `json:"started_at,omitempty"`
	AnsweredAt         *time.Time            `json:"answered_at,omitempty"`
	EndedAt            *time.Time            `json:"ended_at,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
}

type listCDRsResponse struct {
	CDRs          []cdrResponse `json:"cdrs"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

// ingestCDR accepts a raw CDR payload directly over HTTP, the
// synchronous alternative to the Kafka topic.
func (h *HandlerSet) ingestCDR(ctx *fiber.Ctx) error {
	report, err := cdrsvc.ParseReportJSON(ctx.Body())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	record, err := h.cdrs.Ingest(ctx.Context(), report)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toCDRResponse(record))
}

func (h *HandlerSet) getCDR(ctx *fiber.Ctx) error {
	callUUID := ctx.Params("call_uuid")
	if callUUID == "" {
		return fiber.NewError(http.StatusBadRequest, "call uuid is required")
	}

	record, err := h.cdrs.GetByCallUUID(ctx.Context(), callUUID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCDRResponse(record))
}

func (h *HandlerSet) listCampaignCDRs(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))

	var pagingState []byte
	if token := ctx.Query("page_token"); token != "" {
		pagingState, err = base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid page token")
		}
	}

	records, nextState, err := h.cdrs.ListByCampaign(ctx.Context(), id, limit, pagingState)
	if err != nil {
		return translateError(err)
	}

	resp := listCDRsResponse{CDRs: make([]cdrResponse, 0, len(records))}
	for i := range records {
		resp.CDRs = append(resp.CDRs, toCDRResponse(&records[i]))
	}
	if len(nextState) > 0 {
		resp.NextPageToken = base64.RawURLEncoding.EncodeToString(nextState)
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func toCDRResponse(r *domain.CDR) cdrResponse {
	return cdrResponse{
		CallUUID:           r.CallUUID,
		TenantID:           r.TenantID,
		CampaignID:         r.CampaignID,
		LeadID:             r.LeadID,
		JobID:              r.JobID,
		Direction:          r.Direction,
		FromNumber:         r.FromNumber,
		ToNumber:           r.ToNumber,
		DurationSeconds:    r.DurationSeconds,
		BillSeconds:        r.BillSeconds,
		BillingCost:        r.BillingCost,
		BillingCurrency:    r.BillingCurrency,
		BillingRateApplied: r.BillingRateApplied,
		HangupCause:        r.HangupCause,
		FinalStatus:        r.FinalStatus,
		StartedAt:          r.StartedAt,
		AnsweredAt:         r.AnsweredAt,
		EndedAt:            r.EndedAt,
		CreatedAt:          r.CreatedAt,
	}
}
