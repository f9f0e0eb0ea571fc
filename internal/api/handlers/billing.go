package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/domain"
)

type billingConfigResponse struct {
	TenantID         uuid.UUID            `json:"tenant_id"`
	Currency         string               `json:"currency"`
	RatePerMinute    float64              `json:"rate_per_minute"`
	IncrementSeconds int                  `json:"increment_seconds"`
	IncrementMode    domain.IncrementMode `json:"increment_mode"`
	SetupFee         float64              `json:"setup_fee"`
	Prepaid          bool                 `json:"prepaid"`
	Balance          float64              `json:"balance"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

type updateBillingConfigRequest struct {
	Currency         *string  `json:"currency"`
	RatePerMinute    *float64 `json:"rate_per_minute"`
	IncrementSeconds *int     `json:"increment_seconds"`
	IncrementMode    *string  `json:"increment_mode"`
	SetupFee         *float64 `json:"setup_fee"`
	Prepaid          *bool    `json:"prepaid"`
}

type topUpRequest struct {
	Amount float64 `json:"amount"`
}

type topUpResponse struct {
	Balance float64 `json:"balance"`
}

func (h *HandlerSet) getBillingConfig(ctx *fiber.Ctx) error {
	tenantID, err := parseUUID(ctx.Params("tenant_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid tenant id")
	}

	cfg, err := h.billing.GetOrCreate(ctx.Context(), tenantID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toBillingConfigResponse(cfg))
}

func (h *HandlerSet) updateBillingConfig(ctx *fiber.Ctx) error {
	tenantID, err := parseUUID(ctx.Params("tenant_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid tenant id")
	}

	var req updateBillingConfigRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	cfg, err := h.billing.GetOrCreate(ctx.Context(), tenantID)
	if err != nil {
		return translateError(err)
	}

	if req.Currency != nil {
		cfg.Currency = *req.Currency
	}
	if req.RatePerMinute != nil {
		if *req.RatePerMinute < 0 {
			return fiber.NewError(http.StatusBadRequest, "rate must not be negative")
		}
		cfg.RatePerMinute = *req.RatePerMinute
	}
	if req.IncrementSeconds != nil {
		if *req.IncrementSeconds <= 0 {
			return fiber.NewError(http.StatusBadRequest, "increment must be positive")
		}
		cfg.IncrementSeconds = *req.IncrementSeconds
	}
	if req.IncrementMode != nil {
		mode := domain.IncrementMode(*req.IncrementMode)
		if mode != domain.IncrementFullBlock && mode != domain.IncrementBlockPlusOne {
			return fiber.NewError(http.StatusBadRequest, "unknown increment mode")
		}
		cfg.IncrementMode = mode
	}
	if req.SetupFee != nil {
		if *req.SetupFee < 0 {
			return fiber.NewError(http.StatusBadRequest, "setup fee must not be negative")
		}
		cfg.SetupFee = *req.SetupFee
	}
	if req.Prepaid != nil {
		cfg.Prepaid = *req.Prepaid
	}

	if err := h.billing.Update(ctx.Context(), cfg); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toBillingConfigResponse(cfg))
}

func (h *HandlerSet) topUpBalance(ctx *fiber.Ctx) error {
	tenantID, err := parseUUID(ctx.Params("tenant_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid tenant id")
	}

	var req topUpRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Amount <= 0 {
		return fiber.NewError(http.StatusBadRequest, "amount must be positive")
	}

	// the lazily created config guarantees a row exists to adjust
	if _, err := h.billing.GetOrCreate(ctx.Context(), tenantID); err != nil {
		return translateError(err)
	}

	balance, err := h.billing.AdjustBalance(ctx.Context(), tenantID, req.Amount)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(topUpResponse{Balance: balance})
}

func toBillingConfigResponse(cfg *domain.BillingConfig) billingConfigResponse {
	return billingConfigResponse{
		TenantID:         cfg.TenantID,
		Currency:         cfg.Currency,
		RatePerMinute:    cfg.RatePerMinute,
		IncrementSeconds: cfg.IncrementSeconds,
		IncrementMode:    cfg.IncrementMode,
		SetupFee:         cfg.SetupFee,
		Prepaid:          cfg.Prepaid,
		Balance:          cfg.Balance,
		UpdatedAt:        cfg.UpdatedAt,
	}
}
