package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/pbx-autodialer/internal/app"
	"github.com/acme/pbx-autodialer/internal/repository"
	campaignsvc "github.com/acme/pbx-autodialer/internal/service/campaign"
	cdrsvc "github.com/acme/pbx-autodialer/internal/service/cdr"
	jobsvc "github.com/acme/pbx-autodialer/internal/service/job"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	campaigns *campaignsvc.Service
	jobs      *jobsvc.Service
	cdrs      *cdrsvc.Service
	billing   repository.BillingConfigRepository
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return &HandlerSet{
		container: container,
		campaigns: services.Campaign,
		jobs:      services.Job,
		cdrs:      services.CDR,
		billing:   container.Repositories().Billing,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Put("/:id", h.updateCampaign)
	campaigns.Delete("/:id", h.deleteCampaign)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/complete", h.completeCampaign)
	campaigns.Post("/:id/archive", h.archiveCampaign)
	campaigns.Get("/:id/stats", h.campaignStats)
	campaigns.Post("/:id/leads", h.addLeads)
	campaigns.Get("/:id/leads", h.listLeads)
	campaigns.Post("/:id/schedule", h.scheduleBatch)
	campaigns.Get("/:id/jobs", h.listCampaignJobs)
	campaigns.Get("/:id/cdrs", h.listCampaignCDRs)

	jobs := v1.Group("/jobs")
	jobs.Get("/:id", h.getJob)
	jobs.Post("/:id/cancel", h.cancelJob)

	cdr := v1.Group("/cdr")
	cdr.Post("/", h.ingestCDR)
	cdr.Get("/:call_uuid", h.getCDR)

	billing := v1.Group("/billing")
	billing.Get("/:tenant_id", h.getBillingConfig)
	billing.Put("/:tenant_id", h.updateBillingConfig)
	billing.Post("/:tenant_id/topup", h.topUpBalance)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
