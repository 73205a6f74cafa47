package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/app/harvester"
	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

// ReadStore is the display/diagnostics slice of the store.
type ReadStore interface {
	ActiveProductsWithLiveRates(ctx context.Context, topN int) ([]model.ProductWithRates, error)
	AllLiveRates(ctx context.Context) ([]model.LiveRateRow, error)
	GetRawProduct(ctx context.Context, productID int64) (model.RawProduct, error)
}

type Handler struct {
	Service *harvester.Service
	Store   ReadStore
	Logger  *zap.Logger
}

func NewHandler(svc *harvester.Service, store ReadStore, logger *zap.Logger) *Handler {
	return &Handler{Service: svc, Store: store, Logger: logger}
}

// POST /harvest?force=true
func (h *Handler) TriggerHarvest(c *fiber.Ctx) error {
	force := c.QueryBool("force", false)

	report, err := h.Service.Run(c.Context(), force)
	if errors.Is(err, model.ErrRunInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"ok":    false,
			"error": "run already in progress",
		})
	}
	if err != nil {
		h.Logger.Error("harvest run failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	// per-product failures do not make the run a failure
	return c.JSON(fiber.Map{
		"ok":                 true,
		"run_id":             report.RunID,
		"forced":             report.Forced,
		"products_processed": report.Processed,
		"products_failed":    report.Failed,
		"timed_out":          report.TimedOut,
		"failures":           report.Failures,
	})
}

// GET /api/v1/products?top=5
func (h *Handler) ListProducts(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	topN := c.QueryInt("top", 0)

	products, err := h.Store.ActiveProductsWithLiveRates(ctx, topN)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, newProductView(p))
	}
	return c.JSON(fiber.Map{"count": len(out), "products": out})
}

// GET /api/v1/rates
func (h *Handler) ListLiveRates(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	rows, err := h.Store.AllLiveRates(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	out := make([]liveRateView, 0, len(rows))
	for _, r := range rows {
		out = append(out, newLiveRateView(r))
	}
	return c.JSON(fiber.Map{"count": len(out), "rates": out})
}

// GET /api/v1/products/:id/raw
func (h *Handler) GetRawSnapshot(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid product id")
	}

	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	raw, err := h.Store.GetRawProduct(ctx, int64(id))
	if errors.Is(err, model.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no snapshot for product")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"product_id": raw.ProductID,
		"fetched_at": raw.FetchedAt,
		"payload":    string(raw.Payload),
	})
}
