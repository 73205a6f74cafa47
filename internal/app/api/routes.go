package api

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(app *fiber.App, h *Handler) {
	app.Post("/harvest", h.TriggerHarvest)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).SendString("ok")
	})

	v1 := app.Group("/api/v1")
	v1.Get("/products", h.ListProducts)
	v1.Get("/rates", h.ListLiveRates)
	v1.Get("/products/:id/raw", h.GetRawSnapshot)
}
