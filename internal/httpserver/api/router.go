package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/formsight/formsight/internal/app"
)

// Register wires the authenticated insights endpoints.
func Register(fiberApp *fiber.App, container *app.Container) {
	if fiberApp == nil || container == nil {
		return
	}

	handler := &insightsHandler{
		container: container,
		service:   container.Insights,
	}

	group := fiberApp.Group("/v1/insights", authMiddleware(container))
	group.Post("/ask", handler.ask)
	group.Get("/quota", handler.quotaStatus)
	group.Get("/conversations/:conversationID", handler.conversation)
}
