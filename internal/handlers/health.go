package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/zapdesk/zapdesk-backend/internal/whatsapp"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	Version  string
	registry *whatsapp.Registry
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, registry *whatsapp.Registry) *HealthHandler {
	return &HealthHandler{
		Version:  version,
		registry: registry,
	}
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "OK",
		"service":  "ZapDesk Backend",
		"version":  h.Version,
		"sessions": h.registry.Count(),
	})
}
