package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/zapdesk/zapdesk-backend/internal/dashboard"
	"github.com/zapdesk/zapdesk-backend/internal/handlers"
	"github.com/zapdesk/zapdesk-backend/internal/metrics"
	"github.com/zapdesk/zapdesk-backend/internal/middleware"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
	"github.com/zapdesk/zapdesk-backend/internal/whatsapp"
	"github.com/zapdesk/zapdesk-backend/internal/ws"
)

// Deps carries the shared components the route handlers need.
type Deps struct {
	Store    storage.Store
	Registry *whatsapp.Registry
	Manager  *whatsapp.Manager
	Router   *whatsapp.Router
	Media    *whatsapp.MediaStore
	Emitter  *dashboard.Emitter
	Recorder *metrics.Recorder
	Hub      *ws.Hub
	FAQDir   string
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, deps Deps) {
	healthHandler := handlers.NewHealthHandler("1.0.0", deps.Registry)
	whatsappHandler := handlers.NewWhatsAppHandler(deps.Manager, deps.Media)
	ticketHandler := handlers.NewTicketHandler(deps.Store, deps.Emitter)
	wsHandler := ws.NewHandler(deps.Hub, deps.Store, deps.Manager, deps.Router, deps.Emitter, deps.Recorder, deps.FAQDir)

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to ZapDesk Backend!",
			"version": "1.0.0",
			"endpoints": fiber.Map{
				"health": "/health",
				"api":    "/api",
				"socket": "/ws",
			},
		})
	})

	app.Get("/health", healthHandler.Check)

	// API routes (all behind dashboard auth)
	api := app.Group("/api", middleware.RequireAuth())

	wa := api.Group("/whatsapp")
	wa.Post("/connect", whatsappHandler.Connect)
	wa.Post("/request-pairing-code", whatsappHandler.RequestPairingCode)
	wa.Post("/logout", whatsappHandler.Logout)
	wa.Post("/upload-media", whatsappHandler.UploadMedia)

	tickets := api.Group("/tickets")
	tickets.Get("/", ticketHandler.List)
	tickets.Get("/:phone/messages", ticketHandler.Messages)
	tickets.Patch("/:phone", ticketHandler.Update)
	tickets.Delete("/:phone", ticketHandler.Delete)

	// Realtime dashboard socket; authentication happens in-band on the socket
	app.Use("/ws", ws.Upgrade)
	app.Get("/ws", wsHandler.Serve())
}
