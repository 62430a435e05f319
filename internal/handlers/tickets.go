package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/zapdesk/zapdesk-backend/internal/dashboard"
	"github.com/zapdesk/zapdesk-backend/internal/models"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
)

// TicketHandler serves the kanban board endpoints
type TicketHandler struct {
	store   storage.Store
	emitter *dashboard.Emitter
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(store storage.Store, emitter *dashboard.Emitter) *TicketHandler {
	return &TicketHandler{
		store:   store,
		emitter: emitter,
	}
}

// List returns every ticket of the caller
func (h *TicketHandler) List(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	tickets, err := h.store.GetTickets(userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load tickets",
		})
	}

	return c.JSON(fiber.Map{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// Messages returns the stored conversation of one ticket, oldest first
func (h *TicketHandler) Messages(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	phone := c.Params("phone")

	recent, err := h.store.GetRecentMessages(userID, phone, models.MaxMessagesPerTicket)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load messages",
		})
	}

	// Stored newest-first; the conversation view wants chronological order
	messages := make([]*models.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		messages = append(messages, recent[i])
	}

	return c.JSON(fiber.Map{
		"messages": messages,
		"count":    len(messages),
	})
}

// Update moves a ticket across the board and toggles the bot pause flag
func (h *TicketHandler) Update(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	phone := c.Params("phone")

	var req struct {
		Status    *string `json:"status"`
		BotPaused *bool   `json:"botPaused"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ticket, err := h.store.GetTicket(userID, phone)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"error": "Ticket not found",
		})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load ticket",
		})
	}

	if req.Status != nil {
		switch *req.Status {
		case models.TicketStatusPending, models.TicketStatusInProgress, models.TicketStatusCompleted:
			ticket.Status = *req.Status
		default:
			return c.Status(400).JSON(fiber.Map{
				"error": "Invalid status",
			})
		}
	}
	if req.BotPaused != nil {
		ticket.BotPaused = *req.BotPaused
	}

	if err := h.store.SaveTicket(ticket); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to save ticket",
		})
	}

	h.emitter.Push(userID)
	return c.JSON(ticket)
}

// Delete removes a ticket and its stored conversation
func (h *TicketHandler) Delete(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	phone := c.Params("phone")

	if err := h.store.DeleteTicket(userID, phone); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{
				"error": "Ticket not found",
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to delete ticket",
		})
	}

	h.emitter.Push(userID)
	return c.JSON(fiber.Map{
		"message": "Ticket deleted",
	})
}
