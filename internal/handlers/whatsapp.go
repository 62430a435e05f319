package handlers

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/zapdesk/zapdesk-backend/internal/whatsapp"
)

var phonePattern = regexp.MustCompile(`^[0-9]{7,15}$`)

// WhatsAppHandler handles session lifecycle and media upload requests
type WhatsAppHandler struct {
	manager *whatsapp.Manager
	media   *whatsapp.MediaStore
}

// NewWhatsAppHandler creates a new WhatsApp session handler
func NewWhatsAppHandler(manager *whatsapp.Manager, media *whatsapp.MediaStore) *WhatsAppHandler {
	return &WhatsAppHandler{
		manager: manager,
		media:   media,
	}
}

// Connect starts (or restarts) the caller's session; linking happens over QR
func (h *WhatsAppHandler) Connect(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	if err := h.manager.StartSession(c.Context(), userID, ""); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to start session: " + err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Session starting",
	})
}

// RequestPairingCode starts a fresh session linked by phone number code
func (h *WhatsAppHandler) RequestPairingCode(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	var req struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	phone := normalizePhone(req.PhoneNumber)
	if !phonePattern.MatchString(phone) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid phone number",
		})
	}

	if err := h.manager.StartSession(c.Context(), userID, phone); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to start session: " + err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Pairing code requested",
	})
}

// Logout unlinks the device and removes stored credentials
func (h *WhatsAppHandler) Logout(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	if err := h.manager.Logout(c.Context(), userID); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Logged out",
	})
}

// UploadMedia stores a dashboard-uploaded file for a later send-message frame
func (h *WhatsAppHandler) UploadMedia(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing file",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Failed to read file",
		})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Failed to read file",
		})
	}

	userDir, err := h.media.UserDir(userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to store file",
		})
	}

	filename := uuid.NewString() + strings.ToLower(filepath.Ext(fileHeader.Filename))
	if err := os.WriteFile(filepath.Join(userDir, filename), data, 0o644); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to store file",
		})
	}

	mimetype := fileHeader.Header.Get("Content-Type")
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}

	return c.JSON(fiber.Map{
		"path":     filename,
		"mimetype": mimetype,
		"name":     fileHeader.Filename,
	})
}

func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")
	return phone
}
