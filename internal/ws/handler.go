package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/zapdesk/zapdesk-backend/internal/dashboard"
	"github.com/zapdesk/zapdesk-backend/internal/metrics"
	"github.com/zapdesk/zapdesk-backend/internal/middleware"
	"github.com/zapdesk/zapdesk-backend/internal/models"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
	"github.com/zapdesk/zapdesk-backend/internal/whatsapp"
)

// Frame is one client request over the dashboard socket. Every frame gets
// exactly one response carrying the same id.
type Frame struct {
	Event string          `json:"event"`
	ID    int64           `json:"id"`
	Data  json.RawMessage `json:"data"`
}

type response struct {
	Event string `json:"event"`
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler serves the realtime dashboard socket.
type Handler struct {
	hub      *Hub
	store    storage.Store
	manager  *whatsapp.Manager
	router   *whatsapp.Router
	emitter  *dashboard.Emitter
	recorder *metrics.Recorder
	faqDir   string
}

// NewHandler creates the websocket handler.
func NewHandler(hub *Hub, store storage.Store, manager *whatsapp.Manager, router *whatsapp.Router, emitter *dashboard.Emitter, recorder *metrics.Recorder, faqDir string) *Handler {
	return &Handler{
		hub:      hub,
		store:    store,
		manager:  manager,
		router:   router,
		emitter:  emitter,
		recorder: recorder,
		faqDir:   faqDir,
	}
}

// Upgrade gates plain HTTP requests out of the websocket route.
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Serve returns the fiber handler running the socket loop.
func (h *Handler) Serve() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *Handler) serve(conn *websocket.Conn) {
	cl := &client{conn: conn}
	userID := ""
	defer func() {
		if userID != "" {
			h.hub.leave(userID, cl)
		}
		conn.Close()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		if frame.Event == "authenticate" {
			userID = h.authenticate(cl, frame, userID)
			continue
		}
		if userID == "" {
			h.reply(cl, frame.ID, nil, errors.New("not authenticated"))
			continue
		}

		switch frame.Event {
		case "get_bot_config":
			data, err := h.getBotConfig(userID)
			h.reply(cl, frame.ID, data, err)
		case "save_bot_config":
			data, err := h.saveBotConfig(userID, frame.Data)
			h.reply(cl, frame.ID, data, err)
		case "send-message":
			data, err := h.sendMessage(userID, frame.Data)
			h.reply(cl, frame.ID, data, err)
		default:
			h.reply(cl, frame.ID, nil, errors.New("unknown event: "+frame.Event))
		}
	}
}

// authenticate binds the connection to a user. On success the client joins
// the user's room and gets a first dashboard snapshot pushed.
func (h *Handler) authenticate(cl *client, frame Frame, current string) string {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		cl.send(serverEvent{Event: "auth_failed"})
		h.reply(cl, frame.ID, nil, errors.New("bad authenticate payload"))
		return current
	}

	userID, err := middleware.ParseToken(payload.Token)
	if err != nil {
		cl.send(serverEvent{Event: "auth_failed"})
		h.reply(cl, frame.ID, nil, errors.New("invalid token"))
		return current
	}

	if current != "" && current != userID {
		h.hub.leave(current, cl)
	}
	h.hub.join(userID, cl)
	cl.send(serverEvent{Event: "auth_success", Data: fiber.Map{"userId": userID}})
	h.reply(cl, frame.ID, fiber.Map{"userId": userID}, nil)
	h.emitter.Push(userID)
	return userID
}

func (h *Handler) getBotConfig(userID string) (any, error) {
	cfg, err := h.store.GetBotConfig(userID)
	if errors.Is(err, storage.ErrNotFound) {
		cfg = &models.BotConfig{UserID: userID, PauseKeyword: ""}
	} else if err != nil {
		return nil, err
	}
	if faq, err := os.ReadFile(whatsapp.FAQPath(h.faqDir, userID)); err == nil {
		cfg.FAQ = string(faq)
	}
	return cfg, nil
}

func (h *Handler) saveBotConfig(userID string, raw json.RawMessage) (any, error) {
	// FAQ is a pointer so an omitted field never truncates the side file;
	// an explicit empty string still clears it.
	var payload struct {
		models.BotConfig
		FAQ *string `json:"faq"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.New("bad config payload")
	}
	cfg := payload.BotConfig
	cfg.UserID = userID

	if _, err := cfg.ReplyTable(); err != nil {
		return nil, errors.New("invalid canned responses")
	}

	if err := h.store.SaveBotConfig(&cfg); err != nil {
		return nil, err
	}
	if payload.FAQ != nil {
		if err := os.MkdirAll(h.faqDir, 0o755); err != nil {
			log.Printf("⚠️  Failed to create FAQ directory: %v", err)
		} else if err := os.WriteFile(whatsapp.FAQPath(h.faqDir, userID), []byte(*payload.FAQ), 0o644); err != nil {
			log.Printf("⚠️  Failed to write FAQ file for %s: %v", userID, err)
		}
	}

	h.router.InvalidateConfig(userID)
	h.recorder.Activity(userID, "bot settings updated")
	h.emitter.Push(userID)
	return fiber.Map{"saved": true}, nil
}

func (h *Handler) sendMessage(userID string, raw json.RawMessage) (any, error) {
	var payload struct {
		To    string                  `json:"to"`
		Text  string                  `json:"text"`
		Media *whatsapp.OutboundMedia `json:"media"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.New("bad send payload")
	}

	sender, err := h.manager.SenderFor(userID)
	if err != nil {
		return nil, err
	}
	if err := h.router.ManualSend(context.Background(), userID, sender, payload.To, payload.Text, payload.Media); err != nil {
		return nil, err
	}
	return fiber.Map{"sent": true}, nil
}

func (h *Handler) reply(cl *client, id int64, data any, err error) {
	resp := response{Event: "response", ID: id, OK: err == nil, Data: data}
	if err != nil {
		resp.Error = err.Error()
	}
	if sendErr := cl.send(resp); sendErr != nil {
		log.Printf("⚠️  Websocket response write failed: %v", sendErr)
	}
}
