package whatsapp

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/zapdesk/zapdesk-backend/internal/cache"
	"github.com/zapdesk/zapdesk-backend/internal/dashboard"
	"github.com/zapdesk/zapdesk-backend/internal/metrics"
	"github.com/zapdesk/zapdesk-backend/internal/models"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
)

const (
	historyLimit       = 10
	defaultCannedDelay = 500 * time.Millisecond

	// handoffMessage is the fixed reply sent when a contact types the
	// configured pause keyword.
	handoffMessage = "Ok! A human agent will continue this conversation shortly."
)

// Router processes inbound protocol messages: persists them, keeps tickets
// up to date and decides whether and how to auto-reply.
type Router struct {
	store     storage.Store
	recorder  *metrics.Recorder
	dashboard *dashboard.Emitter
	media     *MediaStore
	ai        Responder
	faqDir    string

	configs *cache.Cache[*models.BotConfig]
	history *cache.Cache[[]*models.Message]

	now   func() time.Time
	sleep func(time.Duration)
}

// NewRouter creates a message router.
func NewRouter(store storage.Store, recorder *metrics.Recorder, emitter *dashboard.Emitter, media *MediaStore, ai Responder, faqDir string) *Router {
	return &Router{
		store:     store,
		recorder:  recorder,
		dashboard: emitter,
		media:     media,
		ai:        ai,
		faqDir:    faqDir,
		configs:   cache.New[*models.BotConfig](cache.DefaultTTL),
		history:   cache.New[[]*models.Message](cache.DefaultTTL),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// FAQPath returns the per-user FAQ side file location.
func FAQPath(faqDir, userID string) string {
	return filepath.Join(faqDir, userID+".txt")
}

// InvalidateConfig drops the cached bot configuration after a save.
func (r *Router) InvalidateConfig(userID string) {
	r.configs.Invalidate(userID)
}

// HandleInbound routes one inbound message event for a user's session.
func (r *Router) HandleInbound(ctx context.Context, userID string, sender Sender, evt *events.Message) {
	if evt.Info.IsFromMe || evt.Message == nil || evt.Info.IsGroup {
		return
	}

	phone := evt.Info.Sender.User
	name := evt.Info.PushName
	if name == "" {
		name = phone
	}

	r.recorder.Activity(userID, "message received from "+name)

	now := r.now()
	var record *models.Message

	kind := classifyKind(evt.Message)
	if kind == models.MessageKindText {
		text := strings.TrimSpace(extractText(evt.Message))
		if text == "" {
			// Empty messages are dropped silently
			return
		}
		record = models.NewTextMessage(userID, phone, text, models.SenderContact, now)
	} else {
		url := ""
		data, err := sender.Download(ctx, evt.Message)
		if err != nil {
			// Ticket bookkeeping still proceeds in degraded form
			log.Printf("⚠️  Media download failed for %s: %v", userID, err)
		} else if url, err = r.media.Save(userID, kind, data); err != nil {
			log.Printf("⚠️  Media save failed for %s: %v", userID, err)
			url = ""
		}
		preview := mediaCaption(evt.Message)
		if preview == "" {
			preview = models.MediaTag(kind)
		}
		record = models.NewMediaMessage(userID, phone, kind, preview, url, models.SenderContact, now)
	}

	r.appendMessage(record)
	ticket := r.upsertInboundTicket(userID, phone, name, record.Text, now)
	r.dashboard.Push(userID)
	if ticket == nil {
		return
	}

	r.autoReply(ctx, userID, sender, ticket, record.Text)
}

// autoReply runs the keyword-pause / canned-response / AI decision chain.
func (r *Router) autoReply(ctx context.Context, userID string, sender Sender, ticket *models.Ticket, text string) {
	cfg := r.botConfig(userID)
	if !cfg.AutomationEnabled() {
		return
	}
	if ticket.BotPaused {
		return
	}

	lower := strings.ToLower(strings.TrimSpace(text))

	if cfg.PauseKeyword != "" && lower == strings.ToLower(cfg.PauseKeyword) {
		ticket.BotPaused = true
		if err := r.store.SaveTicket(ticket); err != nil {
			log.Printf("⚠️  Failed to pause ticket %s/%s: %v", userID, ticket.Phone, err)
		}
		r.sendReply(ctx, userID, sender, ticket, handoffMessage)
		r.takeResponseSample(ticket)
		r.recorder.Activity(userID, "bot paused for human handoff")
		r.dashboard.Push(userID)
		return
	}

	if cfg.CannedEnabled {
		table, err := cfg.ReplyTable()
		if err != nil {
			log.Printf("⚠️  Bad canned-response table for %s: %v", userID, err)
			return
		}
		replies := table[lower]
		if len(replies) == 0 {
			replies = table[models.DefaultCannedKeyword]
		}
		if len(replies) == 0 {
			return
		}
		for _, reply := range replies {
			delay := time.Duration(reply.Delay) * time.Millisecond
			if reply.Delay <= 0 {
				delay = defaultCannedDelay
			}
			r.sleep(delay)
			r.sendReply(ctx, userID, sender, ticket, reply.Text)
		}
		r.takeResponseSample(ticket)
		r.dashboard.Push(userID)
		return
	}

	if cfg.AIEnabled && cfg.AIKey != "" {
		history := r.ticketHistory(userID, ticket.Phone)
		// The new message is already persisted; the prompt adds it itself
		if n := len(history); n > 0 && history[n-1].Sender == models.SenderContact && history[n-1].Text == text {
			history = history[:n-1]
		}
		answer, err := r.ai.Reply(ctx, cfg, history, text)
		if err != nil {
			log.Printf("⚠️  AI reply failed for %s: %v", userID, err)
			return
		}
		if answer == "" {
			return
		}
		r.sendReply(ctx, userID, sender, ticket, answer)
		r.takeResponseSample(ticket)
		r.dashboard.Push(userID)
	}
}

// OutboundMedia references a previously uploaded file for a manual send.
type OutboundMedia struct {
	Path     string `json:"path"`
	Mimetype string `json:"mimetype"`
	Name     string `json:"name"`
}

// ManualSend is the operator-initiated send path.
func (r *Router) ManualSend(ctx context.Context, userID string, sender Sender, to, text string, media *OutboundMedia) error {
	to = strings.TrimSpace(strings.TrimPrefix(to, "+"))
	if to == "" {
		return errors.New("missing phone number")
	}
	if media == nil && strings.TrimSpace(text) == "" {
		return errors.New("missing message body")
	}

	now := r.now()
	var record *models.Message

	if media != nil {
		full, err := r.media.Resolve(userID, media.Path)
		if err != nil {
			return err
		}
		if err := sender.SendMedia(ctx, to, full, media.Mimetype, text); err != nil {
			r.recorder.MessageFailed(userID)
			r.recorder.Activity(userID, "failed to send message to "+to)
			return err
		}
		kind := models.MessageKindDocument
		if strings.HasPrefix(media.Mimetype, "image/") {
			kind = models.MessageKindImage
		}
		preview := strings.TrimSpace(text)
		if preview == "" {
			preview = models.MediaTag(kind)
		}
		record = models.NewMediaMessage(userID, to, kind, preview,
			r.media.URLFor(userID, filepath.Base(media.Path)), models.SenderUser, now)
	} else {
		trimmed := strings.TrimSpace(text)
		if err := sender.SendText(ctx, to, trimmed); err != nil {
			r.recorder.MessageFailed(userID)
			r.recorder.Activity(userID, "failed to send message to "+to)
			return err
		}
		record = models.NewTextMessage(userID, to, trimmed, models.SenderUser, now)
	}

	r.appendMessage(record)
	r.recorder.MessageSent(userID)
	r.updateTicketForOutbound(userID, to, record.Text, now)
	r.recorder.Activity(userID, "message sent to "+to)
	r.dashboard.Push(userID)
	return nil
}

// sendReply sends an automatic reply and persists it as an outbound record.
func (r *Router) sendReply(ctx context.Context, userID string, sender Sender, ticket *models.Ticket, text string) {
	if err := sender.SendText(ctx, ticket.Phone, text); err != nil {
		log.Printf("⚠️  Auto-reply send failed for %s: %v", userID, err)
		r.recorder.MessageFailed(userID)
		return
	}
	now := r.now()
	r.appendMessage(models.NewTextMessage(userID, ticket.Phone, text, models.SenderUser, now))
	r.recorder.MessageSent(userID)
	ticket.Preview = text
	ticket.LastMessageAt = now
	if err := r.store.SaveTicket(ticket); err != nil {
		log.Printf("⚠️  Failed to update ticket %s/%s: %v", userID, ticket.Phone, err)
	}
}

// takeResponseSample measures now minus the ticket's last-inbound marker and
// clears the marker so a second reply never double-counts.
func (r *Router) takeResponseSample(ticket *models.Ticket) {
	if ticket.LastInboundAt == nil {
		return
	}
	elapsed := r.now().Sub(*ticket.LastInboundAt)
	if elapsed < 0 {
		elapsed = 0
	}
	r.recorder.ResponseSample(ticket.UserID, elapsed)
	ticket.LastInboundAt = nil
	if err := r.store.SaveTicket(ticket); err != nil {
		log.Printf("⚠️  Failed to clear inbound marker for %s/%s: %v", ticket.UserID, ticket.Phone, err)
	}
}

func (r *Router) appendMessage(msg *models.Message) {
	if err := r.store.AppendMessage(msg); err != nil {
		log.Printf("⚠️  Failed to persist message for %s: %v", msg.UserID, err)
	}
	r.history.Invalidate(msg.UserID + "|" + msg.Phone)
}

// upsertInboundTicket creates or refreshes the contact's ticket for an inbound
// message, applying the reopening rule for completed tickets.
func (r *Router) upsertInboundTicket(userID, phone, name, preview string, now time.Time) *models.Ticket {
	ticket, err := r.store.GetTicket(userID, phone)
	if errors.Is(err, storage.ErrNotFound) {
		ticket = &models.Ticket{
			UserID: userID,
			Phone:  phone,
			Name:   name,
			Status: models.TicketStatusPending,
		}
	} else if err != nil {
		log.Printf("⚠️  Failed to load ticket %s/%s: %v", userID, phone, err)
		return nil
	}

	ticket.Name = name
	ticket.Preview = preview
	ticket.LastMessageAt = now
	if ticket.LastInboundAt == nil {
		inbound := now
		ticket.LastInboundAt = &inbound
	}
	if ticket.Reopen() {
		r.recorder.Activity(userID, "ticket reopened")
	}
	if err := r.store.SaveTicket(ticket); err != nil {
		log.Printf("⚠️  Failed to save ticket %s/%s: %v", userID, phone, err)
		return nil
	}
	return ticket
}

func (r *Router) updateTicketForOutbound(userID, phone, preview string, now time.Time) {
	ticket, err := r.store.GetTicket(userID, phone)
	if errors.Is(err, storage.ErrNotFound) {
		ticket = &models.Ticket{
			UserID: userID,
			Phone:  phone,
			Name:   phone,
			Status: models.TicketStatusPending,
		}
	} else if err != nil {
		log.Printf("⚠️  Failed to load ticket %s/%s: %v", userID, phone, err)
		return
	}
	ticket.Preview = preview
	ticket.LastMessageAt = now
	if err := r.store.SaveTicket(ticket); err != nil {
		log.Printf("⚠️  Failed to save ticket %s/%s: %v", userID, phone, err)
	}
}

// botConfig reads the user's configuration through the 5-minute cache,
// merging in the FAQ side file when AI mode is enabled.
func (r *Router) botConfig(userID string) *models.BotConfig {
	if cfg, ok := r.configs.Get(userID); ok {
		return cfg
	}
	cfg, err := r.store.GetBotConfig(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		log.Printf("⚠️  Failed to load bot config for %s: %v", userID, err)
		return nil
	}
	if cfg.AIEnabled {
		if faq, err := os.ReadFile(FAQPath(r.faqDir, userID)); err == nil {
			cfg.FAQ = string(faq)
		}
	}
	r.configs.Set(userID, cfg)
	return cfg
}

// ticketHistory returns the last messages of a ticket in ascending
// chronological order, through the history cache.
func (r *Router) ticketHistory(userID, phone string) []*models.Message {
	key := userID + "|" + phone
	if history, ok := r.history.Get(key); ok {
		return history
	}
	recent, err := r.store.GetRecentMessages(userID, phone, historyLimit)
	if err != nil {
		log.Printf("⚠️  Failed to load history for %s/%s: %v", userID, phone, err)
		return nil
	}
	// Descending-limited query, reversed into chronological order
	history := make([]*models.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		history = append(history, recent[i])
	}
	r.history.Set(key, history)
	return history
}

// classifyKind maps the payload shape to a message kind; anything that is not
// image, audio or video is treated as text.
func classifyKind(msg *waE2E.Message) string {
	switch {
	case msg.GetImageMessage() != nil:
		return models.MessageKindImage
	case msg.GetAudioMessage() != nil:
		return models.MessageKindAudio
	case msg.GetVideoMessage() != nil:
		return models.MessageKindVideo
	default:
		return models.MessageKindText
	}
}

func extractText(msg *waE2E.Message) string {
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func mediaCaption(msg *waE2E.Message) string {
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}
