package whatsapp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/zapdesk/zapdesk-backend/internal/dashboard"
	"github.com/zapdesk/zapdesk-backend/internal/metrics"
	"github.com/zapdesk/zapdesk-backend/internal/models"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
)

const (
	testUser  = "u1"
	testPhone = "5511988887777"
)

type sentText struct {
	phone string
	text  string
}

type sentMedia struct {
	phone    string
	path     string
	mimetype string
	caption  string
}

type fakeSender struct {
	texts       []sentText
	media       []sentMedia
	download    []byte
	downloadErr error
	textErr     error
}

func (f *fakeSender) SendText(_ context.Context, phone, text string) error {
	if f.textErr != nil {
		return f.textErr
	}
	f.texts = append(f.texts, sentText{phone: phone, text: text})
	return nil
}

func (f *fakeSender) SendMedia(_ context.Context, phone, path, mimetype, caption string) error {
	f.media = append(f.media, sentMedia{phone: phone, path: path, mimetype: mimetype, caption: caption})
	return nil
}

func (f *fakeSender) Download(_ context.Context, _ *waE2E.Message) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.download, nil
}

type fakeResponder struct {
	answer      string
	err         error
	called      bool
	gotFAQ      string
	gotHistory  []*models.Message
	gotIncoming string
}

func (f *fakeResponder) Reply(_ context.Context, cfg *models.BotConfig, history []*models.Message, incoming string) (string, error) {
	f.called = true
	f.gotFAQ = cfg.FAQ
	f.gotHistory = history
	f.gotIncoming = incoming
	return f.answer, f.err
}

type fakeHub struct{}

func (fakeHub) Emit(string, string, interface{}) {}
func (fakeHub) HasSubscribers(string) bool       { return false }

type routerFixture struct {
	router *Router
	store  *storage.MemoryStore
	sender *fakeSender
	ai     *fakeResponder
	slept  []time.Duration
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	recorder := metrics.NewRecorder(store)
	emitter := dashboard.NewEmitter(store, fakeHub{}, NewRegistry())
	media := NewMediaStore(t.TempDir(), "http://localhost:8080")
	ai := &fakeResponder{}

	f := &routerFixture{
		store:  store,
		sender: &fakeSender{},
		ai:     ai,
	}
	f.router = NewRouter(store, recorder, emitter, media, ai, t.TempDir())
	f.router.sleep = func(d time.Duration) {
		f.slept = append(f.slept, d)
	}
	return f
}

func (f *routerFixture) saveConfig(t *testing.T, cfg *models.BotConfig) {
	t.Helper()
	cfg.UserID = testUser
	require.NoError(t, f.store.SaveBotConfig(cfg))
}

func (f *routerFixture) todayStats(t *testing.T) *models.DailyStats {
	t.Helper()
	stats, err := f.store.GetDailyStats(testUser, models.DayKey(time.Now()))
	if errors.Is(err, storage.ErrNotFound) {
		return &models.DailyStats{}
	}
	require.NoError(t, err)
	return stats
}

func inboundEvent(msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender: types.NewJID(testPhone, types.DefaultUserServer),
			},
			PushName:  "Maria",
			Timestamp: time.Now(),
		},
		Message: msg,
	}
}

func inboundText(text string) *events.Message {
	return inboundEvent(&waE2E.Message{Conversation: proto.String(text)})
}

func cannedConfig(t *testing.T) *models.BotConfig {
	t.Helper()
	cfg := &models.BotConfig{CannedEnabled: true, PauseKeyword: "atendente"}
	require.NoError(t, cfg.SetReplyTable(map[string][]models.CannedReply{
		"oi": {{Text: "Olá! Como posso ajudar?"}},
		"menu": {
			{Text: "1) Pedidos", Delay: 100},
			{Text: "2) Suporte", Delay: 100},
		},
	}))
	return cfg
}

func TestInboundCreatesPendingTicket(t *testing.T) {
	f := newRouterFixture(t)

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("preciso de ajuda"))

	ticket, err := f.store.GetTicket(testUser, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, ticket.Status)
	assert.Equal(t, "Maria", ticket.Name)
	assert.Equal(t, "preciso de ajuda", ticket.Preview)
	require.NotNil(t, ticket.LastInboundAt)

	count, err := f.store.CountMessages(testUser, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	entries, err := f.store.GetRecentActivity(testUser, 5)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "message received from Maria", entries[0].Message)
}

func TestIgnoredEvents(t *testing.T) {
	f := newRouterFixture(t)

	own := inboundText("自分")
	own.Info.IsFromMe = true
	f.router.HandleInbound(context.Background(), testUser, f.sender, own)

	group := inboundText("grupo")
	group.Info.IsGroup = true
	f.router.HandleInbound(context.Background(), testUser, f.sender, group)

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("   "))
	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundEvent(nil))

	_, err := f.store.GetTicket(testUser, testPhone)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCannedReplyMatchesCaseInsensitively(t *testing.T) {
	f := newRouterFixture(t)
	f.saveConfig(t, cannedConfig(t))

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("Oi"))

	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, "Olá! Como posso ajudar?", f.sender.texts[0].text)
	assert.Equal(t, testPhone, f.sender.texts[0].phone)

	// Unset delay falls back to the default
	require.Len(t, f.slept, 1)
	assert.Equal(t, defaultCannedDelay, f.slept[0])

	// Inbound plus the reply
	count, err := f.store.CountMessages(testUser, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stats := f.todayStats(t)
	assert.Equal(t, 1, stats.MessagesSent)
	assert.Equal(t, 1, stats.ResponseCount)
}

func TestCannedFallsBackToMenu(t *testing.T) {
	f := newRouterFixture(t)
	f.saveConfig(t, cannedConfig(t))

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("qualquer coisa"))

	require.Len(t, f.sender.texts, 2)
	assert.Equal(t, "1) Pedidos", f.sender.texts[0].text)
	assert.Equal(t, "2) Suporte", f.sender.texts[1].text)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, f.slept)

	// One sample for the whole burst
	assert.Equal(t, 1, f.todayStats(t).ResponseCount)
}

func TestCannedWithoutMatchOrMenuStaysQuiet(t *testing.T) {
	f := newRouterFixture(t)
	cfg := &models.BotConfig{CannedEnabled: true}
	require.NoError(t, cfg.SetReplyTable(map[string][]models.CannedReply{
		"oi": {{Text: "Olá!"}},
	}))
	f.saveConfig(t, cfg)

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("tchau"))

	assert.Empty(t, f.sender.texts)
}

func TestPauseKeywordHandsOff(t *testing.T) {
	f := newRouterFixture(t)
	f.saveConfig(t, cannedConfig(t))

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("  Atendente "))

	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, handoffMessage, f.sender.texts[0].text)

	ticket, err := f.store.GetTicket(testUser, testPhone)
	require.NoError(t, err)
	assert.True(t, ticket.BotPaused)
	assert.Nil(t, ticket.LastInboundAt)

	entries, err := f.store.GetRecentActivity(testUser, 5)
	require.NoError(t, err)
	assert.Equal(t, "bot paused for human handoff", entries[0].Message)
}

func TestPausedTicketSkipsAutomation(t *testing.T) {
	f := newRouterFixture(t)
	f.saveConfig(t, cannedConfig(t))
	require.NoError(t, f.store.SaveTicket(&models.Ticket{
		UserID:    testUser,
		Phone:     testPhone,
		Status:    models.TicketStatusInProgress,
		BotPaused: true,
	}))

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("oi"))

	assert.Empty(t, f.sender.texts)
}

func TestReopensCompletedTicket(t *testing.T) {
	f := newRouterFixture(t)
	require.NoError(t, f.store.SaveTicket(&models.Ticket{
		UserID:    testUser,
		Phone:     testPhone,
		Status:    models.TicketStatusCompleted,
		BotPaused: true,
	}))

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("voltei"))

	ticket, err := f.store.GetTicket(testUser, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, ticket.Status)
	assert.False(t, ticket.BotPaused)

	entries, err := f.store.GetRecentActivity(testUser, 5)
	require.NoError(t, err)
	messages := []string{}
	for _, entry := range entries {
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, "ticket reopened")
}

func TestAIReplyUsesHistoryAndFAQ(t *testing.T) {
	f := newRouterFixture(t)

	faq := "Q: Horário?\nA: 9h às 18h"
	require.NoError(t, os.WriteFile(FAQPath(f.router.faqDir, testUser), []byte(faq), 0o644))
	f.saveConfig(t, &models.BotConfig{AIEnabled: true, AIKey: "sk-test"})

	base := time.Now().Add(-time.Hour)
	for i, text := range []string{"primeira", "segunda"} {
		require.NoError(t, f.store.AppendMessage(
			models.NewTextMessage(testUser, testPhone, text, models.SenderContact, base.Add(time.Duration(i)*time.Minute))))
	}

	f.ai.answer = "Funcionamos das 9h às 18h."
	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("qual o horário?"))

	require.True(t, f.ai.called)
	assert.Equal(t, "qual o horário?", f.ai.gotIncoming)
	assert.Equal(t, faq, f.ai.gotFAQ)
	// History is chronological and excludes the message being answered
	require.Len(t, f.ai.gotHistory, 2)
	assert.Equal(t, "primeira", f.ai.gotHistory[0].Text)
	assert.Equal(t, "segunda", f.ai.gotHistory[1].Text)

	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, "Funcionamos das 9h às 18h.", f.sender.texts[0].text)
	assert.Equal(t, 1, f.todayStats(t).ResponseCount)
}

func TestAISkippedWithoutKey(t *testing.T) {
	f := newRouterFixture(t)
	f.saveConfig(t, &models.BotConfig{AIEnabled: true})

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("oi"))

	assert.False(t, f.ai.called)
	assert.Empty(t, f.sender.texts)
}

func TestAIErrorSendsNothing(t *testing.T) {
	f := newRouterFixture(t)
	f.saveConfig(t, &models.BotConfig{AIEnabled: true, AIKey: "sk-test"})
	f.ai.err = errors.New("rate limited")

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("oi"))

	assert.Empty(t, f.sender.texts)
	assert.Zero(t, f.todayStats(t).ResponseCount)
}

func TestMediaMessageStoredWithTagPreview(t *testing.T) {
	f := newRouterFixture(t)
	f.sender.download = []byte("jpeg-bytes")

	evt := inboundEvent(&waE2E.Message{ImageMessage: &waE2E.ImageMessage{}})
	f.router.HandleInbound(context.Background(), testUser, f.sender, evt)

	recent, err := f.store.GetRecentMessages(testUser, testPhone, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.MessageKindImage, recent[0].Kind)
	assert.Equal(t, "[image]", recent[0].Text)
	assert.Contains(t, recent[0].URL, "/media/"+testUser+"/")

	ticket, err := f.store.GetTicket(testUser, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "[image]", ticket.Preview)
}

func TestMediaCaptionBecomesPreview(t *testing.T) {
	f := newRouterFixture(t)
	f.sender.download = []byte("jpeg-bytes")

	evt := inboundEvent(&waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption: proto.String("olha isso"),
	}})
	f.router.HandleInbound(context.Background(), testUser, f.sender, evt)

	recent, err := f.store.GetRecentMessages(testUser, testPhone, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "olha isso", recent[0].Text)
}

func TestMediaDownloadFailureDegrades(t *testing.T) {
	f := newRouterFixture(t)
	f.sender.downloadErr = errors.New("server gone")

	evt := inboundEvent(&waE2E.Message{AudioMessage: &waE2E.AudioMessage{}})
	f.router.HandleInbound(context.Background(), testUser, f.sender, evt)

	recent, err := f.store.GetRecentMessages(testUser, testPhone, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.MessageKindAudio, recent[0].Kind)
	assert.Equal(t, "[audio]", recent[0].Text)
	assert.Empty(t, recent[0].URL)
}

func TestResponseSampleNotDoubleCounted(t *testing.T) {
	f := newRouterFixture(t)
	f.saveConfig(t, cannedConfig(t))

	f.router.HandleInbound(context.Background(), testUser, f.sender, inboundText("oi"))
	require.NoError(t, f.router.ManualSend(context.Background(), testUser, f.sender, testPhone, "mais alguma coisa?", nil))

	assert.Equal(t, 1, f.todayStats(t).ResponseCount)

	ticket, err := f.store.GetTicket(testUser, testPhone)
	require.NoError(t, err)
	assert.Nil(t, ticket.LastInboundAt)
}

func TestManualSendText(t *testing.T) {
	f := newRouterFixture(t)

	require.NoError(t, f.router.ManualSend(context.Background(), testUser, f.sender, "+"+testPhone, "bom dia", nil))

	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, testPhone, f.sender.texts[0].phone)

	ticket, err := f.store.GetTicket(testUser, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "bom dia", ticket.Preview)

	recent, err := f.store.GetRecentMessages(testUser, testPhone, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.SenderUser, recent[0].Sender)

	assert.Equal(t, 1, f.todayStats(t).MessagesSent)

	entries, err := f.store.GetRecentActivity(testUser, 5)
	require.NoError(t, err)
	assert.Equal(t, "message sent to "+testPhone, entries[0].Message)
}

func TestManualSendValidation(t *testing.T) {
	f := newRouterFixture(t)

	assert.Error(t, f.router.ManualSend(context.Background(), testUser, f.sender, "", "oi", nil))
	assert.Error(t, f.router.ManualSend(context.Background(), testUser, f.sender, testPhone, "   ", nil))
}

func TestManualSendMedia(t *testing.T) {
	f := newRouterFixture(t)

	userDir, err := f.router.media.UserDir(testUser)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "upload.png"), []byte("png"), 0o644))

	media := &OutboundMedia{Path: "upload.png", Mimetype: "image/png", Name: "foto.png"}
	require.NoError(t, f.router.ManualSend(context.Background(), testUser, f.sender, testPhone, "legenda", media))

	require.Len(t, f.sender.media, 1)
	assert.Equal(t, "image/png", f.sender.media[0].mimetype)
	assert.Equal(t, "legenda", f.sender.media[0].caption)

	recent, err := f.store.GetRecentMessages(testUser, testPhone, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.MessageKindImage, recent[0].Kind)
	assert.Equal(t, "legenda", recent[0].Text)
}

func TestManualSendMediaRejectsEscapingPath(t *testing.T) {
	f := newRouterFixture(t)

	media := &OutboundMedia{Path: "../../etc/passwd", Mimetype: "text/plain"}
	err := f.router.ManualSend(context.Background(), testUser, f.sender, testPhone, "", media)
	assert.Error(t, err)
	assert.Empty(t, f.sender.media)
}

func TestSendFailureCountsAsFailed(t *testing.T) {
	f := newRouterFixture(t)

	f.sender.textErr = errors.New("not connected")
	err := f.router.ManualSend(context.Background(), testUser, f.sender, testPhone, "oi", nil)
	require.Error(t, err)

	stats := f.todayStats(t)
	assert.Zero(t, stats.MessagesSent)
	assert.Equal(t, 1, stats.MessagesFailed)
}
