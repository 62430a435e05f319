package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/zapdesk/zapdesk-backend/internal/dashboard"
	"github.com/zapdesk/zapdesk-backend/internal/metrics"
)

// reconnectDelay is the fixed wait before re-dialing after a transient drop.
const reconnectDelay = 15 * time.Second

// Notifier pushes session events to a user's connected dashboard clients.
type Notifier interface {
	Emit(userID, event string, data any)
}

// Manager owns the lifecycle of WhatsApp sessions: linking, connection,
// reconnection and teardown. One live session per user.
type Manager struct {
	registry    *Registry
	router      *Router
	recorder    *metrics.Recorder
	dashboard   *dashboard.Emitter
	notifier    Notifier
	sessionsDir string

	reconnectWait time.Duration
}

// NewManager creates a session lifecycle manager.
func NewManager(registry *Registry, router *Router, recorder *metrics.Recorder, emitter *dashboard.Emitter, notifier Notifier, sessionsDir string) *Manager {
	return &Manager{
		registry:      registry,
		router:        router,
		recorder:      recorder,
		dashboard:     emitter,
		notifier:      notifier,
		sessionsDir:   sessionsDir,
		reconnectWait: reconnectDelay,
	}
}

func (m *Manager) credsDir(userID string) string {
	return filepath.Join(m.sessionsDir, userID)
}

// StartSession opens (or re-opens) the user's WhatsApp session. A non-empty
// pairingPhone requests phone-number linking instead of QR; it forces a fresh
// device store so a new pairing code can be issued.
func (m *Manager) StartSession(ctx context.Context, userID, pairingPhone string) error {
	if prior := m.registry.Remove(userID); prior != nil {
		log.Printf("🔄 Replacing existing session for user %s", userID)
		m.recorder.Uptime(userID, prior.markClosed(time.Now()))
		m.teardown(prior)
	}

	dir := m.credsDir(userID)
	if pairingPhone != "" {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to reset session store: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite3",
		"file:"+filepath.Join(dir, "whatsmeow.db")+"?_foreign_keys=on",
		waLog.Stdout("Database", "ERROR", true))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("failed to load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "ERROR", true))
	client.EnableAutoReconnect = false // reconnection policy lives here

	sess := &Session{UserID: userID, Client: client, container: container}
	client.AddEventHandler(func(evt interface{}) {
		m.handleEvent(sess, evt)
	})

	needsLink := client.Store.ID == nil
	if needsLink && pairingPhone == "" {
		// GetQRChannel must be called before Connect
		qrChan, err := client.GetQRChannel(context.Background())
		if err != nil {
			container.Close()
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		go m.consumeQR(sess, qrChan)
	}

	if prior := m.registry.Put(sess); prior != nil {
		m.recorder.Uptime(userID, prior.markClosed(time.Now()))
		m.teardown(prior)
	}

	if err := client.Connect(); err != nil {
		m.registry.RemoveIf(sess)
		container.Close()
		return fmt.Errorf("failed to connect: %w", err)
	}

	if needsLink && pairingPhone != "" {
		go m.requestPairingCode(sess, pairingPhone)
	}

	log.Printf("📱 Session started for user %s (link pending: %v)", userID, needsLink)
	return nil
}

func (m *Manager) consumeQR(sess *Session, qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			sess.setQR(item.Code)
			m.notifier.Emit(sess.UserID, "qr", map[string]any{"qr": item.Code})
			m.dashboard.Push(sess.UserID)
		case "timeout":
			log.Printf("⌛ QR linking timed out for user %s", sess.UserID)
			m.notifier.Emit(sess.UserID, "disconnected", map[string]any{"reason": "qr timeout"})
			if m.registry.RemoveIf(sess) {
				m.teardown(sess)
			}
			m.dashboard.Push(sess.UserID)
			return
		default:
			// success / err-* terminate the channel; Connected handles the rest
			return
		}
	}
}

func (m *Manager) requestPairingCode(sess *Session, phone string) {
	code, err := sess.Client.PairPhone(context.Background(), phone, true,
		whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		log.Printf("❌ Pairing code request failed for user %s: %v", sess.UserID, err)
		m.notifier.Emit(sess.UserID, "disconnected", map[string]any{"reason": "pairing failed"})
		return
	}
	sess.setPairingCode(code)
	m.notifier.Emit(sess.UserID, "pairing_code", map[string]any{"code": code})
	m.dashboard.Push(sess.UserID)
}

func (m *Manager) handleEvent(sess *Session, rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		m.router.HandleInbound(context.Background(), sess.UserID, &clientSender{cli: sess.Client}, evt)
	case *events.Connected:
		sess.markOpen(time.Now())
		log.Printf("✅ WhatsApp connected for user %s", sess.UserID)
		m.notifier.Emit(sess.UserID, "ready", map[string]any{"status": "connected"})
		m.recorder.Activity(sess.UserID, "connected")
		m.dashboard.Push(sess.UserID)
	case *events.PairSuccess:
		log.Printf("🔗 Device paired for user %s (%s)", sess.UserID, evt.ID.User)
		m.recorder.Activity(sess.UserID, "device paired")
	case *events.LoggedOut:
		m.handleLoggedOut(sess)
	case *events.Disconnected:
		m.handleTransientClose(sess, "disconnected")
	case *events.StreamReplaced:
		m.handleTransientClose(sess, "stream replaced")
	}
}

// handleLoggedOut is the terminal close: the device unlinked us, so stored
// credentials are useless and must be wiped. No reconnect is scheduled.
func (m *Manager) handleLoggedOut(sess *Session) {
	log.Printf("🚪 User %s logged out remotely", sess.UserID)
	m.recorder.Uptime(sess.UserID, sess.markClosed(time.Now()))
	sess.Client.Disconnect()
	sess.container.Close()
	m.registry.RemoveIf(sess)
	if err := os.RemoveAll(m.credsDir(sess.UserID)); err != nil {
		log.Printf("⚠️  Failed to wipe credentials for %s: %v", sess.UserID, err)
	}
	m.notifier.Emit(sess.UserID, "disconnected", map[string]any{"reason": "logged out"})
	m.recorder.Activity(sess.UserID, "session ended (logout)")
	m.dashboard.Push(sess.UserID)
}

// handleTransientClose records the downtime, drops the session from the
// registry and schedules a reconnect attempt. Credentials stay on disk, so the
// re-dial resumes the existing device link.
func (m *Manager) handleTransientClose(sess *Session, reason string) {
	log.Printf("📴 Session dropped for user %s: %s", sess.UserID, reason)
	m.recorder.Uptime(sess.UserID, sess.markClosed(time.Now()))
	m.registry.RemoveIf(sess)
	m.notifier.Emit(sess.UserID, "disconnected", map[string]any{"reason": reason})
	m.dashboard.Push(sess.UserID)
	time.AfterFunc(m.reconnectWait, func() {
		m.reconnect(sess)
	})
}

func (m *Manager) reconnect(sess *Session) {
	// A session started in the meantime supersedes this timer
	if m.registry.Get(sess.UserID) != nil {
		return
	}
	log.Printf("🔁 Reconnecting user %s", sess.UserID)
	m.registry.Put(sess)
	if err := sess.Client.Connect(); err != nil {
		log.Printf("⚠️  Reconnect failed for user %s: %v", sess.UserID, err)
		m.registry.RemoveIf(sess)
		time.AfterFunc(m.reconnectWait, func() {
			m.reconnect(sess)
		})
	}
}

// Logout unlinks the device, wipes stored credentials and removes the session.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	sess := m.registry.Remove(userID)
	if sess == nil {
		return errors.New("no active session")
	}
	m.recorder.Uptime(userID, sess.markClosed(time.Now()))
	if err := sess.Client.Logout(ctx); err != nil {
		log.Printf("⚠️  Logout request failed for user %s: %v", userID, err)
	}
	sess.Client.Disconnect()
	sess.container.Close()
	if err := os.RemoveAll(m.credsDir(userID)); err != nil {
		log.Printf("⚠️  Failed to wipe credentials for %s: %v", userID, err)
	}
	m.notifier.Emit(userID, "disconnected", map[string]any{"reason": "logged out"})
	m.recorder.Activity(userID, "session ended (logout)")
	m.dashboard.Push(userID)
	return nil
}

// SenderFor returns the outbound side of a user's connected session.
func (m *Manager) SenderFor(userID string) (Sender, error) {
	sess := m.registry.Get(userID)
	if sess == nil {
		return nil, errors.New("whatsapp session is not connected")
	}
	if connected, _, _ := sess.state(); !connected {
		return nil, errors.New("whatsapp session is not connected")
	}
	return &clientSender{cli: sess.Client}, nil
}

// Shutdown disconnects every live session, keeping credentials so sessions can
// resume on the next start.
func (m *Manager) Shutdown() {
	for _, sess := range m.registry.Drain() {
		m.recorder.Uptime(sess.UserID, sess.markClosed(time.Now()))
		m.teardown(sess)
	}
}

// teardown closes a session that is already out of the registry.
func (m *Manager) teardown(sess *Session) {
	sess.Client.Disconnect()
	sess.container.Close()
}
