package whatsapp

import (
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
)

// Session is the live connection state for one user. At most one exists per
// user id at any time; the Registry owns every entry.
type Session struct {
	UserID string
	Client *whatsmeow.Client

	container *sqlstore.Container

	mu          sync.Mutex
	connected   bool
	qr          string
	pairingCode string
	connectedAt time.Time
}

func (s *Session) markOpen(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.connectedAt = now
	s.qr = ""
	s.pairingCode = ""
}

// markClosed clears the connect timestamp and returns the elapsed connected
// seconds, or 0 if the session never opened.
func (s *Session) markClosed(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.connectedAt.IsZero() {
		return 0
	}
	elapsed := int64(now.Sub(s.connectedAt).Seconds())
	s.connectedAt = time.Time{}
	return elapsed
}

func (s *Session) setQR(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qr = code
	s.pairingCode = ""
}

func (s *Session) setPairingCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairingCode = code
	s.qr = ""
}

func (s *Session) state() (connected, codePending bool, since time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, s.qr != "" || s.pairingCode != "", s.connectedAt
}

// Registry is the process-scoped container of live sessions, keyed by user id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the live session for a user, or nil.
func (r *Registry) Get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// Put stores the session for a user and returns the replaced one, if any.
// Callers must tear down the returned session: the one-live-session invariant
// is theirs to finish.
func (r *Registry) Put(sess *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prior := r.sessions[sess.UserID]
	r.sessions[sess.UserID] = sess
	return prior
}

// Remove deletes and returns the user's session, or nil.
func (r *Registry) Remove(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessions[userID]
	delete(r.sessions, userID)
	return sess
}

// RemoveIf deletes the entry only if it still holds the given session. A
// superseded handle (e.g. a stale reconnect timer's session) is a no-op.
func (r *Registry) RemoveIf(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sess.UserID] != sess {
		return false
	}
	delete(r.sessions, sess.UserID)
	return true
}

// Drain removes and returns every live session, for process shutdown.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		drained = append(drained, sess)
	}
	r.sessions = make(map[string]*Session)
	return drained
}

// Count reports the number of live sessions (for the health endpoint).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Status implements dashboard.StatusSource.
func (r *Registry) Status(userID string) (online, codePending bool) {
	sess := r.Get(userID)
	if sess == nil {
		return false, false
	}
	online, codePending, _ = sess.state()
	return online, codePending
}

// LiveSince implements dashboard.StatusSource.
func (r *Registry) LiveSince(userID string) (time.Time, bool) {
	sess := r.Get(userID)
	if sess == nil {
		return time.Time{}, false
	}
	connected, _, since := sess.state()
	if !connected {
		return time.Time{}, false
	}
	return since, true
}
