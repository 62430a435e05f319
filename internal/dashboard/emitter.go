// Package dashboard computes the per-user dashboard snapshot and pushes it to
// subscribed realtime clients after any state-affecting event.
package dashboard

import (
	"errors"
	"log"
	"time"

	"github.com/zapdesk/zapdesk-backend/internal/models"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
)

// Bot status values shown on the dashboard
const (
	StatusOnline  = "online"
	StatusQRReady = "qr_ready"
	StatusOffline = "offline"
)

// Broadcaster pushes an event to every client subscribed to a user's channel.
type Broadcaster interface {
	Emit(userID, event string, data interface{})
	HasSubscribers(userID string) bool
}

// StatusSource reports the live session state for a user (the session registry).
type StatusSource interface {
	// Status reports whether the user has an authenticated session and
	// whether a scannable code is pending.
	Status(userID string) (online, codePending bool)
	// LiveSince returns the connect timestamp of the current open session.
	LiveSince(userID string) (time.Time, bool)
}

// Snapshot is the computed dashboard payload sent as "dashboard_update".
type Snapshot struct {
	MessagesSent     int      `json:"messagesSent"`
	MessagesPending  int      `json:"messagesPending"`
	MessagesFailed   int      `json:"messagesFailed"`
	Connections      int      `json:"connections"`
	BotStatus        string   `json:"botStatus"`
	RecentActivity   []string `json:"recentActivity"`
	DeliveryRate     float64  `json:"deliveryRate"`
	AvgResponseTime  float64  `json:"avgResponseTime"`
	UptimePercentage float64  `json:"uptimePercentage"`
}

// Emitter reads aggregated state and pushes snapshots to the user's channel.
type Emitter struct {
	store  storage.Store
	hub    Broadcaster
	status StatusSource
	now    func() time.Time
}

// NewEmitter creates a dashboard emitter.
func NewEmitter(store storage.Store, hub Broadcaster, status StatusSource) *Emitter {
	return &Emitter{store: store, hub: hub, status: status, now: time.Now}
}

// Snapshot computes the current dashboard state for a user.
func (e *Emitter) Snapshot(userID string) (*Snapshot, error) {
	now := e.now()

	stats, err := e.store.GetDailyStats(userID, models.DayKey(now))
	if errors.Is(err, storage.ErrNotFound) {
		stats = &models.DailyStats{UserID: userID}
	} else if err != nil {
		return nil, err
	}

	entries, err := e.store.GetRecentActivity(userID, 5)
	if err != nil {
		return nil, err
	}
	recent := make([]string, 0, len(entries))
	for _, entry := range entries {
		recent = append(recent, entry.Message)
	}

	tickets, err := e.store.GetTickets(userID)
	if err != nil {
		return nil, err
	}
	pending := 0
	for _, ticket := range tickets {
		if ticket.Status == models.TicketStatusPending {
			pending++
		}
	}

	online, codePending := e.status.Status(userID)
	botStatus := StatusOffline
	connections := 0
	switch {
	case online:
		botStatus = StatusOnline
		connections = 1
	case codePending:
		botStatus = StatusQRReady
	}

	return &Snapshot{
		MessagesSent:     stats.MessagesSent,
		MessagesPending:  pending,
		MessagesFailed:   stats.MessagesFailed,
		Connections:      connections,
		BotStatus:        botStatus,
		RecentActivity:   recent,
		DeliveryRate:     deliveryRate(stats),
		AvgResponseTime:  avgResponseTime(stats),
		UptimePercentage: e.uptimePercentage(userID, stats, now),
	}, nil
}

// Push computes and emits a snapshot to the user's channel. No-op when nobody
// is subscribed.
func (e *Emitter) Push(userID string) {
	if !e.hub.HasSubscribers(userID) {
		return
	}
	snap, err := e.Snapshot(userID)
	if err != nil {
		log.Printf("⚠️  Failed to compute dashboard snapshot for %s: %v", userID, err)
		return
	}
	e.hub.Emit(userID, "dashboard_update", snap)
}

// deliveryRate is sent/(sent+failed) as a percentage; 100 with no attempts yet.
func deliveryRate(stats *models.DailyStats) float64 {
	attempts := stats.MessagesSent + stats.MessagesFailed
	if attempts == 0 {
		return 100
	}
	return float64(stats.MessagesSent) / float64(attempts) * 100
}

// avgResponseTime is the mean response time in milliseconds; 0 with no samples.
func avgResponseTime(stats *models.DailyStats) float64 {
	if stats.ResponseCount == 0 {
		return 0
	}
	return float64(stats.ResponseTimeMS) / float64(stats.ResponseCount)
}

// uptimePercentage is (stored uptime + current live duration) over the seconds
// elapsed since midnight, clamped to 100.
func (e *Emitter) uptimePercentage(userID string, stats *models.DailyStats, now time.Time) float64 {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	elapsed := now.Sub(midnight).Seconds()
	if elapsed <= 0 {
		return 0
	}

	connected := float64(stats.UptimeSeconds)
	if since, ok := e.status.LiveSince(userID); ok {
		connected += now.Sub(since).Seconds()
	}

	pct := connected / elapsed * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
