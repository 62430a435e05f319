// Package metrics records activity-log entries and daily counters as side
// effects of router and lifecycle events. Failures here are logged, never
// propagated: a broken counter must not take the bot down.
package metrics

import (
	"log"
	"time"

	"github.com/zapdesk/zapdesk-backend/internal/models"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
)

// Recorder appends bounded activity entries and increments day-keyed counters.
type Recorder struct {
	store storage.Store
	now   func() time.Time
}

// NewRecorder creates a metrics recorder over the given store.
func NewRecorder(store storage.Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Activity appends one activity-log line for the user.
func (r *Recorder) Activity(userID, message string) {
	if err := r.store.AppendActivity(userID, message); err != nil {
		log.Printf("⚠️  Failed to record activity for %s: %v", userID, err)
	}
}

// MessageSent increments today's sent counter.
func (r *Recorder) MessageSent(userID string) {
	r.increment(userID, models.StatsDelta{MessagesSent: 1})
}

// MessageFailed increments today's failed counter.
func (r *Recorder) MessageFailed(userID string) {
	r.increment(userID, models.StatsDelta{MessagesFailed: 1})
}

// ResponseSample adds one response-time measurement to today's counters.
func (r *Recorder) ResponseSample(userID string, elapsed time.Duration) {
	r.increment(userID, models.StatsDelta{
		ResponseTimeMS: elapsed.Milliseconds(),
		ResponseCount:  1,
	})
}

// Uptime adds connected seconds to today's uptime counter.
func (r *Recorder) Uptime(userID string, seconds int64) {
	if seconds <= 0 {
		return
	}
	r.increment(userID, models.StatsDelta{UptimeSeconds: seconds})
}

func (r *Recorder) increment(userID string, delta models.StatsDelta) {
	day := models.DayKey(r.now())
	if err := r.store.IncrementDailyStats(userID, day, delta); err != nil {
		log.Printf("⚠️  Failed to increment daily stats for %s: %v", userID, err)
	}
}
