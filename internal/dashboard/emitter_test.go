package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk/zapdesk-backend/internal/models"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
)

type recordingHub struct {
	subscribed bool
	events     []string
}

func (h *recordingHub) Emit(_, event string, _ interface{}) {
	h.events = append(h.events, event)
}

func (h *recordingHub) HasSubscribers(string) bool {
	return h.subscribed
}

type stubStatus struct {
	online      bool
	codePending bool
	liveSince   time.Time
}

func (s stubStatus) Status(string) (bool, bool) {
	return s.online, s.codePending
}

func (s stubStatus) LiveSince(string) (time.Time, bool) {
	return s.liveSince, !s.liveSince.IsZero()
}

func fixedNow() time.Time {
	// Noon, so the uptime denominator is exactly 12 hours
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func newTestEmitter(store storage.Store, hub Broadcaster, status StatusSource) *Emitter {
	e := NewEmitter(store, hub, status)
	e.now = fixedNow
	return e
}

func TestSnapshotEmptyState(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEmitter(store, &recordingHub{}, stubStatus{})

	snap, err := e.Snapshot("u1")
	require.NoError(t, err)

	assert.Zero(t, snap.MessagesSent)
	assert.Zero(t, snap.MessagesPending)
	assert.Equal(t, StatusOffline, snap.BotStatus)
	assert.Zero(t, snap.Connections)
	// No attempts yet reads as a perfect delivery rate
	assert.Equal(t, 100.0, snap.DeliveryRate)
	assert.Zero(t, snap.AvgResponseTime)
	assert.Zero(t, snap.UptimePercentage)
}

func TestSnapshotComputesRates(t *testing.T) {
	store := storage.NewMemoryStore()
	day := models.DayKey(fixedNow())
	require.NoError(t, store.IncrementDailyStats("u1", day, models.StatsDelta{
		MessagesSent:   7,
		MessagesFailed: 3,
		ResponseTimeMS: 6000,
		ResponseCount:  4,
		UptimeSeconds:  12 * 3600 / 2, // connected half the day so far
	}))

	e := newTestEmitter(store, &recordingHub{}, stubStatus{online: true})

	snap, err := e.Snapshot("u1")
	require.NoError(t, err)

	assert.Equal(t, 7, snap.MessagesSent)
	assert.Equal(t, 3, snap.MessagesFailed)
	assert.Equal(t, StatusOnline, snap.BotStatus)
	assert.Equal(t, 1, snap.Connections)
	assert.InDelta(t, 70.0, snap.DeliveryRate, 0.001)
	assert.InDelta(t, 1500.0, snap.AvgResponseTime, 0.001)
	assert.InDelta(t, 50.0, snap.UptimePercentage, 0.001)
}

func TestSnapshotUptimeIncludesLiveSessionAndClamps(t *testing.T) {
	store := storage.NewMemoryStore()
	day := models.DayKey(fixedNow())
	// Stored uptime already covers the whole day; live time would overflow
	require.NoError(t, store.IncrementDailyStats("u1", day, models.StatsDelta{
		UptimeSeconds: 12 * 3600,
	}))

	status := stubStatus{online: true, liveSince: fixedNow().Add(-time.Hour)}
	e := newTestEmitter(store, &recordingHub{}, status)

	snap, err := e.Snapshot("u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.UptimePercentage)
}

func TestSnapshotQRPendingStatus(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEmitter(store, &recordingHub{}, stubStatus{codePending: true})

	snap, err := e.Snapshot("u1")
	require.NoError(t, err)
	assert.Equal(t, StatusQRReady, snap.BotStatus)
	assert.Zero(t, snap.Connections)
}

func TestSnapshotCountsPendingTicketsAndActivity(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveTicket(&models.Ticket{UserID: "u1", Phone: "111", Status: models.TicketStatusPending}))
	require.NoError(t, store.SaveTicket(&models.Ticket{UserID: "u1", Phone: "222", Status: models.TicketStatusCompleted}))
	for i := 0; i < 8; i++ {
		require.NoError(t, store.AppendActivity("u1", "entry"))
	}

	e := newTestEmitter(store, &recordingHub{}, stubStatus{})

	snap, err := e.Snapshot("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.MessagesPending)
	assert.Len(t, snap.RecentActivity, 5)
}

func TestPushSkipsWithoutSubscribers(t *testing.T) {
	hub := &recordingHub{subscribed: false}
	e := newTestEmitter(storage.NewMemoryStore(), hub, stubStatus{})

	e.Push("u1")
	assert.Empty(t, hub.events)

	hub.subscribed = true
	e.Push("u1")
	require.Len(t, hub.events, 1)
	assert.Equal(t, "dashboard_update", hub.events[0])
}
