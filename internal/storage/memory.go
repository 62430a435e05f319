package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/zapdesk/zapdesk-backend/internal/models"
)

// MemoryStore holds all data in memory (tests and USE_MEMORY_STORE=true)
type MemoryStore struct {
	tickets  map[string]*models.Ticket          // key: userID|phone
	messages map[string][]*models.Message       // key: userID|phone, oldest first
	configs  map[string]*models.BotConfig       // key: userID
	stats    map[string]*models.DailyStats      // key: userID|day
	activity map[string][]*models.ActivityEntry // key: userID, oldest first

	mu        sync.RWMutex
	idCounter uint
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:  make(map[string]*models.Ticket),
		messages: make(map[string][]*models.Message),
		configs:  make(map[string]*models.BotConfig),
		stats:    make(map[string]*models.DailyStats),
		activity: make(map[string][]*models.ActivityEntry),
	}
}

func ticketKey(userID, phone string) string {
	return userID + "|" + phone
}

func (m *MemoryStore) nextID() uint {
	m.idCounter++
	return m.idCounter
}

// Ticket operations

func (m *MemoryStore) GetTicket(userID, phone string) (*models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ticket, exists := m.tickets[ticketKey(userID, phone)]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *ticket
	return &copied, nil
}

func (m *MemoryStore) SaveTicket(ticket *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ticket.ID == 0 {
		ticket.ID = m.nextID()
		ticket.CreatedAt = time.Now()
	}
	ticket.UpdatedAt = time.Now()
	copied := *ticket
	m.tickets[ticketKey(ticket.UserID, ticket.Phone)] = &copied
	return nil
}

func (m *MemoryStore) GetTickets(userID string) ([]*models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tickets := []*models.Ticket{}
	for _, ticket := range m.tickets {
		if ticket.UserID == userID {
			copied := *ticket
			tickets = append(tickets, &copied)
		}
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].LastMessageAt.After(tickets[j].LastMessageAt)
	})
	return tickets, nil
}

func (m *MemoryStore) DeleteTicket(userID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ticketKey(userID, phone)
	if _, exists := m.tickets[key]; !exists {
		return ErrNotFound
	}
	delete(m.tickets, key)
	delete(m.messages, key)
	return nil
}

// Message operations

func (m *MemoryStore) AppendMessage(msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == 0 {
		msg.ID = m.nextID()
		msg.CreatedAt = time.Now()
	}
	copied := *msg
	key := ticketKey(msg.UserID, msg.Phone)
	history := append(m.messages[key], &copied)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	if excess := len(history) - models.MaxMessagesPerTicket; excess > 0 {
		history = history[excess:]
	}
	m.messages[key] = history
	return nil
}

func (m *MemoryStore) GetRecentMessages(userID, phone string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.messages[ticketKey(userID, phone)]
	messages := []*models.Message{}
	for i := len(history) - 1; i >= 0 && len(messages) < limit; i-- {
		copied := *history[i]
		messages = append(messages, &copied)
	}
	return messages, nil
}

func (m *MemoryStore) CountMessages(userID, phone string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.messages[ticketKey(userID, phone)]), nil
}

// Bot configuration

func (m *MemoryStore) GetBotConfig(userID string) (*models.BotConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, exists := m.configs[userID]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (m *MemoryStore) SaveBotConfig(cfg *models.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.configs[cfg.UserID]; exists {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else if cfg.ID == 0 {
		cfg.ID = m.nextID()
		cfg.CreatedAt = time.Now()
	}
	cfg.UpdatedAt = time.Now()
	copied := *cfg
	copied.FAQ = ""
	m.configs[cfg.UserID] = &copied
	return nil
}

// Daily stats

func (m *MemoryStore) IncrementDailyStats(userID, day string, delta models.StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ticketKey(userID, day)
	stats, exists := m.stats[key]
	if !exists {
		stats = &models.DailyStats{UserID: userID, Day: day}
		stats.ID = m.nextID()
		stats.CreatedAt = time.Now()
		m.stats[key] = stats
	}
	stats.MessagesSent += delta.MessagesSent
	stats.MessagesFailed += delta.MessagesFailed
	stats.ResponseTimeMS += delta.ResponseTimeMS
	stats.ResponseCount += delta.ResponseCount
	stats.UptimeSeconds += delta.UptimeSeconds
	stats.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetDailyStats(userID, day string) (*models.DailyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, exists := m.stats[ticketKey(userID, day)]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *stats
	return &copied, nil
}

// Activity log

func (m *MemoryStore) AppendActivity(userID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &models.ActivityEntry{UserID: userID, Message: message}
	entry.ID = m.nextID()
	entry.CreatedAt = time.Now()

	log := append(m.activity[userID], entry)
	if excess := len(log) - models.MaxActivityEntries; excess > 0 {
		log = log[excess:]
	}
	m.activity[userID] = log
	return nil
}

func (m *MemoryStore) GetRecentActivity(userID string, limit int) ([]*models.ActivityEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.activity[userID]
	entries := []*models.ActivityEntry{}
	for i := len(log) - 1; i >= 0 && len(entries) < limit; i-- {
		copied := *log[i]
		entries = append(entries, &copied)
	}
	return entries, nil
}
