package storage

import (
	"errors"

	"github.com/zapdesk/zapdesk-backend/internal/models"
)

// ErrNotFound is returned when a record does not exist. A miss on this error
// is normal control flow for the router and caches, not a failure.
var ErrNotFound = errors.New("record not found")

var storeInstance Store

// SetStore sets the global store instance (call from main.go)
func SetStore(s Store) {
	storeInstance = s
}

// GetStore returns the global store instance
func GetStore() Store {
	return storeInstance
}

// Store defines the interface for storage operations
type Store interface {
	// Ticket operations
	GetTicket(userID, phone string) (*models.Ticket, error)
	SaveTicket(ticket *models.Ticket) error
	GetTickets(userID string) ([]*models.Ticket, error)
	DeleteTicket(userID, phone string) error

	// Message operations. AppendMessage trims the oldest records past
	// models.MaxMessagesPerTicket in the same logical operation.
	// GetRecentMessages returns newest first.
	AppendMessage(msg *models.Message) error
	GetRecentMessages(userID, phone string, limit int) ([]*models.Message, error)
	CountMessages(userID, phone string) (int, error)

	// Bot configuration
	GetBotConfig(userID string) (*models.BotConfig, error)
	SaveBotConfig(cfg *models.BotConfig) error

	// Daily stats: merge-only increments keyed by calendar day
	IncrementDailyStats(userID, day string, delta models.StatsDelta) error
	GetDailyStats(userID, day string) (*models.DailyStats, error)

	// Activity log. AppendActivity trims the oldest entries past
	// models.MaxActivityEntries. GetRecentActivity returns newest first.
	AppendActivity(userID, message string) error
	GetRecentActivity(userID string, limit int) ([]*models.ActivityEntry, error)
}
