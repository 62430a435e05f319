package models

import (
	"time"

	"gorm.io/gorm"
)

// Ticket statuses shown as kanban columns on the dashboard
const (
	TicketStatusPending    = "pending"
	TicketStatusInProgress = "in_progress"
	TicketStatusCompleted  = "completed"
)

// Ticket tracks one support conversation per (user, contact phone).
type Ticket struct {
	gorm.Model
	UserID string `gorm:"uniqueIndex:idx_ticket_user_phone;not null" json:"user_id"`
	Phone  string `gorm:"uniqueIndex:idx_ticket_user_phone;not null" json:"phone"`
	Name   string `json:"name"`
	Status string `gorm:"default:'pending'" json:"status"`
	// Preview is the text of the last message, shown on the ticket card
	Preview       string     `json:"preview"`
	BotPaused     bool       `gorm:"default:false" json:"bot_paused"`
	LastMessageAt time.Time  `json:"last_message_at"`
	// LastInboundAt is stamped on inbound messages and cleared once a
	// response-time sample is taken, so a second reply never double-counts.
	LastInboundAt *time.Time `json:"last_inbound_at,omitempty"`
}

// Reopen resets a completed ticket when a contact writes again.
func (t *Ticket) Reopen() bool {
	if t.Status != TicketStatusCompleted {
		return false
	}
	t.Status = TicketStatusPending
	t.BotPaused = false
	return true
}
