package models

import (
	"encoding/json"
	"strings"

	"gorm.io/gorm"
)

// DefaultCannedKeyword is the fallback entry of the canned-response table when
// the incoming text matches no trigger.
const DefaultCannedKeyword = "menu"

// CannedReply is one pre-authored reply; Delay is the pause before sending it,
// in milliseconds (0 means the 500ms default).
type CannedReply struct {
	Text  string `json:"text"`
	Delay int    `json:"delay"`
}

// BotConfig stores one user's automation settings. One row per user.
type BotConfig struct {
	gorm.Model
	UserID        string `gorm:"uniqueIndex;not null" json:"user_id"`
	AIEnabled     bool   `gorm:"default:false" json:"ai_enabled"`
	AIKey         string `json:"ai_key,omitempty"`
	SystemPrompt  string `gorm:"type:text" json:"system_prompt"`
	CannedEnabled bool   `gorm:"default:false" json:"canned_enabled"`
	// CannedResponses is the trigger keyword → ordered reply list table,
	// stored as a JSON string (same approach the dashboard saves it in)
	CannedResponses string `gorm:"type:text" json:"canned_responses"`
	PauseKeyword    string `json:"pause_keyword"`

	// FAQ is loaded from the per-user side file when AI mode is enabled;
	// never persisted in this row.
	FAQ string `gorm:"-" json:"faq,omitempty"`
}

// AutomationEnabled reports whether the router should evaluate auto-replies at all.
func (b *BotConfig) AutomationEnabled() bool {
	return b != nil && (b.AIEnabled || b.CannedEnabled)
}

// ReplyTable decodes the canned-response table. An empty column yields an
// empty table, not an error.
func (b *BotConfig) ReplyTable() (map[string][]CannedReply, error) {
	table := make(map[string][]CannedReply)
	if b.CannedResponses == "" {
		return table, nil
	}
	if err := json.Unmarshal([]byte(b.CannedResponses), &table); err != nil {
		return nil, err
	}
	// Triggers match case-insensitively against the incoming text
	normalized := make(map[string][]CannedReply, len(table))
	for trigger, replies := range table {
		normalized[strings.ToLower(strings.TrimSpace(trigger))] = replies
	}
	return normalized, nil
}

// SetReplyTable encodes and stores the canned-response table.
func (b *BotConfig) SetReplyTable(table map[string][]CannedReply) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	b.CannedResponses = string(raw)
	return nil
}
