package models

import (
	"time"

	"gorm.io/gorm"
)

// Message kinds (text plus the supported media variants)
const (
	MessageKindText     = "text"
	MessageKindImage    = "image"
	MessageKindAudio    = "audio"
	MessageKindVideo    = "video"
	MessageKindDocument = "document"
)

// Message senders
const (
	SenderUser    = "user" // operator or bot
	SenderContact = "contact"
)

// MaxMessagesPerTicket caps a ticket's stored history; inserting past the cap
// trims the oldest records in the same logical operation.
const MaxMessagesPerTicket = 100

// Message is one entry of a ticket's conversation history.
type Message struct {
	gorm.Model
	UserID    string    `gorm:"index:idx_msg_ticket" json:"user_id"`
	Phone     string    `gorm:"index:idx_msg_ticket" json:"phone"`
	Kind      string    `gorm:"default:'text'" json:"kind"`
	Text      string    `json:"text"`
	URL       string    `json:"url,omitempty"` // set for media kinds only
	Sender    string    `gorm:"not null" json:"sender"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

// NewTextMessage builds a plain text message record.
func NewTextMessage(userID, phone, text, sender string, ts time.Time) *Message {
	return &Message{UserID: userID, Phone: phone, Kind: MessageKindText, Text: text, Sender: sender, Timestamp: ts}
}

// NewMediaMessage builds a media message record pointing at a stored file.
func NewMediaMessage(userID, phone, kind, text, url, sender string, ts time.Time) *Message {
	return &Message{UserID: userID, Phone: phone, Kind: kind, Text: text, URL: url, Sender: sender, Timestamp: ts}
}

// MediaExtension maps a message kind to the file extension used when saving
// downloaded payloads.
func MediaExtension(kind string) string {
	switch kind {
	case MessageKindImage:
		return "jpg"
	case MessageKindAudio:
		return "ogg"
	case MessageKindVideo:
		return "mp4"
	default:
		return "dat"
	}
}

// MediaTag returns the bracketed preview tag for captionless media, e.g. "[image]".
func MediaTag(kind string) string {
	return "[" + kind + "]"
}
