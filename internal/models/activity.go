package models

import "gorm.io/gorm"

// MaxActivityEntries bounds the per-user activity log; appending past the cap
// trims the oldest entries.
const MaxActivityEntries = 50

// ActivityEntry is one line of the per-user activity feed on the dashboard.
type ActivityEntry struct {
	gorm.Model
	UserID  string `gorm:"index;not null" json:"user_id"`
	Message string `gorm:"not null" json:"message"`
}
