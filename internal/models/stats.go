package models

import (
	"time"

	"gorm.io/gorm"
)

// DailyStats holds one user's monotonic counters for a calendar day.
// Counters are only ever incremented; the day key rolls them over naturally.
type DailyStats struct {
	gorm.Model
	UserID         string `gorm:"uniqueIndex:idx_stats_user_day;not null" json:"user_id"`
	Day            string `gorm:"uniqueIndex:idx_stats_user_day;not null" json:"day"` // YYYY-MM-DD
	MessagesSent   int    `gorm:"default:0" json:"messages_sent"`
	MessagesFailed int    `gorm:"default:0" json:"messages_failed"`
	ResponseTimeMS int64  `gorm:"default:0" json:"response_time_ms"`
	ResponseCount  int    `gorm:"default:0" json:"response_count"`
	UptimeSeconds  int64  `gorm:"default:0" json:"uptime_seconds"`
}

// StatsDelta is a merge-only increment applied to a day's counters.
type StatsDelta struct {
	MessagesSent   int
	MessagesFailed int
	ResponseTimeMS int64
	ResponseCount  int
	UptimeSeconds  int64
}

// DayKey formats the calendar-day identity for a timestamp.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
