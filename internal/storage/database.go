package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zapdesk/zapdesk-backend/internal/models"
)

// DatabaseStore implements Store on top of PostgreSQL via GORM
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a database-backed store
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Ticket operations

func (d *DatabaseStore) GetTicket(userID, phone string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.db.Where("user_id = ? AND phone = ?", userID, phone).First(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

func (d *DatabaseStore) SaveTicket(ticket *models.Ticket) error {
	return d.db.Save(ticket).Error
}

func (d *DatabaseStore) GetTickets(userID string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := d.db.Where("user_id = ?", userID).
		Order("last_message_at DESC").
		Find(&tickets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

func (d *DatabaseStore) DeleteTicket(userID, phone string) error {
	result := d.db.Where("user_id = ? AND phone = ?", userID, phone).Delete(&models.Ticket{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return d.db.Where("user_id = ? AND phone = ?", userID, phone).Delete(&models.Message{}).Error
}

// Message operations

func (d *DatabaseStore) AppendMessage(msg *models.Message) error {
	if err := d.db.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return d.trimMessages(msg.UserID, msg.Phone)
}

// trimMessages deletes the oldest records beyond the per-ticket cap.
func (d *DatabaseStore) trimMessages(userID, phone string) error {
	var count int64
	if err := d.db.Model(&models.Message{}).
		Where("user_id = ? AND phone = ?", userID, phone).
		Count(&count).Error; err != nil {
		return err
	}
	excess := int(count) - models.MaxMessagesPerTicket
	if excess <= 0 {
		return nil
	}

	var ids []uint
	if err := d.db.Model(&models.Message{}).
		Where("user_id = ? AND phone = ?", userID, phone).
		Order("timestamp ASC, id ASC").
		Limit(excess).
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	return d.db.Unscoped().Delete(&models.Message{}, ids).Error
}

func (d *DatabaseStore) GetRecentMessages(userID, phone string, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	err := d.db.Where("user_id = ? AND phone = ?", userID, phone).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

func (d *DatabaseStore) CountMessages(userID, phone string) (int, error) {
	var count int64
	err := d.db.Model(&models.Message{}).
		Where("user_id = ? AND phone = ?", userID, phone).
		Count(&count).Error
	return int(count), err
}

// Bot configuration

func (d *DatabaseStore) GetBotConfig(userID string) (*models.BotConfig, error) {
	var cfg models.BotConfig
	err := d.db.Where("user_id = ?", userID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot config: %w", err)
	}
	return &cfg, nil
}

func (d *DatabaseStore) SaveBotConfig(cfg *models.BotConfig) error {
	var existing models.BotConfig
	err := d.db.Where("user_id = ?", cfg.UserID).First(&existing).Error
	if err == nil {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load bot config: %w", err)
	}
	return d.db.Save(cfg).Error
}

// Daily stats

func (d *DatabaseStore) IncrementDailyStats(userID, day string, delta models.StatsDelta) error {
	stats := models.DailyStats{
		UserID:         userID,
		Day:            day,
		MessagesSent:   delta.MessagesSent,
		MessagesFailed: delta.MessagesFailed,
		ResponseTimeMS: delta.ResponseTimeMS,
		ResponseCount:  delta.ResponseCount,
		UptimeSeconds:  delta.UptimeSeconds,
	}
	// Merge, never overwrite: counters are monotonic
	return d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"messages_sent":    gorm.Expr("daily_stats.messages_sent + ?", delta.MessagesSent),
			"messages_failed":  gorm.Expr("daily_stats.messages_failed + ?", delta.MessagesFailed),
			"response_time_ms": gorm.Expr("daily_stats.response_time_ms + ?", delta.ResponseTimeMS),
			"response_count":   gorm.Expr("daily_stats.response_count + ?", delta.ResponseCount),
			"uptime_seconds":   gorm.Expr("daily_stats.uptime_seconds + ?", delta.UptimeSeconds),
			"updated_at":       gorm.Expr("NOW()"),
		}),
	}).Create(&stats).Error
}

func (d *DatabaseStore) GetDailyStats(userID, day string) (*models.DailyStats, error) {
	var stats models.DailyStats
	err := d.db.Where("user_id = ? AND day = ?", userID, day).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	return &stats, nil
}

// Activity log

func (d *DatabaseStore) AppendActivity(userID, message string) error {
	entry := models.ActivityEntry{UserID: userID, Message: message}
	if err := d.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}

	var count int64
	if err := d.db.Model(&models.ActivityEntry{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return err
	}
	excess := int(count) - models.MaxActivityEntries
	if excess <= 0 {
		return nil
	}

	var ids []uint
	if err := d.db.Model(&models.ActivityEntry{}).
		Where("user_id = ?", userID).
		Order("id ASC").
		Limit(excess).
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	return d.db.Unscoped().Delete(&models.ActivityEntry{}, ids).Error
}

func (d *DatabaseStore) GetRecentActivity(userID string, limit int) ([]*models.ActivityEntry, error) {
	var entries []*models.ActivityEntry
	err := d.db.Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return entries, nil
}
