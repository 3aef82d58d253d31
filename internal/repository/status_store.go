package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageStatus is the persisted delivery state of one queued message.
type MessageStatus struct {
	MessageID string `gorm:"primaryKey"`
	Status    string
	Detail    string
	UpdatedAt time.Time
}

// StatusStore stores and retrieves message delivery statuses. A nil store is
// a no-op so the service can run without Postgres.
type StatusStore struct {
	db *gorm.DB
}

// NewStatusStore creates a new StatusStore.
func NewStatusStore(db *gorm.DB) *StatusStore {
	// Auto-migrate the schema
	db.AutoMigrate(&MessageStatus{})
	return &StatusStore{db: db}
}

// SetStatus upserts the status for a given message ID.
func (s *StatusStore) SetStatus(messageID, status, detail string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		UpdateAll: true,
	}).Create(&MessageStatus{
		MessageID: messageID,
		Status:    status,
		Detail:    detail,
		UpdatedAt: time.Now(),
	}).Error
}

// GetStatus retrieves the status for a given message ID.
func (s *StatusStore) GetStatus(messageID string) (*MessageStatus, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrRecordNotFound
	}
	var status MessageStatus
	if err := s.db.First(&status, "message_id = ?", messageID).Error; err != nil {
		return nil, err
	}
	return &status, nil
}
