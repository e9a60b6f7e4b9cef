package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"simlink/internal/models"
)

type MessageStore struct{ db *gorm.DB }

func NewMessageStore(db *gorm.DB) *MessageStore { return &MessageStore{db: db} }

// Append пишет пересланное сообщение; timestamp назначает сервер.
func (s *MessageStore) Append(ctx context.Context, deviceID, from, content string) (*models.Message, error) {
	m := models.Message{
		DeviceID:   deviceID,
		SenderFrom: from,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// RecentByDevice — последние сообщения устройства (для admin-страницы).
func (s *MessageStore) RecentByDevice(ctx context.Context, deviceID string, limit int) ([]models.Message, error) {
	var rows []models.Message
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("id desc").Limit(limit).
		Find(&rows).Error
	return rows, err
}
