package repository

import (
	"fmt"

	"gorm.io/gorm"

	"worison/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListBySessionID returns the full replay of a session, oldest first.
// Ordered by ID so ties on created_at cannot reorder turns.
func (r *MessageRepository) ListBySessionID(userID, sessionID string) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}
