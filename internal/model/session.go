package model

import "time"

// ChatSession groups messages into a titled conversation. Sessions are
// created lazily on the first message of a new conversation; the title
// is the first message truncated to 60 characters.
type ChatSession struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:32;not null;index" json:"user_id"`
	Title     string    `gorm:"size:128;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func (ChatSession) TableName() string { return "chat_sessions" }
