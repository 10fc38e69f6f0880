package model

import (
	"encoding/json"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFile      = "file"
)

// Message is one turn of a conversation. Rows are append-only and
// replayed in ID order. SessionID is empty for legacy ungrouped rows.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:32;not null;index" json:"user_id"`
	SessionID string    `gorm:"size:36;index" json:"session_id"`
	Role      string    `gorm:"size:16;not null;index" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FileTurn is the payload carried in the Content of a role=file
// message: it records which stored upload the turn refers to.
type FileTurn struct {
	FileID       string `json:"file_id"`
	OriginalName string `json:"original_name"`
}

// ParseFileTurn decodes the content of a file turn. Returns false when
// the content is not a file payload.
func ParseFileTurn(content string) (FileTurn, bool) {
	var ft FileTurn
	if err := json.Unmarshal([]byte(content), &ft); err != nil {
		return FileTurn{}, false
	}
	return ft, ft.FileID != ""
}

func (ft FileTurn) Encode() string {
	b, _ := json.Marshal(ft)
	return string(b)
}
