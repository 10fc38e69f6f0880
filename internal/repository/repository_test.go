package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"worison/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.ChatSession{}, &model.Message{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM messages")
		db.Exec("DELETE FROM chat_sessions")
		db.Exec("DELETE FROM users")
	})
	return db
}

func TestMessageInsertionOrderRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)

	base := time.Now()
	for i := 0; i < 6; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		require.NoError(t, repo.Create(&model.Message{
			UserID:    "u1",
			SessionID: "s1",
			Role:      role,
			Content:   fmt.Sprintf("turn %d", i),
			// identical timestamps must not reorder turns
			CreatedAt: base,
		}))
	}

	messages, err := repo.ListBySessionID("u1", "s1")
	require.NoError(t, err)
	require.Len(t, messages, 6)
	for i, m := range messages {
		assert.Equal(t, fmt.Sprintf("turn %d", i), m.Content)
	}
}

func TestMessagesScopedToUserAndSession(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)

	require.NoError(t, repo.Create(&model.Message{UserID: "u1", SessionID: "s1", Role: model.RoleUser, Content: "mine"}))
	require.NoError(t, repo.Create(&model.Message{UserID: "u2", SessionID: "s1", Role: model.RoleUser, Content: "theirs"}))
	require.NoError(t, repo.Create(&model.Message{UserID: "u1", SessionID: "s2", Role: model.RoleUser, Content: "elsewhere"}))

	messages, err := repo.ListBySessionID("u1", "s1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "mine", messages[0].Content)
}

func TestSessionOwnershipLookup(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)

	require.NoError(t, repo.Create(&model.ChatSession{ID: "sess-1", UserID: "u1", Title: "hello"}))

	found, err := repo.GetByIDAndUserID("sess-1", "u1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "hello", found.Title)

	foreign, err := repo.GetByIDAndUserID("sess-1", "u2")
	require.NoError(t, err)
	assert.Nil(t, foreign)

	missing, err := repo.GetByIDAndUserID("nope", "u1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListSessionsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(&model.ChatSession{ID: "older", UserID: "u1", Title: "first", CreatedAt: old}))
	require.NoError(t, repo.Create(&model.ChatSession{ID: "newer", UserID: "u1", Title: "second", CreatedAt: time.Now()}))
	require.NoError(t, repo.Create(&model.ChatSession{ID: "other", UserID: "u2", Title: "foreign"}))

	sessions, err := repo.ListByUserID("u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "newer", sessions[0].ID)
	assert.Equal(t, "older", sessions[1].ID)
}

func TestUserLookup(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)

	require.NoError(t, repo.Create(&model.User{ID: "u1", Email: "a@example.com", PasswordHash: "hash"}))

	byEmail, err := repo.GetByEmail("a@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "u1", byEmail.ID)

	byID, err := repo.GetByID("u1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "a@example.com", byID.Email)

	missing, err := repo.GetByEmail("nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
