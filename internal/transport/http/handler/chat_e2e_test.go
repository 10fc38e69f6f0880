package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"worison/internal/ai"
	"worison/internal/app"
	"worison/internal/extract"
	"worison/internal/model"
	"worison/internal/pkg/jwtutil"
	"worison/internal/repository"
	"worison/internal/storage"
	"worison/internal/transport/http/middleware"
)

const testSecret = "e2e-secret"

// writeThroughPublisher persists synchronously, standing in for the
// queue plus worker pair.
type writeThroughPublisher struct {
	repo *repository.MessageRepository
}

func (p *writeThroughPublisher) Publish(_ context.Context, msg model.Message) error {
	return p.repo.Create(&msg)
}

type testEnv struct {
	router      *gin.Engine
	db          *gorm.DB
	sessionRepo *repository.SessionRepository
	messageRepo *repository.MessageRepository
	token       string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	modelServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"First point. Second point follows here. And a closing thought to pad the buffer out past the flush threshold for streaming."}}]}`))
	}))
	t.Cleanup(modelServer.Close)

	gateway := ai.NewGateway(ai.NewOpenAICompatibleClient(), ai.ChatConfig{
		BaseURL: modelServer.URL,
		APIKey:  "k",
		Model:   "m",
	})

	base := t.TempDir()
	store, err := storage.New(filepath.Join(base, "uploads"), filepath.Join(base, "data"))
	require.NoError(t, err)

	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	documents := app.NewDocumentService(store, extract.New("eng", 200), gateway, ai.NewOpenAICompatibleClient(), ai.EmbeddingConfig{})
	chatService := app.NewChatService(sessionRepo, messageRepo, &writeThroughPublisher{repo: messageRepo}, nil, gateway, documents)

	chatHandler := NewChatHandler(chatService)
	documentHandler := NewDocumentHandler(documents, chatService, 20<<20)

	router := gin.New()
	authed := router.Group("/")
	authed.Use(middleware.AuthJWT(testSecret))
	authed.POST("/chat", chatHandler.Chat)
	authed.POST("/stream_chat", chatHandler.StreamChat)
	authed.POST("/upload", documentHandler.Upload)
	authed.GET("/api/sessions", chatHandler.ListSessions)
	authed.GET("/api/session/:id", chatHandler.SessionMessages)

	token, err := jwtutil.GenerateToken(testSecret, time.Hour, "user-1", "u@example.com")
	require.NoError(t, err)

	return &testEnv{
		router:      router,
		db:          db,
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		token:       token,
	}
}

func (env *testEnv) do(t *testing.T, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+env.token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestChatEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", `{"message":"Hello"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		SessionID string `json:"session_id"`
		Response  string `json:"response"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.SessionID)
	assert.NotEmpty(t, body.Response)

	sessions, err := env.sessionRepo.ListByUserID("user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Hello", sessions[0].Title)

	messages, err := env.messageRepo.ListBySessionID("user-1", body.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
}

func TestChatRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", `{"message":"Hello"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatAcceptsCookieAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"Hello"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: middleware.AuthCookieName, Value: env.token})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", `{"message":"   "}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/chat", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUnknownSessionIs404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", `{"message":"hi","session_id":"ghost"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamChatReconstructsResponse(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/stream_chat", `{"message":"Hello"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	var fragments []string
	var sawDone bool
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if line == "event: done" {
			sawDone = true
			continue
		}
		if strings.HasPrefix(line, "data: ") && !sawDone {
			fragments = append(fragments, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NotEmpty(t, fragments)
	assert.True(t, sawDone)

	joined := strings.Join(fragments, "")
	assert.Contains(t, joined, "First point.")
	assert.Contains(t, joined, "closing thought")

	// the full turn pair is persisted exactly as in the non-stream path
	sessions, err := env.sessionRepo.ListByUserID("user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	messages, err := env.messageRepo.ListBySessionID("user-1", sessions[0].ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", `{"message":"Hello"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(t, http.MethodGet, "/api/sessions", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []model.ChatSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, created.SessionID, sessions[0].ID)

	rec = env.do(t, http.MethodGet, "/api/session/"+created.SessionID, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
}

func TestSessionOfOtherUserIs404(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sessionRepo.Create(&model.ChatSession{ID: "foreign", UserID: "someone-else", Title: "t"}))

	rec := env.do(t, http.MethodGet, "/api/session/foreign", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
