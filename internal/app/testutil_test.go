package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"worison/internal/ai"
	"worison/internal/extract"
	"worison/internal/model"
	"worison/internal/storage"
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

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	base := t.TempDir()
	store, err := storage.New(filepath.Join(base, "uploads"), filepath.Join(base, "data"))
	require.NoError(t, err)
	return store
}

// fixedReplyGateway serves every completion with the same content so
// flow tests never wait on retries.
func fixedReplyGateway(t *testing.T, reply string) *ai.Gateway {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + reply + `"}}]}`))
	}))
	t.Cleanup(server.Close)
	return ai.NewGateway(ai.NewOpenAICompatibleClient(), ai.ChatConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	})
}

func offlineGateway() *ai.Gateway {
	return ai.NewGateway(nil, ai.ChatConfig{})
}

// recordingPublisher captures published messages in order instead of
// routing them through a broker.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []model.Message
	fail     bool
}

func (p *recordingPublisher) Publish(_ context.Context, msg model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return ErrMessageEnqueue
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) published() []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func newTestDocumentService(t *testing.T, gateway *ai.Gateway) *DocumentService {
	t.Helper()
	return NewDocumentService(newTestStore(t), extract.New("eng", 200), gateway, ai.NewOpenAICompatibleClient(), ai.EmbeddingConfig{})
}

// newEmbeddingDocumentService backs a service with a stub embeddings
// endpoint that answers every input with the same unit vector.
func newEmbeddingDocumentService(t *testing.T, store *storage.Store) *DocumentService {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input interface{} `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		n := 1
		if arr, ok := req.Input.([]interface{}); ok {
			n = len(arr)
		}
		items := make([]string, 0, n)
		for i := 0; i < n; i++ {
			items = append(items, `{"embedding":[1,0]}`)
		}
		_, _ = w.Write([]byte(`{"data":[` + strings.Join(items, ",") + `]}`))
	}))
	t.Cleanup(server.Close)

	cfg := ai.EmbeddingConfig{BaseURL: server.URL, APIKey: "test-key", Model: "emb"}
	return NewDocumentService(store, extract.New("eng", 200), offlineGateway(), ai.NewOpenAICompatibleClient(), cfg)
}
