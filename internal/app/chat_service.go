package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"worison/internal/ai"
	"worison/internal/model"
	"worison/internal/repository"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageEmpty    = errors.New("no input provided")
	ErrMessageEnqueue  = errors.New("message enqueue failed")
)

const sessionTitleLimit = 60

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

// ChatService decides what context accompanies a user's message and
// persists the resulting turn pair.
type ChatService struct {
	sessionRepo  *repository.SessionRepository
	messageRepo  *repository.MessageRepository
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
	gateway      *ai.Gateway
	documents    *DocumentService
}

type SendMessageInput struct {
	UserID    string
	SessionID string
	Message   string
}

type SendMessageResult struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

func NewChatService(
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	gateway *ai.Gateway,
	documents *DocumentService,
) *ChatService {
	return &ChatService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		publisher:    publisher,
		historyCache: historyCache,
		gateway:      gateway,
		documents:    documents,
	}
}

// SendMessage runs one full chat turn: resolve or lazily create the
// session, compose the outgoing message with the most recent file
// grounding, call the model, and persist both turns in order.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*SendMessageResult, error) {
	if input.UserID == "" {
		return nil, ErrInvalidInput
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return nil, ErrMessageEmpty
	}

	sessionID := input.SessionID
	var history []model.Message
	if sessionID == "" {
		session := &model.ChatSession{
			ID:     uuid.New().String(),
			UserID: input.UserID,
			Title:  truncateTitle(message),
		}
		if err := s.sessionRepo.Create(session); err != nil {
			return nil, err
		}
		sessionID = session.ID
	} else {
		session, err := s.sessionRepo.GetByIDAndUserID(sessionID, input.UserID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, ErrSessionNotFound
		}
		history, err = s.loadHistory(ctx, input.UserID, sessionID)
		if err != nil {
			return nil, err
		}
	}

	composed := s.composeWithFileGrounding(message, history)

	turns := make([]ai.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, ai.Turn{Role: m.Role, Content: m.Content})
	}
	response := s.gateway.Chat(ctx, composed, turns).Render()

	if err := s.appendTurn(ctx, input.UserID, sessionID, model.RoleUser, composed); err != nil {
		return nil, err
	}
	if err := s.appendTurn(ctx, input.UserID, sessionID, model.RoleAssistant, response); err != nil {
		return nil, err
	}

	return &SendMessageResult{SessionID: sessionID, Response: response}, nil
}

// AttachFile records an uploaded file as a turn in the session so
// later messages can be grounded on it.
func (s *ChatService) AttachFile(ctx context.Context, userID, sessionID string, turn model.FileTurn) error {
	if userID == "" || sessionID == "" || turn.FileID == "" {
		return ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	return s.appendTurn(ctx, userID, sessionID, model.RoleFile, turn.Encode())
}

func (s *ChatService) ListSessions(userID string) ([]model.ChatSession, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.sessionRepo.ListByUserID(userID)
}

// SessionMessages returns a session's turns in strict insertion order.
func (s *ChatService) SessionMessages(ctx context.Context, userID, sessionID string) ([]model.Message, error) {
	if userID == "" || sessionID == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return s.loadHistory(ctx, userID, sessionID)
}

// composeWithFileGrounding scans backward for the most recent file
// turn and prepends its extracted text as a delimited block. Only that
// single turn is considered; older file turns are not re-injected.
func (s *ChatService) composeWithFileGrounding(message string, history []model.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != model.RoleFile {
			continue
		}
		ft, ok := model.ParseFileTurn(history[i].Content)
		if !ok {
			return message
		}
		text := s.documents.Text(ft.FileID)
		if text == "" {
			return message
		}
		return "\n\n--- File: " + ft.OriginalName + " ---\n" + text + "\n---\n" + message
	}
	return message
}

// appendTurn invalidates the cached history and enqueues the row for
// the persist worker. A single consumer keeps insertion order.
func (s *ChatService) appendTurn(ctx context.Context, userID, sessionID, role, content string) error {
	if s.publisher == nil {
		return ErrMessageEnqueue
	}
	if s.historyCache != nil {
		if err := s.historyCache.MarkDirty(ctx, sessionID); err != nil {
			log.WithField("component", "chat").WithError(err).Debug("mark history dirty failed")
		}
		if err := s.historyCache.DeleteHistory(ctx, sessionID); err != nil {
			log.WithField("component", "chat").WithError(err).Debug("drop cached history failed")
		}
	}
	msg := model.Message{
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return ErrMessageEnqueue
	}
	return nil
}

func (s *ChatService) loadHistory(ctx context.Context, userID, sessionID string) ([]model.Message, error) {
	if s.historyCache != nil {
		if dirty, err := s.historyCache.IsDirty(ctx, sessionID); err == nil && !dirty {
			if cached, hit, err := s.historyCache.GetHistory(ctx, sessionID); err == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, err := s.historyCache.IsDirty(ctx, sessionID); err == nil && !dirty {
			if err := s.historyCache.SetHistory(ctx, sessionID, messages); err != nil {
				log.WithField("component", "chat").WithError(err).Debug("fill history cache failed")
			}
		}
	}
	return messages, nil
}

func truncateTitle(message string) string {
	runes := []rune(strings.TrimSpace(message))
	if len(runes) > sessionTitleLimit {
		runes = runes[:sessionTitleLimit]
	}
	return string(runes)
}
