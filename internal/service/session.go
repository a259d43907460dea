package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/sqlagent/internal/domain"
)

const (
	sessionStatusActive = "active"
	maxTitleRunes       = 30
	minTitleCut         = 10
	titleBreaks         = "，。！？,.!?:：；;"
)

// SessionTitle derives a display title from the first question: questions of up to 30
// characters are kept whole; longer ones are cut after the last punctuation mark found past the
// tenth character, or at 30 characters with an ellipsis.
func SessionTitle(question string) string {
	runes := []rune(strings.TrimSpace(question))
	if len(runes) <= maxTitleRunes {
		return string(runes)
	}
	for i := maxTitleRunes; i > minTitleCut; i-- {
		if strings.ContainsRune(titleBreaks, runes[i-1]) {
			return string(runes[:i])
		}
	}
	return string(runes[:maxTitleRunes]) + "..."
}

// CreateSessionRequest is the input of CreateSession.
type CreateSessionRequest struct {
	Title       string `json:"title"`
	DatabaseKey string `json:"database_key"`
}

// CreateSession creates a session bound to the requested or active database.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	key := s.schemas.Resolve(req.DatabaseKey)
	if err := s.requireDatabase(key); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = domain.DefaultSessionTitle
	}

	now := time.Now()
	session := &domain.Session{
		SessionID:   "sess_" + uuid.NewString(),
		Title:       title,
		DatabaseKey: key,
		Status:      sessionStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession returns a session or ErrSessionNotFound.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// ListSessions lists sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	sessions, err := s.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionRequest carries optional changes; nil fields are left untouched.
type UpdateSessionRequest struct {
	Title       *string `json:"title,omitempty"`
	DatabaseKey *string `json:"database_key,omitempty"`
}

// UpdateSession renames a session or rebinds it to another database. Rebinding invalidates the
// schema cache of the new key.
func (s *Service) UpdateSession(ctx context.Context, sessionID string, req UpdateSessionRequest) (*domain.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
		}
		session.Title = title
	}
	if req.DatabaseKey != nil && *req.DatabaseKey != session.DatabaseKey {
		if err := s.requireDatabase(*req.DatabaseKey); err != nil {
			return nil, err
		}
		s.schemas.ClearCache(*req.DatabaseKey)
		session.DatabaseKey = *req.DatabaseKey
	}
	session.UpdatedAt = time.Now()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session, its history and its memory window.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.memory.Clear(sessionID)
	return nil
}

// GetMessages returns the persisted messages of a session in creation order.
func (s *Service) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}
