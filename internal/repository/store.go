// Package repository persists sessions, messages, turns and turn events.
package repository

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/sqlagent/internal/domain"
)

// Store defines the persistence operations used by the service layer.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context, limit int) ([]domain.Session, error)
	UpdateSession(ctx context.Context, session *domain.Session) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// Turn operations
	CreateTurn(ctx context.Context, turn *domain.Turn) error
	GetTurn(ctx context.Context, turnID string) (*domain.Turn, error)
	UpdateTurnIntent(ctx context.Context, turnID string, intent domain.Intent) error
	CompleteTurn(ctx context.Context, turnID string, status domain.TurnStatus, errMsg string) error

	// Event operations
	CreateEvent(ctx context.Context, event *domain.TurnEvent) error
	GetEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.TurnEvent, error)

	Close() error
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
