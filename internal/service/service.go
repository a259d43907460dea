// Package service wraps the orchestrator with persistence, memory and event fan-out, and
// exposes session and database operations to the transports.
package service

import (
	"context"
	"errors"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
	"github.com/xiaot623/gogo/sqlagent/internal/agent"
	"github.com/xiaot623/gogo/sqlagent/internal/domain"
	"github.com/xiaot623/gogo/sqlagent/internal/memory"
	"github.com/xiaot623/gogo/sqlagent/internal/repository"
	"github.com/xiaot623/gogo/sqlagent/internal/schema"
)

var (
	// ErrInvalidInput marks requests rejected before any work is done.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTurnNotFound is returned for unknown turn IDs.
	ErrTurnNotFound = errors.New("turn not found")
)

// TurnRunner executes one orchestrated turn.
type TurnRunner interface {
	Run(ctx context.Context, req agent.TurnRequest, emit agent.Emitter) (*agent.Result, error)
}

// Publisher fans envelopes out to watchers.
type Publisher interface {
	Publish(env domain.Envelope) error
}

// Service is the application layer behind the HTTP and websocket transports.
type Service struct {
	store     repository.Store
	runner    TurnRunner
	memory    *memory.Manager
	schemas   *schema.Service
	registry  *database.Registry
	publisher Publisher
}

// New creates a service. publisher may be nil.
func New(store repository.Store, runner TurnRunner, mem *memory.Manager, schemas *schema.Service, registry *database.Registry, publisher Publisher) *Service {
	return &Service{
		store:     store,
		runner:    runner,
		memory:    mem,
		schemas:   schemas,
		registry:  registry,
		publisher: publisher,
	}
}
