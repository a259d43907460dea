package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/sqlagent/internal/agent"
	"github.com/xiaot623/gogo/sqlagent/internal/domain"
)

// AskRequest is one question for a session.
type AskRequest struct {
	SessionID      string `json:"session_id"`
	Question       string `json:"question"`
	EnableThinking bool   `json:"enable_thinking"`
	PlanToken      string `json:"plan_token,omitempty"`
}

// AskResult is the outcome of a finished turn.
type AskResult struct {
	TurnID string `json:"turn_id"`
	*agent.Result
}

// EnvelopeSink receives every event of a turn, tagged with its session and turn.
type EnvelopeSink func(env domain.Envelope) error

// Ask runs one turn for a session. Every event is persisted, published and passed to sink.
// When the turn finishes with done, the assistant message is persisted and added to memory.
// A cancelled ctx stops the turn; it is recorded as CANCELLED and ctx.Err() is returned.
func (s *Service) Ask(ctx context.Context, req AskRequest, sink EnvelopeSink) (*AskResult, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	if req.Question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}

	session, err := s.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.NeedsTitle() {
		session.Title = SessionTitle(req.Question)
		session.UpdatedAt = time.Now()
		if err := s.store.UpdateSession(ctx, session); err != nil {
			log.Error().Err(err).Str("session_id", session.SessionID).Msg("failed to update session title")
		}
	}

	// Hydrate before the new question is persisted so it enters the window exactly once.
	conv := s.memory.Get(ctx, session.SessionID)

	now := time.Now()
	turnID := "turn_" + uuid.NewString()
	if err := s.store.CreateMessage(ctx, &domain.Message{
		MessageID: "msg_" + uuid.NewString(),
		SessionID: session.SessionID,
		TurnID:    turnID,
		Role:      domain.RoleUser,
		Content:   req.Question,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}
	conv.AddUserMessage(req.Question)

	if err := s.store.CreateTurn(ctx, &domain.Turn{
		TurnID:    turnID,
		SessionID: session.SessionID,
		Question:  req.Question,
		Status:    domain.TurnStatusRunning,
		StartedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to create turn: %w", err)
	}

	// Bookkeeping must survive a cancelled request.
	persistCtx := context.WithoutCancel(ctx)
	emit := func(ev domain.Event) error {
		env := domain.Envelope{
			SessionID: session.SessionID,
			TurnID:    turnID,
			Ts:        time.Now().UnixMilli(),
			Type:      ev.Type,
			Data:      ev.Data,
		}
		s.recordEvent(persistCtx, env)
		s.publish(env)
		if sink == nil {
			return nil
		}
		return sink(env)
	}

	result, err := s.runner.Run(ctx, agent.TurnRequest{
		SessionID:      session.SessionID,
		TurnID:         turnID,
		Question:       req.Question,
		EnableThinking: req.EnableThinking,
		DatabaseKey:    session.DatabaseKey,
		PlanToken:      req.PlanToken,
	}, emit)
	if err != nil {
		if cerr := s.store.CompleteTurn(persistCtx, turnID, domain.TurnStatusCancelled, err.Error()); cerr != nil {
			log.Error().Err(cerr).Str("turn_id", turnID).Msg("failed to mark turn cancelled")
		}
		return nil, err
	}

	if err := s.store.UpdateTurnIntent(persistCtx, turnID, result.Intent); err != nil {
		log.Error().Err(err).Str("turn_id", turnID).Msg("failed to record turn intent")
	}
	if result.Status == domain.TurnStatusDone {
		s.saveAnswer(persistCtx, session.SessionID, turnID, result)
		conv.AddAssistantMessage(result.Summary)
		if err := s.store.TouchSession(persistCtx, session.SessionID, time.Now()); err != nil {
			log.Error().Err(err).Str("session_id", session.SessionID).Msg("failed to bump session timestamp")
		}
	}
	if err := s.store.CompleteTurn(persistCtx, turnID, result.Status, result.Error); err != nil {
		log.Error().Err(err).Str("turn_id", turnID).Msg("failed to complete turn")
	}
	return &AskResult{TurnID: turnID, Result: result}, nil
}

func (s *Service) saveAnswer(ctx context.Context, sessionID, turnID string, result *agent.Result) {
	msg := &domain.Message{
		MessageID: "msg_" + uuid.NewString(),
		SessionID: sessionID,
		TurnID:    turnID,
		Role:      domain.RoleAssistant,
		Content:   result.Summary,
		SQL:       result.SQL,
		Reasoning: result.Reasoning,
		CreatedAt: time.Now(),
	}
	if result.Chart != nil {
		if b, err := json.Marshal(result.Chart.Option); err == nil {
			msg.ChartCfg = b
		}
	}
	if result.Data != nil {
		if b, err := json.Marshal(result.Data); err == nil {
			msg.Data = b
		}
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("turn_id", turnID).Msg("failed to save assistant message")
	}
}

// recordEvent records an event to the store.
func (s *Service) recordEvent(ctx context.Context, env domain.Envelope) {
	payload, err := json.Marshal(env.Data)
	if err != nil {
		log.Error().Err(err).Str("turn_id", env.TurnID).Str("type", string(env.Type)).Msg("failed to marshal event payload")
		return
	}
	if err := s.store.CreateEvent(ctx, &domain.TurnEvent{
		EventID: "evt_" + uuid.NewString(),
		TurnID:  env.TurnID,
		Ts:      env.Ts,
		Type:    env.Type,
		Payload: payload,
	}); err != nil {
		log.Error().Err(err).Str("turn_id", env.TurnID).Str("type", string(env.Type)).Msg("failed to record event")
	}
}

func (s *Service) publish(env domain.Envelope) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(env); err != nil {
		log.Warn().Err(err).Str("turn_id", env.TurnID).Msg("failed to publish event")
	}
}

// GetTurn returns a turn or ErrTurnNotFound.
func (s *Service) GetTurn(ctx context.Context, turnID string) (*domain.Turn, error) {
	turn, err := s.store.GetTurn(ctx, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	if turn == nil {
		return nil, fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	return turn, nil
}

// GetTurnEvents replays the recorded events of a turn.
func (s *Service) GetTurnEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.TurnEvent, error) {
	if _, err := s.GetTurn(ctx, turnID); err != nil {
		return nil, err
	}
	events, err := s.store.GetEvents(ctx, turnID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}
