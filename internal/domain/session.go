package domain

import (
	"encoding/json"
	"time"
)

// Session represents a conversation bound to one database key.
type Session struct {
	SessionID   string    `json:"session_id"`
	Title       string    `json:"title"`
	DatabaseKey string    `json:"database_key"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NeedsTitle reports whether the session still carries a placeholder title.
func (s *Session) NeedsTitle() bool {
	return s.Title == "" || s.Title == DefaultSessionTitle
}

// Message is an immutable persisted chat message.
type Message struct {
	MessageID string          `json:"message_id"`
	SessionID string          `json:"session_id"`
	TurnID    string          `json:"turn_id,omitempty"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	SQL       string          `json:"sql,omitempty"`
	ChartCfg  json.RawMessage `json:"chart_cfg,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Turn is one question/answer cycle within a session.
type Turn struct {
	TurnID    string     `json:"turn_id"`
	SessionID string     `json:"session_id"`
	Question  string     `json:"question"`
	Intent    Intent     `json:"intent,omitempty"`
	Status    TurnStatus `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// TurnEvent is a persisted event emitted during a turn, kept for replay.
type TurnEvent struct {
	EventID string          `json:"event_id"`
	TurnID  string          `json:"turn_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
