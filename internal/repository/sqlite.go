package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/xiaot623/gogo/sqlagent/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			database_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sql TEXT,
			chart_cfg TEXT,
			reasoning TEXT,
			data TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			question TEXT NOT NULL,
			intent TEXT,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS turn_events (
			event_id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (turn_id) REFERENCES turns(turn_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turn_events_turn ON turn_events(turn_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, database_key, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.Title, session.DatabaseKey, session.Status, session.CreatedAt, session.UpdatedAt)
	return errors.Wrap(err, "insert session")
}

const sessionColumns = `session_id, title, database_key, status, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var session domain.Session
	if err := row.Scan(&session.SessionID, &session.Title, &session.DatabaseKey, &session.Status, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves a session by ID. It returns nil, nil when the session does not exist.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	return session, nil
}

// ListSessions returns sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// UpdateSession overwrites title, database key, status and updated_at.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, database_key = ?, status = ?, updated_at = ? WHERE session_id = ?`,
		session.Title, session.DatabaseKey, session.Status, session.UpdatedAt, session.SessionID)
	return errors.Wrap(err, "update session")
}

// TouchSession bumps updated_at.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`, at, sessionID)
	return errors.Wrap(err, "touch session")
}

// DeleteSession removes a session with its messages, turns and events.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete session")
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM turn_events WHERE turn_id IN (SELECT turn_id FROM turns WHERE session_id = ?)`,
		`DELETE FROM turns WHERE session_id = ?`,
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
			return errors.Wrap(err, "delete session")
		}
	}
	return errors.Wrap(tx.Commit(), "commit delete session")
}

// CreateMessage creates a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, turn_id, role, content, sql, chart_cfg, reasoning, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.SessionID, nullString(message.TurnID), message.Role, message.Content,
		nullString(message.SQL), nullJSON(message.ChartCfg), nullString(message.Reasoning), nullJSON(message.Data),
		message.CreatedAt)
	return errors.Wrap(err, "insert message")
}

// GetMessages retrieves messages for a session in chronological order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `SELECT message_id, session_id, turn_id, role, content, sql, chart_cfg, reasoning, data, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "get messages")
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var turnID, sqlText, chartCfg, reasoning, data sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &turnID, &msg.Role, &msg.Content,
			&sqlText, &chartCfg, &reasoning, &data, &msg.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.TurnID = turnID.String
		msg.SQL = sqlText.String
		msg.Reasoning = reasoning.String
		if chartCfg.Valid {
			msg.ChartCfg = json.RawMessage(chartCfg.String)
		}
		if data.Valid {
			msg.Data = json.RawMessage(data.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateTurn creates a new turn.
func (s *SQLiteStore) CreateTurn(ctx context.Context, turn *domain.Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, session_id, question, intent, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.TurnID, turn.SessionID, turn.Question, nullString(string(turn.Intent)), turn.Status, turn.StartedAt)
	return errors.Wrap(err, "insert turn")
}

// GetTurn retrieves a turn by ID. It returns nil, nil when the turn does not exist.
func (s *SQLiteStore) GetTurn(ctx context.Context, turnID string) (*domain.Turn, error) {
	var turn domain.Turn
	var intent, errMsg sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT turn_id, session_id, question, intent, status, started_at, ended_at, error FROM turns WHERE turn_id = ?`,
		turnID).Scan(&turn.TurnID, &turn.SessionID, &turn.Question, &intent, &turn.Status, &turn.StartedAt, &endedAt, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get turn")
	}
	turn.Intent = domain.Intent(intent.String)
	turn.Error = errMsg.String
	if endedAt.Valid {
		turn.EndedAt = &endedAt.Time
	}
	return &turn, nil
}

// UpdateTurnIntent records the classified intent.
func (s *SQLiteStore) UpdateTurnIntent(ctx context.Context, turnID string, intent domain.Intent) error {
	_, err := s.db.ExecContext(ctx, `UPDATE turns SET intent = ? WHERE turn_id = ?`, intent, turnID)
	return errors.Wrap(err, "update turn intent")
}

// CompleteTurn moves a turn to a terminal status.
func (s *SQLiteStore) CompleteTurn(ctx context.Context, turnID string, status domain.TurnStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE turns SET status = ?, ended_at = ?, error = ? WHERE turn_id = ?`,
		status, time.Now(), nullString(errMsg), turnID)
	return errors.Wrap(err, "complete turn")
}

// CreateEvent creates a new turn event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.TurnEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turn_events (event_id, turn_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.TurnID, event.Ts, event.Type, nullJSON(event.Payload))
	return errors.Wrap(err, "insert event")
}

// GetEvents retrieves events for a turn in emission order.
func (s *SQLiteStore) GetEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.TurnEvent, error) {
	query := `SELECT event_id, turn_id, ts, type, payload FROM turn_events WHERE turn_id = ?`
	args := []interface{}{turnID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "get events")
	}
	defer rows.Close()

	events := []domain.TurnEvent{}
	for rows.Next() {
		var event domain.TurnEvent
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.TurnID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
