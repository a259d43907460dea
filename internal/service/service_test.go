package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
	"github.com/xiaot623/gogo/sqlagent/internal/adapter/llm"
	"github.com/xiaot623/gogo/sqlagent/internal/agent"
	"github.com/xiaot623/gogo/sqlagent/internal/chart"
	"github.com/xiaot623/gogo/sqlagent/internal/domain"
	"github.com/xiaot623/gogo/sqlagent/internal/executor"
	"github.com/xiaot623/gogo/sqlagent/internal/memory"
	"github.com/xiaot623/gogo/sqlagent/internal/repository"
	"github.com/xiaot623/gogo/sqlagent/internal/schema"
	"github.com/xiaot623/gogo/sqlagent/internal/sqlguard"
)

type stubRunner struct {
	events []domain.Event
	result *agent.Result
	err    error
	got    agent.TurnRequest
}

func (r *stubRunner) Run(ctx context.Context, req agent.TurnRequest, emit agent.Emitter) (*agent.Result, error) {
	r.got = req
	for _, ev := range r.events {
		if err := emit(ev); err != nil {
			return nil, err
		}
	}
	return r.result, r.err
}

type capturePublisher struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (p *capturePublisher) Publish(env domain.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

type fixture struct {
	svc      *Service
	store    *repository.SQLiteStore
	memory   *memory.Manager
	registry *database.Registry
	schemas  *schema.Service
	pub      *capturePublisher
}

func businessDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "business.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
		INSERT INTO users (name) VALUES ('alice'), ('bob'), ('carol');`)
	require.NoError(t, err)
	return path
}

func newFixture(t *testing.T, runner TurnRunner) *fixture {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := database.NewRegistry()
	require.NoError(t, reg.Register("business", database.Config{Type: database.TypeSQLite, Name: "Business", Path: businessDB(t)}))
	require.NoError(t, reg.Register("archive", database.Config{Type: database.TypeSQLite, Name: "Archive", Path: businessDB(t)}))
	t.Cleanup(func() { reg.DisconnectAll(context.Background()) })

	schemas := schema.NewService(reg, "business", 0)
	mem := memory.NewManager(store, 10)
	pub := &capturePublisher{}
	if runner == nil {
		runner = agent.New(llm.NewMockClient(), schemas, executor.New(reg, sqlguard.NewValidator(nil)), mem, agent.Options{DirectQuery: true})
	}
	return &fixture{
		svc:      New(store, runner, mem, schemas, reg, pub),
		store:    store,
		memory:   mem,
		registry: reg,
		schemas:  schemas,
		pub:      pub,
	}
}

func (f *fixture) session(t *testing.T) *domain.Session {
	t.Helper()
	session, err := f.svc.CreateSession(context.Background(), CreateSessionRequest{})
	require.NoError(t, err)
	return session
}

func doneRunner() *stubRunner {
	spec := &chart.Spec{ChartType: chart.TypeCard, Option: map[string]any{"chart_type": "card", "value": 3}}
	return &stubRunner{
		events: []domain.Event{
			domain.NewContentEvent(domain.EventTypeThinking, "working"),
			{Type: domain.EventTypeSQLGenerated, Data: domain.SQLGeneratedEventData{SQL: "SELECT COUNT(*) FROM users"}},
			{Type: domain.EventTypeDone, Data: domain.DoneEventData{Summary: "3 users", SQL: "SELECT COUNT(*) FROM users"}},
		},
		result: &agent.Result{
			Intent:    domain.IntentSQLQuery,
			Status:    domain.TurnStatusDone,
			Summary:   "3 users",
			SQL:       "SELECT COUNT(*) FROM users",
			Chart:     spec,
			Data:      &executor.Result{Columns: []string{"n"}, Rows: []map[string]any{{"n": 3}}, RowCount: 1},
			Reasoning: "count rows",
		},
	}
}

func TestSessionTitle(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     string
	}{
		{name: "short kept whole", question: "how many users?", want: "how many users?"},
		{name: "exactly thirty", question: "abcdefghijabcdefghijabcdefghij", want: "abcdefghijabcdefghijabcdefghij"},
		{name: "cut at punctuation", question: "Show revenue by month, split by region and product line please", want: "Show revenue by month,"},
		{name: "punctuation too early", question: "Hi, show me the full revenue breakdown for every region", want: "Hi, show me the full revenue b..."},
		{name: "no punctuation", question: "list every customer who ordered more than five times last year", want: "list every customer who ordere..."},
		{name: "wide punctuation", question: "统计每个地区的销售额，并按月份分组展示趋势变化以及同比增长率和环比增长率的对比情况", want: "统计每个地区的销售额，"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionTitle(tt.question))
		})
	}
}

func TestAskPersistsTurn(t *testing.T) {
	ctx := context.Background()
	runner := doneRunner()
	f := newFixture(t, runner)
	session := f.session(t)
	assert.Equal(t, domain.DefaultSessionTitle, session.Title)

	var received []domain.Envelope
	res, err := f.svc.Ask(ctx, AskRequest{SessionID: session.SessionID, Question: "How many users?", EnableThinking: true}, func(env domain.Envelope) error {
		received = append(received, env)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.TurnID)
	assert.Equal(t, domain.TurnStatusDone, res.Status)

	assert.Equal(t, "business", runner.got.DatabaseKey)
	assert.True(t, runner.got.EnableThinking)
	assert.Equal(t, res.TurnID, runner.got.TurnID)

	require.Len(t, received, 3)
	for _, env := range received {
		assert.Equal(t, session.SessionID, env.SessionID)
		assert.Equal(t, res.TurnID, env.TurnID)
	}
	assert.Len(t, f.pub.envs, 3)

	got, err := f.svc.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "How many users?", got.Title)

	messages, err := f.svc.GetMessages(ctx, session.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)
	assert.Equal(t, "3 users", messages[1].Content)
	assert.Equal(t, "SELECT COUNT(*) FROM users", messages[1].SQL)
	assert.Equal(t, "count rows", messages[1].Reasoning)
	assert.JSONEq(t, `{"chart_type":"card","value":3}`, string(messages[1].ChartCfg))
	assert.JSONEq(t, `{"columns":["n"],"rows":[{"n":3}],"row_count":1}`, string(messages[1].Data))

	turn, err := f.svc.GetTurn(ctx, res.TurnID)
	require.NoError(t, err)
	assert.Equal(t, domain.TurnStatusDone, turn.Status)
	assert.Equal(t, domain.IntentSQLQuery, turn.Intent)

	events, err := f.svc.GetTurnEvents(ctx, res.TurnID, 0, nil, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventTypeThinking, events[0].Type)
	assert.Equal(t, domain.EventTypeDone, events[2].Type)
	assert.JSONEq(t, `{"sql":"SELECT COUNT(*) FROM users"}`, string(events[1].Payload))

	entries := f.memory.Get(ctx, session.SessionID).Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "How many users?", entries[0].Content)
	assert.Equal(t, "3 users", entries[1].Content)
}

func TestAskKeepsCustomTitle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, doneRunner())
	session, err := f.svc.CreateSession(ctx, CreateSessionRequest{Title: "Quarterly review"})
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, AskRequest{SessionID: session.SessionID, Question: "How many users?"}, nil)
	require.NoError(t, err)

	got, err := f.svc.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly review", got.Title)
}

func TestAskFailedTurnSkipsAnswer(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{
		events: []domain.Event{{Type: domain.EventTypeError, Data: domain.ErrorEventData{Message: "analysis failed: boom"}}},
		result: &agent.Result{Intent: domain.IntentSQLQuery, Status: domain.TurnStatusFailed, Error: "analysis failed: boom"},
	}
	f := newFixture(t, runner)
	session := f.session(t)

	res, err := f.svc.Ask(ctx, AskRequest{SessionID: session.SessionID, Question: "How many users?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TurnStatusFailed, res.Status)

	messages, err := f.svc.GetMessages(ctx, session.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	turn, err := f.svc.GetTurn(ctx, res.TurnID)
	require.NoError(t, err)
	assert.Equal(t, domain.TurnStatusFailed, turn.Status)
	assert.Equal(t, "analysis failed: boom", turn.Error)
	assert.Len(t, f.memory.Get(ctx, session.SessionID).Entries(), 1)
}

func TestAskCancelledTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubRunner{err: context.Canceled})
	session := f.session(t)

	res, err := f.svc.Ask(ctx, AskRequest{SessionID: session.SessionID, Question: "How many users?"}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	turns, err := f.store.GetMessages(ctx, session.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	cancelled, err := f.svc.GetTurn(ctx, turns[0].TurnID)
	require.NoError(t, err)
	assert.Equal(t, domain.TurnStatusCancelled, cancelled.Status)
}

func TestAskValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, doneRunner())

	_, err := f.svc.Ask(ctx, AskRequest{SessionID: "sess_missing", Question: "hi"}, nil)
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	_, err = f.svc.Ask(ctx, AskRequest{SessionID: "sess_missing", Question: "   "}, nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = f.svc.Ask(ctx, AskRequest{Question: "hi"}, nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestAskHydratesMemoryOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, doneRunner())
	session := f.session(t)

	_, err := f.svc.Ask(ctx, AskRequest{SessionID: session.SessionID, Question: "first"}, nil)
	require.NoError(t, err)

	// A restart loses the in-process window; the next turn rebuilds it from the store.
	f.memory.ClearAll()
	_, err = f.svc.Ask(ctx, AskRequest{SessionID: session.SessionID, Question: "second"}, nil)
	require.NoError(t, err)

	entries := f.memory.Get(ctx, session.SessionID).Entries()
	contents := make([]string, len(entries))
	for i, e := range entries {
		contents[i] = e.Content
	}
	assert.Equal(t, []string{"first", "3 users", "second", "3 users"}, contents)
}

func TestUpdateSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, doneRunner())
	session := f.session(t)

	title := "Renamed"
	key := "archive"
	got, err := f.svc.UpdateSession(ctx, session.SessionID, UpdateSessionRequest{Title: &title, DatabaseKey: &key})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "archive", got.DatabaseKey)

	unknown := "nope"
	_, err = f.svc.UpdateSession(ctx, session.SessionID, UpdateSessionRequest{DatabaseKey: &unknown})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	blank := " "
	_, err = f.svc.UpdateSession(ctx, session.SessionID, UpdateSessionRequest{Title: &blank})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestCreateSessionRejectsUnknownDatabase(t *testing.T) {
	f := newFixture(t, doneRunner())
	_, err := f.svc.CreateSession(context.Background(), CreateSessionRequest{DatabaseKey: "nope"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestDeleteSessionClearsMemory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, doneRunner())
	session := f.session(t)
	_, err := f.svc.Ask(ctx, AskRequest{SessionID: session.SessionID, Question: "hi"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSession(ctx, session.SessionID))
	_, err = f.svc.GetSession(ctx, session.SessionID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Empty(t, f.memory.Get(ctx, session.SessionID).Entries())

	err = f.svc.DeleteSession(ctx, session.SessionID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestAskEndToEndWithMockModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	session := f.session(t)

	var types []domain.EventType
	res, err := f.svc.Ask(ctx, AskRequest{SessionID: session.SessionID, Question: "list all tables"}, func(env domain.Envelope) error {
		types = append(types, env.Type)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, domain.TurnStatusDone, res.Status, res.Error)
	assert.Contains(t, res.SQL, "sqlite_master")
	require.NotNil(t, res.Data)
	assert.Equal(t, []map[string]any{{"name": "users"}}, res.Data.Rows)
	assert.Equal(t, chart.TypeTable, res.Chart.ChartType)
	assert.Contains(t, types, domain.EventTypeSQLResult)
	assert.Equal(t, domain.EventTypeDone, types[len(types)-1])
}

func TestDatabaseOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, doneRunner())

	snap, err := f.svc.GetSchema(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "business", snap.Database)
	assert.Equal(t, []string{"users"}, snap.Tables)
	assert.Contains(t, snap.Schema, "CREATE TABLE users")

	sample, err := f.svc.SampleData(ctx, "business", "users", 2)
	require.NoError(t, err)
	assert.Equal(t, "  (1, 'alice')\n  (2, 'bob')", sample)

	info, err := f.svc.ConnectDatabase(ctx, "archive")
	require.NoError(t, err)
	assert.Equal(t, "Archive", info.Name)

	dbs := f.svc.ListDatabases(ctx)
	require.Len(t, dbs, 2)
	assert.Equal(t, "archive", dbs[0].Key)
	assert.True(t, dbs[0].Connected)
	assert.False(t, dbs[0].Active)
	assert.True(t, dbs[1].Active)

	require.NoError(t, f.svc.DisconnectDatabase(ctx, "archive"))
	_, err = f.svc.ConnectDatabase(ctx, "nope")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
