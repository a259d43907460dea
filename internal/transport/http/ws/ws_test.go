package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/sqlagent/internal/agent"
	"github.com/xiaot623/gogo/sqlagent/internal/domain"
	"github.com/xiaot623/gogo/sqlagent/internal/service"
)

type fakeAsker struct {
	hub      *Hub
	sessions map[string]bool
	err      error
	block    bool
}

func (a *fakeAsker) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if !a.sessions[sessionID] {
		return nil, fmt.Errorf("%w: %s", service.ErrSessionNotFound, sessionID)
	}
	return &domain.Session{SessionID: sessionID}, nil
}

func (a *fakeAsker) Ask(ctx context.Context, req service.AskRequest, sink service.EnvelopeSink) (*service.AskResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	for _, ev := range []domain.Event{
		domain.NewContentEvent(domain.EventTypeThinking, "Identifying your question..."),
		{Type: domain.EventTypeDone, Data: domain.DoneEventData{Summary: "answer to " + req.Question}},
	} {
		data, _ := json.Marshal(domain.Envelope{SessionID: req.SessionID, TurnID: "turn_1", Type: ev.Type, Data: ev.Data})
		a.hub.Broadcast(req.SessionID, data)
	}
	return &service.AskResult{TurnID: "turn_1", Result: &agent.Result{Status: domain.TurnStatusDone}}, nil
}

type frame struct {
	SessionID string          `json:"session_id"`
	TurnID    string          `json:"turn_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func receive(t *testing.T, conn *Connection) []byte {
	t.Helper()
	select {
	case data := <-conn.send:
		return data
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message on %s", conn.ID)
		return nil
	}
}

func TestHubBroadcastsToSessionOnly(t *testing.T) {
	h := startHub(t)
	a1 := h.NewConnection(nil, "sess_a")
	a2 := h.NewConnection(nil, "sess_a")
	b := h.NewConnection(nil, "sess_b")
	h.Register(a1)
	h.Register(a2)
	h.Register(b)

	h.Broadcast("sess_a", []byte(`{"type":"thinking"}`))

	assert.Equal(t, `{"type":"thinking"}`, string(receive(t, a1)))
	assert.Equal(t, `{"type":"thinking"}`, string(receive(t, a2)))
	select {
	case data := <-b.send:
		t.Fatalf("unexpected message for other session: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 3, h.ConnectionCount())
	assert.True(t, h.HasActiveConnections("sess_a"))
}

func TestHubUnregisterClosesConnection(t *testing.T) {
	h := startHub(t)
	conn := h.NewConnection(nil, "sess_a")
	h.Register(conn)
	h.Unregister(conn)

	select {
	case _, ok := <-conn.send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel was not closed")
	}
	assert.False(t, h.HasActiveConnections("sess_a"))
	assert.ErrorIs(t, h.SendJSON(conn, map[string]string{"type": "x"}), ErrBufferFull)
}

func TestHubForwardsEnvelopes(t *testing.T) {
	h := startHub(t)
	conn := h.NewConnection(nil, "sess_a")
	h.Register(conn)

	events := make(chan domain.Envelope, 2)
	events <- domain.Envelope{SessionID: "sess_a", TurnID: "turn_1", Type: domain.EventTypeSchemaLoaded, Data: domain.SchemaLoadedEventData{Tables: []string{"users"}}}
	events <- domain.Envelope{SessionID: "sess_other", TurnID: "turn_2", Type: domain.EventTypeDone}
	close(events)
	h.Forward(events)

	var got frame
	require.NoError(t, json.Unmarshal(receive(t, conn), &got))
	assert.Equal(t, "schema_loaded", got.Type)
	assert.Equal(t, "turn_1", got.TurnID)
	assert.JSONEq(t, `{"tables":["users"]}`, string(got.Data))
}

func dial(t *testing.T, asker *fakeAsker, sessionID string) *websocket.Conn {
	t.Helper()
	srv := NewServer(DefaultConfig(), asker.hub, asker)
	e := echo.New()
	e.GET("/v1/chat/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return f
}

func TestAskStreamsSessionEvents(t *testing.T) {
	asker := &fakeAsker{hub: startHub(t), sessions: map[string]bool{"sess_a": true}}
	conn := dial(t, asker, "sess_a")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeAsk, Question: "how many users"}))

	first := readFrame(t, conn)
	assert.Equal(t, "thinking", first.Type)
	assert.Equal(t, "sess_a", first.SessionID)

	done := readFrame(t, conn)
	assert.Equal(t, "done", done.Type)
	assert.JSONEq(t, `{"summary":"answer to how many users"}`, string(done.Data))
}

func TestAskFailureSendsErrorFrame(t *testing.T) {
	asker := &fakeAsker{
		hub:      startHub(t),
		sessions: map[string]bool{"sess_a": true},
		err:      fmt.Errorf("%w: question is required", service.ErrInvalidInput),
	}
	conn := dial(t, asker, "sess_a")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeAsk}))

	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, string(f.Data), "question is required")
}

func TestUnknownFrameType(t *testing.T) {
	asker := &fakeAsker{hub: startHub(t), sessions: map[string]bool{"sess_a": true}}
	conn := dial(t, asker, "sess_a")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, string(f.Data), "unknown message type: hello")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	f = readFrame(t, conn)
	assert.Contains(t, string(f.Data), "invalid JSON message")
}

func TestCancelWithoutRunningQuestion(t *testing.T) {
	asker := &fakeAsker{hub: startHub(t), sessions: map[string]bool{"sess_a": true}}
	conn := dial(t, asker, "sess_a")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeCancel}))
	f := readFrame(t, conn)
	assert.Contains(t, string(f.Data), "no question is running")
}

func TestSecondAskWhileRunningIsRejected(t *testing.T) {
	asker := &fakeAsker{hub: startHub(t), sessions: map[string]bool{"sess_a": true}, block: true}
	conn := dial(t, asker, "sess_a")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeAsk, Question: "first"}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeAsk, Question: "second"}))
	f := readFrame(t, conn)
	assert.Contains(t, string(f.Data), "already running")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeCancel}))
}

func TestHandshakeRequiresKnownSession(t *testing.T) {
	asker := &fakeAsker{hub: startHub(t), sessions: map[string]bool{}}
	srv := NewServer(DefaultConfig(), asker.hub, asker)
	e := echo.New()

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{name: "missing", query: "", status: http.StatusBadRequest},
		{name: "unknown", query: "?session_id=sess_x", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/chat/ws"+tt.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			if err := srv.HandleWebSocket(c); err != nil {
				t.Fatalf("HandleWebSocket returned error: %v", err)
			}
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
