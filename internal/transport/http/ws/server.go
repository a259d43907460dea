package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/sqlagent/internal/domain"
	"github.com/xiaot623/gogo/sqlagent/internal/service"
)

// Client frame types.
const (
	TypeAsk    = "ask"
	TypeCancel = "cancel"
)

// ClientMessage is a frame sent by a websocket client.
type ClientMessage struct {
	Type           string `json:"type"`
	Question       string `json:"question,omitempty"`
	EnableThinking bool   `json:"enable_thinking,omitempty"`
	PlanToken      string `json:"plan_token,omitempty"`
}

// Asker runs a turn. It is satisfied by *service.Service.
type Asker interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	Ask(ctx context.Context, req service.AskRequest, sink service.EnvelopeSink) (*service.AskResult, error)
}

// Config holds websocket timings.
type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the timings used when none are configured.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Server handles WebSocket connections.
type Server struct {
	cfg      Config
	hub      *Hub
	asker    Asker
	upgrader websocket.Upgrader

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config, h *Hub, asker Asker) *Server {
	return &Server{
		cfg:   cfg,
		hub:   h,
		asker: asker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		running: make(map[string]context.CancelFunc),
	}
}

// HandleWebSocket upgrades GET /v1/chat/ws?session_id=... and binds the connection to the session.
func (s *Server) HandleWebSocket(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session_id is required"})
	}
	if _, err := s.asker.GetSession(c.Request().Context(), sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws, sessionID)
	ctx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(ctx, conn)

	return nil
}

func (s *Server) readPump(ctx context.Context, conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", conn.ID).Msg("websocket closed unexpectedly")
			}
			return
		}
		s.handleMessage(ctx, conn, message)
	}
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Str("conn_id", conn.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *Connection, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "invalid JSON message")
		return
	}

	switch msg.Type {
	case TypeAsk:
		s.handleAsk(ctx, conn, msg)
	case TypeCancel:
		s.handleCancel(conn)
	default:
		s.sendError(conn, "unknown message type: "+msg.Type)
	}
}

// handleAsk starts a turn. Its events reach every connection of the session through the hub.
func (s *Server) handleAsk(ctx context.Context, conn *Connection, msg ClientMessage) {
	askCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if _, busy := s.running[conn.ID]; busy {
		s.mu.Unlock()
		cancel()
		s.sendError(conn, "a question is already running on this connection")
		return
	}
	s.running[conn.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, conn.ID)
			s.mu.Unlock()
			cancel()
		}()

		res, err := s.asker.Ask(askCtx, service.AskRequest{
			SessionID:      conn.SessionID,
			Question:       msg.Question,
			EnableThinking: msg.EnableThinking,
			PlanToken:      msg.PlanToken,
		}, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info().Str("conn_id", conn.ID).Msg("question cancelled")
				return
			}
			s.sendError(conn, err.Error())
			return
		}
		log.Debug().Str("turn_id", res.TurnID).Str("status", string(res.Status)).Msg("question finished")
	}()
}

func (s *Server) handleCancel(conn *Connection) {
	s.mu.Lock()
	cancel, ok := s.running[conn.ID]
	s.mu.Unlock()
	if !ok {
		s.sendError(conn, "no question is running")
		return
	}
	cancel()
}

func (s *Server) sendError(conn *Connection, message string) {
	env := domain.Envelope{
		SessionID: conn.SessionID,
		Ts:        time.Now().UnixMilli(),
		Type:      domain.EventTypeError,
		Data:      domain.ErrorEventData{Message: message},
	}
	if err := s.hub.SendJSON(conn, env); err != nil {
		log.Warn().Err(err).Str("conn_id", conn.ID).Msg("failed to send error")
	}
}
