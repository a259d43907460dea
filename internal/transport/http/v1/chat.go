package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/sqlagent/internal/domain"
	"github.com/xiaot623/gogo/sqlagent/internal/service"
)

// ChatStream runs one question and streams its events as server-sent events.
// POST /v1/chat/stream
func (h *Handler) ChatStream(c echo.Context) error {
	var req service.AskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	ctx := c.Request().Context()

	// Reject unknown sessions while a status code can still be sent.
	if req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session_id is required"})
	}
	if _, err := h.service.GetSession(ctx, req.SessionID); err != nil {
		return errorJSON(c, err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	// A failed write means the client is gone even if ctx has not noticed yet.
	clientGone := false
	_, err := h.service.Ask(ctx, req, func(env domain.Envelope) error {
		if err := writeEvent(resp, string(env.Type), env.Data); err != nil {
			clientGone = true
			return err
		}
		return nil
	})
	if err != nil {
		if clientGone || ctx.Err() != nil {
			log.Info().Err(err).Str("session_id", req.SessionID).Msg("chat stream closed by client")
			return nil
		}
		// The turn never started, so no terminal event was written.
		if werr := writeEvent(resp, string(domain.EventTypeError), domain.ErrorEventData{Message: err.Error()}); werr != nil {
			log.Warn().Err(werr).Msg("failed to write error event")
		}
	}
	return nil
}

func writeEvent(resp *echo.Response, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
