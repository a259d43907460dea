package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/sqlagent/internal/domain"
	"github.com/xiaot623/gogo/sqlagent/internal/transport/http/ws"
)

type askOptions struct {
	addr      string
	sessionID string
	thinking  bool
	planToken string
}

func newAskCmd(a *app) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question through a running server and print the streamed events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				opts.addr = fmt.Sprintf("http://localhost:%d", a.cfg.HTTPPort)
			}
			return ask(opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session ID (a new session is created when empty)")
	cmd.Flags().BoolVar(&opts.thinking, "thinking", false, "stream the model's reasoning")
	cmd.Flags().StringVar(&opts.planToken, "plan-token", "", "plan token from a previous answer, to run that plan")
	return cmd
}

func ask(opts *askOptions, question string) error {
	base, err := url.Parse(opts.addr)
	if err != nil {
		return fmt.Errorf("invalid addr: %w", err)
	}

	sessionID := opts.sessionID
	if sessionID == "" {
		sessionID, err = createSession(base)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Session: %s\n", sessionID)
	}

	wsURL := *base
	wsURL.Scheme = "ws"
	if base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = strings.TrimSuffix(base.Path, "/") + "/v1/chat/ws"
	wsURL.RawQuery = url.Values{"session_id": {sessionID}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ws.ClientMessage{
		Type:           ws.TypeAsk,
		Question:       question,
		EnableThinking: opts.thinking,
		PlanToken:      opts.planToken,
	}); err != nil {
		return fmt.Errorf("write ask: %w", err)
	}

	p := newPrinter(os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		finished, err := p.print(ev)
		if finished {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return err
		}
	}
}

func createSession(base *url.URL) (string, error) {
	endpoint := strings.TrimSuffix(base.String(), "/") + "/v1/sessions"
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return "", fmt.Errorf("create session: status %d: %s", resp.StatusCode, body.Error)
	}
	var session domain.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	if session.SessionID == "" {
		return "", errors.New("create session: empty session_id")
	}
	return session.SessionID, nil
}
