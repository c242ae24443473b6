package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Default WebSocket timeouts
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMessageTimeout   = 10 * time.Second
)

// WebSocketConfig for creating a new WebSocket transport. Zero timeouts
// select the defaults.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	MessageTimeout   time.Duration
	Logger           zerolog.Logger
}

// WebSocket fetches a target by dialing it, sending the target body as a text
// message when present and reading exactly one message back
type WebSocket struct {
	dialer         websocket.Dialer
	messageTimeout time.Duration
	logger         zerolog.Logger
}

// NewWebSocket creates a new WebSocket transport
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	message := cfg.MessageTimeout
	if message <= 0 {
		message = DefaultMessageTimeout
	}
	return &WebSocket{
		dialer:         websocket.Dialer{HandshakeTimeout: handshake},
		messageTimeout: message,
		logger:         cfg.Logger.With().Str("transport", "ws").Logger(),
	}
}

// Fetch dials the target and returns the first message received.
// A rejected handshake is reported as a Response with the handshake status.
func (w *WebSocket) Fetch(ctx context.Context, target Target) (*Response, error) {
	header := http.Header{}
	for k, v := range target.Headers {
		header.Set(k, v)
	}

	conn, resp, err := w.dialer.DialContext(ctx, target.URL, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			body, _ := io.ReadAll(resp.Body)
			return &Response{Status: resp.StatusCode, Body: body}, nil
		}
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(w.messageTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		// Unblocks ReadMessage when the caller gives up
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if len(target.Body) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, target.Body); err != nil {
			return nil, fmt.Errorf("failed to write websocket message: %w", err)
		}
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read websocket message: %w", err)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	status := http.StatusOK
	if resp != nil {
		status = resp.StatusCode
	}

	w.logger.Debug().
		Str("url", target.URL).
		Int("bytes", len(data)).
		Msg("fetched")

	return &Response{Status: status, Body: data}, nil
}
