package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Target describes a single request
type Target struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Response is the raw result of a fetch. Status is the transport status code
// (HTTP status, or the handshake status for WebSocket).
type Response struct {
	Status int
	Body   []byte
}

// Transport performs a single fetch
type Transport interface {
	Fetch(ctx context.Context, target Target) (*Response, error)
}

// Func adapts a function to the Transport interface
type Func func(ctx context.Context, target Target) (*Response, error)

// Fetch calls f
func (f Func) Fetch(ctx context.Context, target Target) (*Response, error) {
	return f(ctx, target)
}

// Scheme returns the lowercased URL scheme of the target
func (t Target) Scheme() (string, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", t.URL, err)
	}
	return strings.ToLower(u.Scheme), nil
}
