package transport

import (
	"context"
	"fmt"
)

// Mux routes targets to a transport by URL scheme
type Mux struct {
	routes map[string]Transport
}

// NewMux creates an empty Mux
func NewMux() *Mux {
	return &Mux{routes: make(map[string]Transport)}
}

// NewDefaultMux routes http/https to h and ws/wss to ws
func NewDefaultMux(h *HTTP, ws *WebSocket) *Mux {
	m := NewMux()
	m.Handle(h, "http", "https")
	m.Handle(ws, "ws", "wss")
	return m
}

// Handle registers t for the given schemes, replacing earlier routes
func (m *Mux) Handle(t Transport, schemes ...string) {
	for _, s := range schemes {
		m.routes[s] = t
	}
}

// Fetch dispatches to the transport registered for the target's scheme
func (m *Mux) Fetch(ctx context.Context, target Target) (*Response, error) {
	scheme, err := target.Scheme()
	if err != nil {
		return nil, err
	}
	t, ok := m.routes[scheme]
	if !ok {
		return nil, fmt.Errorf("no transport for scheme %q", scheme)
	}
	return t.Fetch(ctx, target)
}
