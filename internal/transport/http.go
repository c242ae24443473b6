package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPConfig for creating a new HTTP transport
type HTTPConfig struct {
	RequestTimeout time.Duration
	MaxBodySize    int64 // 0 means no limit
	Logger         zerolog.Logger
}

// HTTP fetches targets with net/http
type HTTP struct {
	client      *http.Client
	maxBodySize int64
	logger      zerolog.Logger
}

// NewHTTP creates a new HTTP transport
func NewHTTP(cfg HTTPConfig) *HTTP {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTP{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		maxBodySize: cfg.MaxBodySize,
		logger:      cfg.Logger.With().Str("transport", "http").Logger(),
	}
}

// Fetch sends the request and reads the whole body. Non-2xx statuses are
// returned as a Response, not an error.
func (h *HTTP) Fetch(ctx context.Context, target Target) (*Response, error) {
	method := target.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(target.Body) > 0 {
		body = bytes.NewReader(target.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if h.maxBodySize > 0 {
		reader = io.LimitReader(resp.Body, h.maxBodySize+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if h.maxBodySize > 0 && int64(len(data)) > h.maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", h.maxBodySize)
	}

	h.logger.Debug().
		Str("method", method).
		Str("url", target.URL).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Msg("fetched")

	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// Close releases idle connections
func (h *HTTP) Close() {
	h.client.CloseIdleConnections()
}
