package config

import (
	"time"
)

// Config represents the main configuration structure
type Config struct {
	LogLevel         string        `json:"logLevel"`
	RequestTimeout   int           `json:"requestTimeout"`   // ms
	HandshakeTimeout int           `json:"handshakeTimeout"` // ms - WebSocket handshake
	MessageTimeout   int           `json:"messageTimeout"`   // ms - wait for the WebSocket reply, 0 waits for the request timeout
	MaxBodySize      int64         `json:"maxBodySize"`      // bytes, 0 means no limit
	Concurrency      int           `json:"concurrency"`      // concurrent fetches per batch
	BatchWindow      int           `json:"batchWindow"`      // ms, negative executes each load call immediately
	Batches          []BatchConfig `json:"batches"`
}

// BatchConfig is one registration call. Its entries share one batch group.
type BatchConfig struct {
	Name    string        `json:"name,omitempty"`
	Entries []EntryConfig `json:"entries"`
}

// EntryConfig represents a single key
type EntryConfig struct {
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Parse     string            `json:"parse,omitempty"`     // json, text or custom
	Transform string            `json:"transform,omitempty"` // builtin transform name for custom
}

// Default values
const (
	DefaultLogLevel         = "info"
	DefaultRequestTimeout   = 10000 // ms
	DefaultHandshakeTimeout = 10000 // ms
	DefaultConcurrency      = 8
	DefaultBatchWindow      = 2 // ms
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetHandshakeTimeoutDuration returns the WebSocket handshake timeout as time.Duration
func (c *Config) GetHandshakeTimeoutDuration() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Millisecond
}

// GetMessageTimeoutDuration returns the WebSocket message timeout as time.Duration
func (c *Config) GetMessageTimeoutDuration() time.Duration {
	if c.MessageTimeout == 0 {
		return c.GetRequestTimeoutDuration()
	}
	return time.Duration(c.MessageTimeout) * time.Millisecond
}

// GetBatchWindowDuration returns the batch window as time.Duration.
// A negative window disables it.
func (c *Config) GetBatchWindowDuration() time.Duration {
	if c.BatchWindow < 0 {
		return 0
	}
	return time.Duration(c.BatchWindow) * time.Millisecond
}
