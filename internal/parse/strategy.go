package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies how a response body is decoded
type Kind uint8

const (
	KindJSON Kind = iota
	KindText
	KindCustom
)

// String returns the config name of the kind
func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindText:
		return "text"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Transform turns raw response text into the final body
type Transform func(text string) (any, error)

// ErrMissingTransform is returned by Validate for a custom strategy without a transform
var ErrMissingTransform = errors.New("custom parse requires a transform")

// Strategy is a tagged variant over json, text and custom decoding.
// The zero value decodes JSON.
type Strategy struct {
	kind      Kind
	transform Transform
}

// JSON decodes the body as JSON into any
func JSON() Strategy {
	return Strategy{kind: KindJSON}
}

// Text returns the body as a string
func Text() Strategy {
	return Strategy{kind: KindText}
}

// Custom passes the body text to fn
func Custom(fn Transform) Strategy {
	return Strategy{kind: KindCustom, transform: fn}
}

// Kind returns the strategy kind
func (s Strategy) Kind() Kind {
	return s.kind
}

// Validate checks that the strategy can decode a body
func (s Strategy) Validate() error {
	switch s.kind {
	case KindJSON, KindText:
		return nil
	case KindCustom:
		if s.transform == nil {
			return ErrMissingTransform
		}
		return nil
	default:
		return fmt.Errorf("unsupported parse kind %s", s.kind)
	}
}

// Decode turns a raw body into the value handed to callers
func (s Strategy) Decode(body []byte) (any, error) {
	switch s.kind {
	case KindJSON:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("failed to decode json body: %w", err)
		}
		return v, nil
	case KindText:
		return string(body), nil
	case KindCustom:
		if s.transform == nil {
			return nil, ErrMissingTransform
		}
		return s.runTransform(string(body))
	default:
		return nil, fmt.Errorf("unsupported parse kind %s", s.kind)
	}
}

// runTransform calls the transform, turning a panic into an error
func (s Strategy) runTransform(text string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("transform panicked: %v", r)
		}
	}()

	v, err = s.transform(text)
	if err != nil {
		return nil, fmt.Errorf("transform failed: %w", err)
	}
	return v, nil
}

// builtins are the transforms that can be referenced by name from config files
var builtins = map[string]Transform{
	"trim": func(text string) (any, error) {
		return strings.TrimSpace(text), nil
	},
	"lines": func(text string) (any, error) {
		text = strings.TrimRight(text, "\r\n")
		if text == "" {
			return []string{}, nil
		}
		lines := strings.Split(text, "\n")
		for i, l := range lines {
			lines[i] = strings.TrimSuffix(l, "\r")
		}
		return lines, nil
	},
}

// Builtin returns the named builtin transform
func Builtin(name string) (Transform, bool) {
	fn, ok := builtins[name]
	return fn, ok
}

// FromName builds a strategy from its config representation.
// An empty name selects JSON.
func FromName(name, transform string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON(), nil
	case "text":
		return Text(), nil
	case "custom":
		fn, ok := Builtin(transform)
		if !ok {
			return Strategy{}, fmt.Errorf("unknown transform %q", transform)
		}
		return Custom(fn), nil
	default:
		return Strategy{}, fmt.Errorf("unknown parse kind %q", name)
	}
}
