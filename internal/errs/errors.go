// Package errs defines the error taxonomy shared by the registry, loader and transports.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies loader errors
type Code int

const (
	CodeInvalidArgument Code = iota + 1
	CodeUnknownKey
	CodeTransport
	CodeParse
)

// String returns the code name
func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "invalid argument"
	case CodeUnknownKey:
		return "unknown key"
	case CodeTransport:
		return "transport failure"
	case CodeParse:
		return "parse failure"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the error type returned by the registry, loader and executors.
// Status and Body are set for transport failures that carried a response.
type Error struct {
	Code    Code
	Key     string
	Status  int
	Body    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Key != "" {
		msg += fmt.Sprintf(" for key %q", e.Key)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Key == "" && t.Message == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels for errors.Is
var (
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
	ErrUnknownKey      = &Error{Code: CodeUnknownKey}
	ErrTransport       = &Error{Code: CodeTransport}
	ErrParse           = &Error{Code: CodeParse}
)

// InvalidArgument creates an invalid argument error
func InvalidArgument(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// UnknownKey creates an unknown key error
func UnknownKey(key string) *Error {
	return &Error{Code: CodeUnknownKey, Key: key, Message: "key was never registered"}
}

// HTTPStatus creates a transport failure for a response with status >= 400
func HTTPStatus(key string, status int, body []byte) *Error {
	return &Error{
		Code:    CodeTransport,
		Key:     key,
		Status:  status,
		Body:    string(body),
		Message: fmt.Sprintf("response status is %d, body is %q", status, string(body)),
	}
}

// Transport wraps a transport level failure
func Transport(key string, err error) *Error {
	return &Error{Code: CodeTransport, Key: key, Err: err}
}

// Parse wraps a decoding or transform failure
func Parse(key string, err error) *Error {
	return &Error{Code: CodeParse, Key: key, Err: err}
}
