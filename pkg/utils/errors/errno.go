// Package errors provides the structured error codes returned by sentinel-rag.
//
// Error Code Format: AABBCCC (7 digits)
//
//	AA  (00-99): Service code
//	BB  (00-99): Category code
//	CCC (000-999): Sequence number inside the category
//
// Every Errno carries an English and a Chinese message plus the HTTP and
// gRPC status an outer API layer should translate it to.
//
// Usage:
//
//	if err := q.Validate(); err != nil {
//	    return errors.ErrInvalidInput.WithCause(err)
//	}
//
//	if errors.Is(err, errors.ErrDeadlineExceeded) { ... }
package errors

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Errno represents a structured error with code and messages.
type Errno struct {
	// Code is the unique error code.
	Code int `json:"code"`

	// HTTP is the HTTP status an API layer should return.
	HTTP int `json:"-"`

	// GRPCCode is the gRPC status code.
	GRPCCode codes.Code `json:"-"`

	// MessageEN is the English error message.
	MessageEN string `json:"message"`

	// MessageZH is the Chinese error message.
	MessageZH string `json:"message_zh,omitempty"`

	cause error
}

// New creates an Errno. It does not register it; use Register for that.
func New(code int, httpStatus int, grpcCode codes.Code, messageEN, messageZH string) *Errno {
	return &Errno{
		Code:      code,
		HTTP:      httpStatus,
		GRPCCode:  grpcCode,
		MessageEN: messageEN,
		MessageZH: messageZH,
	}
}

// Error implements the error interface.
func (e *Errno) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("errno %d: %s: %v", e.Code, e.MessageEN, e.cause)
	}
	return fmt.Sprintf("errno %d: %s", e.Code, e.MessageEN)
}

// Unwrap returns the underlying cause.
func (e *Errno) Unwrap() error {
	return e.cause
}

// Is reports whether target is an Errno with the same code.
func (e *Errno) Is(target error) bool {
	t, ok := target.(*Errno)
	return ok && e.Code == t.Code
}

// WithCause returns a copy of e wrapping cause.
func (e *Errno) WithCause(cause error) *Errno {
	c := e.clone()
	c.cause = cause
	return c
}

// WithMessage returns a copy of e with a custom English message.
func (e *Errno) WithMessage(msg string) *Errno {
	c := e.clone()
	c.MessageEN = msg
	return c
}

// WithMessagef returns a copy of e with a formatted English message.
func (e *Errno) WithMessagef(format string, args ...any) *Errno {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// Message returns the message for lang, falling back to English.
func (e *Errno) Message(lang string) string {
	switch lang {
	case "zh", "zh-CN", "zh_CN":
		if e.MessageZH != "" {
			return e.MessageZH
		}
	}
	return e.MessageEN
}

// HTTPStatus returns the HTTP status code.
func (e *Errno) HTTPStatus() int {
	if e.HTTP != 0 {
		return e.HTTP
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns the gRPC status code.
func (e *Errno) GRPCStatus() codes.Code {
	if e.GRPCCode != codes.OK {
		return e.GRPCCode
	}
	return codes.Internal
}

func (e *Errno) clone() *Errno {
	c := *e
	return &c
}
