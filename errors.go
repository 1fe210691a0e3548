package gql

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind buckets every failure the pipeline can surface. None of the
// kinds are retried here beyond the transport-level retry policy; all of
// them reach the caller.
type ErrorKind int

const (
	// ErrUnhandled covers anything not matching a more specific kind,
	// e.g. an undecodable response body.
	ErrUnhandled ErrorKind = iota
	// ErrCancelled means the caller or its context gave up before completion.
	ErrCancelled
	// ErrConnection means the operation never got a response at all.
	ErrConnection
	// ErrNetwork means the server answered with a non-success status code.
	ErrNetwork
	// ErrGraphQL means the transport succeeded but the response body
	// carried operation-level errors.
	ErrGraphQL
)

var errorKindNames = []string{"unhandled", "cancelled", "connection", "network", "graphql"}

func (k ErrorKind) String() string {
	return errorKindNames[int(k)]
}

// GQLError is one operation-level error as returned by the server.
type GQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

// Error is the single error type surfaced by the pipeline.
type Error struct {
	Err        error
	Message    string
	Errors     []GQLError
	Kind       ErrorKind
	StatusCode int
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is matching against a kind sentinel created with
// KindSentinel, so callers can branch on the taxonomy without type asserts.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindSentinel returns a bare error matching every *Error of the given kind.
func KindSentinel(kind ErrorKind) error {
	return &Error{Kind: kind}
}

// KindOf extracts the kind of a pipeline error, ErrUnhandled for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrUnhandled
}

func errCancelled(err error) *Error {
	return &Error{
		Kind:    ErrCancelled,
		Message: "request cancelled",
		Err:     err,
	}
}

func errConnection(err error) *Error {
	return &Error{
		Kind:    ErrConnection,
		Message: fmt.Sprintf("connection failed: %s", err.Error()),
		Err:     err,
	}
}

func errNetwork(status RawStatus, err error) *Error {
	return &Error{
		Kind:       ErrNetwork,
		StatusCode: status.Code,
		Message:    fmt.Sprintf("HTTP error - unacceptable status code: %q", status.Status),
		Err:        err,
	}
}

func errGraphQL(gqlErrors []GQLError) *Error {
	message := "graphql error"
	if len(gqlErrors) > 0 {
		message = gqlErrors[0].Message
	}
	return &Error{
		Kind:    ErrGraphQL,
		Message: message,
		Errors:  gqlErrors,
	}
}

func errUnhandled(message string, err error) *Error {
	return &Error{
		Kind:    ErrUnhandled,
		Message: message,
		Err:     err,
	}
}

// classifyTransportError maps a failed round trip to Cancelled or Connection
// depending on whether the caller's context gave up first.
func classifyTransportError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errCancelled(err)
	}
	return errConnection(err)
}

// shouldRetry limits transport-level retries to transient failures:
// connection errors and 5xx responses. Everything else is final.
func shouldRetry(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case ErrConnection:
		return true
	case ErrNetwork:
		return e.StatusCode >= 500
	default:
		return false
	}
}
