package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies failures crossing the boundary between a remote call
// and the pool or relay.
type ErrorKind int

const (
	// KindInternal covers anything not classified below, including recovered panics.
	KindInternal ErrorKind = iota
	// KindTransport is a network or connection failure.
	KindTransport
	// KindUpstreamStatus is a non-2xx answer from the remote service.
	KindUpstreamStatus
	// KindDeadlineExceeded is a submission, drain or network timeout.
	KindDeadlineExceeded
	// KindDecode is a malformed payload. Per-line decode failures inside a
	// stream are skipped and never surface as this kind.
	KindDecode
	// KindCanceled means the consumer abandoned the work.
	KindCanceled
	// KindPoolClosed means the unit was never run because the pool stopped.
	KindPoolClosed
	// KindInvalidInput is a caller mistake (empty message, nil producer).
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUpstreamStatus:
		return "upstream_status"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	case KindDecode:
		return "decode"
	case KindCanceled:
		return "canceled"
	case KindPoolClosed:
		return "pool_closed"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// Error is the typed failure used across the relay, pool and transports.
type Error struct {
	Kind   ErrorKind
	Op     string // Operation that failed, e.g. "vision.simple_chat"
	Status int    // HTTP status for KindUpstreamStatus
	Msg    string
	Err    error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInternal         = &Error{Kind: KindInternal}
	ErrTransport        = &Error{Kind: KindTransport}
	ErrUpstreamStatus   = &Error{Kind: KindUpstreamStatus}
	ErrDeadlineExceeded = &Error{Kind: KindDeadlineExceeded}
	ErrDecode           = &Error{Kind: KindDecode}
	ErrCanceled         = &Error{Kind: KindCanceled}
	ErrPoolClosed       = &Error{Kind: KindPoolClosed}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
)

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil && e.Msg != "" {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	} else if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Description is the human readable part without the operation prefix.
// It is what ends up in "Error: <description>" fragments.
func (e *Error) Description() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// NewError builds an *Error.
func NewError(kind ErrorKind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// DeadlineError reports that op did not finish within d.
func DeadlineError(op string, d time.Duration) *Error {
	return &Error{
		Kind: KindDeadlineExceeded,
		Op:   op,
		Msg:  fmt.Sprintf("timed out after %s", d),
		Err:  context.DeadlineExceeded,
	}
}

// UpstreamStatusError reports a non-2xx answer; body is the (truncated) response text.
func UpstreamStatusError(op string, status int, body string) *Error {
	return &Error{
		Kind:   KindUpstreamStatus,
		Op:     op,
		Status: status,
		Msg:    fmt.Sprintf("API Error: %d - %s", status, body),
	}
}

// KindOf classifies any error. Foreign errors are mapped on a best-effort basis.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindDeadlineExceeded
		}
		return KindTransport
	}
	return KindInternal
}

// AsError returns err as *Error, wrapping foreign errors with their classified kind.
func AsError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// Describe renders err the way users see it in fragments and result bodies.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Description()
	}
	return err.Error()
}
