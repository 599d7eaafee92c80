package adapters

import (
	"errors"
	"fmt"
)

// ErrorKind classifies dispatch failures.
type ErrorKind string

const (
	KindResolution      ErrorKind = "resolution"
	KindAuthNegotiation ErrorKind = "auth_negotiation"
	KindTransport       ErrorKind = "transport"
	KindExhaustion      ErrorKind = "exhaustion"
	KindUnreachable     ErrorKind = "unreachable"
)

// Sentinels for errors.Is matching against *Error values.
var (
	ErrResolution      = errors.New("target resolution failed")
	ErrAuthNegotiation = errors.New("authentication negotiation exhausted")
	ErrTransport       = errors.New("transport failure")
	ErrExhaustion      = errors.New("endpoint candidates exhausted")
	ErrUnreachable     = errors.New("fallback endpoint unreachable")
)

var kindSentinels = map[ErrorKind]error{
	KindResolution:      ErrResolution,
	KindAuthNegotiation: ErrAuthNegotiation,
	KindTransport:       ErrTransport,
	KindExhaustion:      ErrExhaustion,
	KindUnreachable:     ErrUnreachable,
}

// Error carries the protocol, last HTTP status and a body snippet of a failed branch.
type Error struct {
	Kind     ErrorKind
	Protocol string
	Message  string
	Status   int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.Protocol, e.Kind, e.Message)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel, so errors.Is(err, ErrTransport) works.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewError creates a new Error.
func NewError(kind ErrorKind, protocol, msg string, err error) *Error {
	return &Error{Kind: kind, Protocol: protocol, Message: msg, Err: err}
}

// NewStatusError creates an Error with HTTP context attached.
func NewStatusError(kind ErrorKind, protocol, msg string, status int, body []byte) *Error {
	return &Error{Kind: kind, Protocol: protocol, Message: msg, Status: status, Body: Snippet(body)}
}

// KindOf extracts the kind of err, or "" if it is not a dispatch error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
