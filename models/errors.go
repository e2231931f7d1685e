package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned when a frame is sent on a connection that is
	// not Connected.
	ErrNotConnected = errors.New("connection is not connected")
	// ErrClosed is returned by operations on a closed client or dispatcher.
	ErrClosed = errors.New("closed")
	// ErrNoCredentials is returned when a private channel is requested without
	// credentials.
	ErrNoCredentials = errors.New("private channels require credentials")
	// ErrQueueFull is returned when a transport's outbound queue is full.
	ErrQueueFull = errors.New("outbound queue full")
)

// ConnectErrorKind classifies why a dial failed.
type ConnectErrorKind int

const (
	ConnectTCP ConnectErrorKind = iota
	ConnectDNS
	ConnectTLS
	ConnectHandshake
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectDNS:
		return "dns"
	case ConnectTLS:
		return "tls"
	case ConnectHandshake:
		return "handshake"
	default:
		return "tcp"
	}
}

// ConnectError reports a failed websocket dial.
type ConnectError struct {
	Kind ConnectErrorKind
	URL  string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a frame that could not be queued or written.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("send: %v", e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// ParseError reports an inbound frame that could not be turned into events.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
	}
	return "parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// AuthError reports a rejected login or a signing failure.
type AuthError struct {
	Code string
	Msg  string
	Err  error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("auth: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("auth: login rejected (code %s): %s", e.Code, e.Msg)
	default:
		return "auth: login rejected"
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError is a server reported throttling error.
type RateLimitError struct {
	Code string
	Msg  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (code %s): %s", e.Code, e.Msg)
}

// APIError is any other server reported business error.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (code %s): %s", e.Code, e.Msg)
}

// TimeoutError reports heartbeat detected staleness.
type TimeoutError struct {
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no pong for %s (limit %s)", e.Elapsed.Round(time.Millisecond), e.Limit)
}

// ConnectionLostError is surfaced when reconnect attempts are exhausted.
type ConnectionLostError struct {
	Attempts int
	Err      error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// InternalError marks a state the client should never reach, such as an
// illegal state transition.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string { return "internal: " + e.Msg }
