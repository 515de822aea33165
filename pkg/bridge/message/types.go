// Package message defines the wire frame shape and the internal Message
// record that flows through every bridge component, plus the codec that
// converts between them.
package message

import (
	"time"
)

// Kind is the closed set of message kinds the bridge understands on the wire.
type Kind string

const (
	KindHandshake              Kind = "qhp_handshake"
	KindHandshakeResponse      Kind = "qhp_handshake_response"
	KindHandshakeAck           Kind = "qhp_handshake_ack"
	KindVersionNegotiation     Kind = "version_negotiation"
	KindVersionNegotiationResp Kind = "version_negotiation_response"
	KindRequest                Kind = "request"
	KindResponse               Kind = "response"
	KindError                  Kind = "error"
	KindContext                Kind = "context"
	KindPing                   Kind = "ping"
	KindPong                   Kind = "pong"
)

// ErrorType enumerates the structured error payload's errorType field.
type ErrorType string

const (
	ErrValidationFailure    ErrorType = "validation_failure"
	ErrUnsupportedTool      ErrorType = "unsupported_tool"
	ErrRateLimitExceeded    ErrorType = "rate_limit_exceeded"
	ErrTimeout              ErrorType = "timeout"
	ErrConnectionFailure    ErrorType = "connection_failure"
	ErrCommunicationFailure ErrorType = "communication_failure"
	ErrInvalidJSON          ErrorType = "invalid_json"
	ErrGeneral              ErrorType = "general_error"
)

// SignatureMeta carries the Validator's outbound signing fields and the
// replay-detection identity for inbound frames.
type SignatureMeta struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// ErrorPayload is the structured failure shape carried in `content` for
// frames of kind "error".
type ErrorPayload struct {
	Error       string                 `json:"error"`
	ErrorType   ErrorType              `json:"errorType"`
	Recoverable bool                   `json:"recoverable"`
	Suggestions []string               `json:"suggestions,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Context is the immutable 7-dimensional envelope that accompanies every
// internal message. `When` is wall-clock; Metadata is free-form and may
// grow monotonically across translation round-trips.
type Context struct {
	Who      string                 `json:"who"`
	What     string                 `json:"what"`
	When     time.Time              `json:"when"`
	Where    string                 `json:"where"`
	Why      string                 `json:"why"`
	How      string                 `json:"how"`
	Extent   string                 `json:"extent"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Valid enforces the invariant that every message crossing the bridge has
// a non-empty who, what, and when.
func (c Context) Valid() bool {
	return c.Who != "" && c.What != "" && !c.When.IsZero()
}

// Derive returns a copy of c with the given overrides applied, leaving c
// itself untouched. Metadata is shallow-copied so the derived context can
// grow its own keys without mutating the parent's map.
func (c Context) Derive(overrides func(*Context)) Context {
	next := c
	next.Metadata = make(map[string]interface{}, len(c.Metadata))
	for k, v := range c.Metadata {
		next.Metadata[k] = v
	}
	if overrides != nil {
		overrides(&next)
	}
	return next
}

// Message is the immutable record that flows between the Router, the
// DurableQueue, and both PeerConnections.
type Message struct {
	ID            string      `json:"id"`
	Kind          Kind        `json:"kind"`
	Payload       interface{} `json:"payload,omitempty"`
	Context       Context     `json:"context"`
	Timestamp     time.Time   `json:"timestamp"`
	Monotonic     int64       `json:"-"`
	CorrelationID string      `json:"correlationId,omitempty"`
}

// Frame is the wire shape: every frame carries kind+id; everything else is
// optional depending on kind.
type Frame struct {
	Kind          Kind           `json:"kind"`
	ID            string         `json:"id"`
	Content       interface{}    `json:"content,omitempty"`
	Context       *Context       `json:"context,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Meta          *SignatureMeta `json:"meta,omitempty"`
}
