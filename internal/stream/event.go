package stream

import (
	"context"
	"time"
)

// EventType names an outbound stream event.
type EventType string

// Lifecycle events.
const (
	EventStart     EventType = "start"
	EventToken     EventType = "token"
	EventEnd       EventType = "end"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
	// EventMeta carries side-channel metadata such as "thinking", "action" or "sources".
	EventMeta EventType = "meta"
)

// Notice events addressed to the user alongside the token stream.
const (
	EventAck                 EventType = "ack"
	EventClarification       EventType = "clarification"
	EventConfirmationRequest EventType = "confirmation_request"
)

// Terminal reports whether t ends a stream.
func (t EventType) Terminal() bool {
	return t == EventEnd || t == EventError || t == EventCancelled
}

// Event is one message delivered to a stream's sink.
type Event struct {
	Type      EventType `json:"type"`
	StreamID  string    `json:"stream_id"`
	MessageID string    `json:"message_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Seq       int       `json:"seq"`
	Content   string    `json:"content,omitempty"`
	Index     int       `json:"index"`
	Final     bool      `json:"final,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Data      any       `json:"data,omitempty"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives the events of a stream in order. Send is never called concurrently for
// the same stream.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
