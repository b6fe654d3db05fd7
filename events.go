package iamclient

import (
	"context"
	"time"
)

// EventType enumerates the lifecycle events the package emits.
type EventType string

const (
	EventAuthenticated     EventType = "iam.login.success"
	EventLoginRejected     EventType = "iam.login.rejected"
	EventLogout            EventType = "iam.logout"
	EventBackchannelLogout EventType = "iam.logout.backchannel"
)

// Event captures audit-friendly information about an authentication action.
type Event struct {
	EventType  EventType
	Guard      string
	UserID     string
	Subject    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// EventSink consumes lifecycle events for auditing/telemetry purposes.
// Sinks are invoked fire-and-forget; a failing sink never fails a login.
type EventSink interface {
	Record(ctx context.Context, event Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, event Event) error

// Record implements EventSink.
func (f EventSinkFunc) Record(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopEventSink struct{}

func (noopEventSink) Record(context.Context, Event) error {
	return nil
}

func normalizeEventSink(s EventSink) EventSink {
	if s == nil {
		return noopEventSink{}
	}
	return s
}
