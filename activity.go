package auth

import (
	"context"
	"time"
)

// EventName enumerates the notifications published by the subsystem.
type EventName string

const (
	EventIdentityCreated    EventName = "identity.created"
	EventIdentityRegistered EventName = "identity.registered"
	EventIdentityMerged     EventName = "identity.merged"
	EventSignedIn           EventName = "auth.signed_in"
	EventSignInFailed       EventName = "auth.sign_in_failed"
	EventSignedOut          EventName = "auth.signed_out"
	EventPasswordChanged    EventName = "auth.password_changed"
)

// Event is the payload handed to the EventSink.
type Event struct {
	Name       EventName
	IdentityID string
	Source     string
	Roles      []string
	Metadata   map[string]any
	OccurredAt time.Time
}

// EventSink consumes notifications. Publishing is fire-and-forget: sink
// errors are logged and never fail the operation that produced the event.
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

// publisher stamps and forwards events, logging sink failures.
type publisher struct {
	sink   EventSink
	clock  Clock
	logger Logger
}

func (p publisher) publish(ctx context.Context, name EventName, identity *Identity, source string, metadata map[string]any) {
	event := Event{
		Name:       name,
		Source:     source,
		Metadata:   metadata,
		OccurredAt: normalizeClock(p.clock).Now(),
	}

	if identity != nil {
		event.IdentityID = identity.ID.String()
		event.Roles = identity.Roles()
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := normalizeEventSink(p.sink).Record(ctx, event); err != nil && p.logger != nil {
		p.logger.Warn("event sink record error", "event", string(name), "error", err)
	}
}
