package events

import (
	"context"
	"errors"
)

// EventPublisher is the interface for publishing presence change events.
type EventPublisher interface {
	PublishPresence(ctx context.Context, event *PresenceChangedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for processes without observers).
type NoOpPublisher struct{}

// PublishPresence is a no-op.
func (p *NoOpPublisher) PublishPresence(_ context.Context, _ *PresenceChangedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *PresenceChangedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *PresenceChangedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishPresence calls the callback.
func (p *CallbackPublisher) PublishPresence(ctx context.Context, event *PresenceChangedEvent) error {
	return p.callback(ctx, event)
}

// MultiPublisher fans an event out to several publishers. Every publisher
// is attempted; the errors are joined.
type MultiPublisher struct {
	publishers []EventPublisher
}

// NewMultiPublisher creates a MultiPublisher, skipping nil entries.
func NewMultiPublisher(publishers ...EventPublisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// PublishPresence publishes to every publisher.
func (m *MultiPublisher) PublishPresence(ctx context.Context, event *PresenceChangedEvent) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.PublishPresence(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of wrapped publishers.
func (m *MultiPublisher) Len() int {
	return len(m.publishers)
}
