package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/crossmessenger/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Group selects the subject namespace. Defaults to commsutil.DefaultGroup.
	Group string
	// GlobalSubject overrides the global presence subject.
	GlobalSubject string
}

// CommsPublisher publishes presence change events to COMMS subjects.
type CommsPublisher struct {
	nc            *comms.Conn
	group         string
	globalSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	group := commsutil.DefaultGroup
	if opts != nil && opts.Group != "" {
		group = opts.Group
	}
	globalSubject := commsutil.BuildPresenceSubject(group)
	if opts != nil && opts.GlobalSubject != "" {
		globalSubject = opts.GlobalSubject
	}
	return &CommsPublisher{nc: nc, group: group, globalSubject: globalSubject}
}

// PublishPresence publishes a PresenceChangedEvent to both the per-tab and
// the global presence subjects.
func (p *CommsPublisher) PublishPresence(_ context.Context, event *PresenceChangedEvent) error {
	if event.Group == "" {
		event.Group = p.group
	}
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	granularSubject := commsutil.BuildTabPresenceSubject(p.group, event.TabID)
	if err := p.nc.Publish(granularSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granularSubject, err))
		return err
	}

	if err := p.nc.Publish(p.globalSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.globalSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event for tab %d", commsPublisherLogPrefix, event.Kind, event.TabID))
	return nil
}
