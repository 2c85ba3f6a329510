// Package transport defines the host messaging primitives the messenger is
// built on, together with an in-process Hub and a COMMS (NATS) backed
// implementation.
package transport

import (
	"errors"

	"github.com/morezero/crossmessenger/pkg/envelope"
	"github.com/morezero/crossmessenger/pkg/role"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
	// ErrNoReceiver is reported to a reply callback when nobody received
	// the message.
	ErrNoReceiver = errors.New("transport: no receiving end")
	// ErrNotPermitted is returned when the caller's role cannot use the
	// tab-addressed primitive.
	ErrNotPermitted = errors.New("transport: tab sends require an extension surface")
)

// SenderInfo describes where an inbound envelope came from.
type SenderInfo struct {
	Role    role.Role `json:"role"`
	TabID   int       `json:"tabId,omitempty"`
	FrameID int       `json:"frameId,omitempty"`
}

// FromTab reports whether the sender is a page-agent attached to a tab.
func (s SenderInfo) FromTab() bool {
	return s.TabID > 0
}

// Responder answers an inbound envelope. Only the first call has an effect.
type Responder func(response any)

// InboundHandler receives every envelope delivered to the process. It must
// call respond exactly once.
type InboundHandler func(env *envelope.Envelope, sender SenderInfo, respond Responder)

// Transport is the host-provided messaging capability.
//
// SendRuntime delivers to the runtime-wide channel of the other extension
// surface: page-agents and the control panel reach the orchestrator, the
// orchestrator reaches the control panel. SendToTab delivers to every
// page-agent of a tab and is only available to extension surfaces.
//
// Both send primitives are asynchronous. cb, when non-nil, receives the
// first response or the delivery error; it may never be called.
type Transport interface {
	SendToTab(tabID int, env *envelope.Envelope, opts envelope.TabsOptions, cb envelope.ReplyFunc) error
	SendRuntime(env *envelope.Envelope, opts envelope.RuntimeOptions, cb envelope.ReplyFunc) error
	Listen(h InboundHandler) error
	Close() error
}
