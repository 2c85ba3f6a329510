package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/crossmessenger/pkg/envelope"
	"github.com/morezero/crossmessenger/pkg/role"
	"github.com/morezero/crossmessenger/pkg/tabs"
)

const hubLogPrefix = "transport:memory"

// DeliveryKind distinguishes the two send primitives.
type DeliveryKind string

const (
	DeliveryTab     DeliveryKind = "tab"
	DeliveryRuntime DeliveryKind = "runtime"
)

// Delivery records one send observed by a Hub.
type Delivery struct {
	Kind      DeliveryKind
	From      SenderInfo
	TabID     int
	Envelope  *envelope.Envelope
	Receivers int
}

// Hub is an in-process host that connects Endpoints. Delivery is synchronous:
// handlers run on the sending goroutine before the send returns, and every
// envelope is encoded and decoded as it would be on the wire.
//
// A Hub also owns a tab table and implements tabs.Enumerator over it.
type Hub struct {
	group string

	mu        sync.Mutex
	endpoints []*Endpoint
	observers []func(Delivery)

	tabs *tabs.StaticStore
}

// NewHub creates a hub whose runtime channel answers to group.
func NewHub(group string) *Hub {
	return &Hub{
		group: group,
		tabs:  tabs.NewStaticStore(nil),
	}
}

// Attach creates an endpoint for a process of the given role. tabID and
// frameID are only meaningful for page-agents.
func (h *Hub) Attach(r role.Role, tabID, frameID int) *Endpoint {
	e := &Endpoint{
		hub:  h,
		info: SenderInfo{Role: r, TabID: tabID, FrameID: frameID},
	}
	h.mu.Lock()
	h.endpoints = append(h.endpoints, e)
	h.mu.Unlock()
	return e
}

// OpenTab adds or replaces a tab in the hub's tab table.
func (h *Hub) OpenTab(t tabs.Tab) {
	h.tabs.Put(t)
}

// CloseTab removes a tab from the tab table.
func (h *Hub) CloseTab(id int) {
	h.tabs.Remove(id)
}

// QueryTabs answers from the hub's tab table.
func (h *Hub) QueryTabs(ctx context.Context, f tabs.Filter, cb func([]int, error)) {
	tabs.StoreEnumerator{Store: h.tabs}.QueryTabs(ctx, f, cb)
}

// Observe registers fn to be called for every send, before delivery.
func (h *Hub) Observe(fn func(Delivery)) {
	h.mu.Lock()
	h.observers = append(h.observers, fn)
	h.mu.Unlock()
}

func (h *Hub) detach(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.endpoints {
		if x == e {
			h.endpoints = append(h.endpoints[:i], h.endpoints[i+1:]...)
			return
		}
	}
}

type receiver struct {
	handler InboundHandler
}

func (h *Hub) receivers(match func(SenderInfo) bool) ([]receiver, []func(Delivery)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []receiver
	for _, e := range h.endpoints {
		if !match(e.info) {
			continue
		}
		if handler := e.currentHandler(); handler != nil {
			out = append(out, receiver{handler: handler})
		}
	}
	return out, append(([]func(Delivery))(nil), h.observers...)
}

func (h *Hub) deliver(d Delivery, match func(SenderInfo) bool, cb envelope.ReplyFunc) error {
	data, err := envelope.Encode(d.Envelope)
	if err != nil {
		return fmt.Errorf("%s - failed to encode envelope: %w", hubLogPrefix, err)
	}

	receivers, observers := h.receivers(match)
	d.Receivers = len(receivers)
	for _, fn := range observers {
		fn(d)
	}

	if len(receivers) == 0 {
		if cb != nil {
			cb(nil, ErrNoReceiver)
		}
		return nil
	}

	var once sync.Once
	respond := func(resp any) {
		once.Do(func() {
			if cb == nil {
				return
			}
			raw, err := json.Marshal(resp)
			if err != nil {
				cb(nil, fmt.Errorf("%s - failed to encode response: %w", hubLogPrefix, err))
				return
			}
			cb(raw, nil)
		})
	}

	for _, r := range receivers {
		in, err := envelope.Decode(data)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode envelope: %v", hubLogPrefix, err))
			continue
		}
		r.handler(in, d.From, respond)
	}
	return nil
}

// Endpoint is one process's attachment to a Hub.
type Endpoint struct {
	hub  *Hub
	info SenderInfo

	mu      sync.Mutex
	handler InboundHandler
	closed  bool
}

// Info returns the identity the endpoint sends with.
func (e *Endpoint) Info() SenderInfo {
	return e.info
}

func (e *Endpoint) currentHandler() InboundHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	return e.handler
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// SendToTab delivers env to every listening page-agent of tabID, or only to
// the one in opts.FrameID when set.
func (e *Endpoint) SendToTab(tabID int, env *envelope.Envelope, opts envelope.TabsOptions, cb envelope.ReplyFunc) error {
	if e.isClosed() {
		return ErrClosed
	}
	if !e.info.Role.IsExtension() {
		return ErrNotPermitted
	}
	d := Delivery{Kind: DeliveryTab, From: e.info, TabID: tabID, Envelope: env}
	return e.hub.deliver(d, func(to SenderInfo) bool {
		if to.Role != role.PageAgent || to.TabID != tabID {
			return false
		}
		return opts.FrameID == nil || *opts.FrameID == to.FrameID
	}, cb)
}

// SendRuntime delivers env to the runtime peer of the endpoint's role.
func (e *Endpoint) SendRuntime(env *envelope.Envelope, opts envelope.RuntimeOptions, cb envelope.ReplyFunc) error {
	if e.isClosed() {
		return ErrClosed
	}
	peer := e.info.Role.RuntimePeer()
	foreign := opts.ExtensionID != "" && opts.ExtensionID != e.hub.group
	d := Delivery{Kind: DeliveryRuntime, From: e.info, Envelope: env}
	return e.hub.deliver(d, func(to SenderInfo) bool {
		return !foreign && to.Role == peer
	}, cb)
}

// Listen installs the inbound handler, replacing any previous one.
func (e *Endpoint) Listen(h InboundHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.handler = h
	return nil
}

// Close detaches the endpoint from the hub. Further sends fail with
// ErrClosed.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.handler = nil
	e.mu.Unlock()

	e.hub.detach(e)
	return nil
}
