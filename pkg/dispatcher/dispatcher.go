// Package dispatcher maps event names to handlers and routes inbound
// envelopes to them.
package dispatcher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/morezero/crossmessenger/pkg/envelope"
	"github.com/morezero/crossmessenger/pkg/transport"
)

const logPrefix = "dispatcher:dispatch"

// Context is passed to a handler alongside the envelope data.
type Context struct {
	Envelope *envelope.Envelope
	Sender   transport.SenderInfo
	// Reply answers the sender. It must be called before the handler
	// returns; afterwards the empty acknowledgement has already been sent.
	Reply transport.Responder
}

// Handler processes the data of one event.
type Handler func(data json.RawMessage, c *Context)

// Table is the per-process event dispatch table. Each event name maps to
// exactly one handler; the last registration wins.
type Table struct {
	selfID string

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewTable creates an empty table. Envelopes originating from selfID are
// never dispatched.
func NewTable(selfID string) *Table {
	return &Table{
		selfID:   selfID,
		handlers: make(map[string]Handler),
	}
}

// On registers h for event, replacing any existing handler.
func (t *Table) On(event string, h Handler) {
	if h == nil {
		return
	}
	t.mu.Lock()
	t.handlers[event] = h
	t.mu.Unlock()
}

// AddHandlers merges mapping into the table with the same per-key replace
// semantics as On.
func (t *Table) AddHandlers(mapping map[string]Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for event, h := range mapping {
		if h != nil {
			t.handlers[event] = h
		}
	}
}

// Off removes the handler for event.
func (t *Table) Off(event string) {
	t.mu.Lock()
	delete(t.handlers, event)
	t.mu.Unlock()
}

// UnregisterAll clears the table.
func (t *Table) UnregisterAll() {
	t.mu.Lock()
	t.handlers = make(map[string]Handler)
	t.mu.Unlock()
}

// Has reports whether event has a handler.
func (t *Table) Has(event string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.handlers[event]
	return ok
}

// Len returns the number of registered events.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

// Events returns the registered event names, sorted.
func (t *Table) Events() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.handlers))
	for event := range t.handlers {
		out = append(out, event)
	}
	sort.Strings(out)
	return out
}

// Dispatch invokes the handler registered for env.Event unless env was sent
// by this process. respond always receives exactly one call: the handler's
// reply if it gave one, an empty acknowledgement otherwise. It reports
// whether a handler ran.
func (t *Table) Dispatch(env *envelope.Envelope, sender transport.SenderInfo, respond transport.Responder) (handled bool) {
	var once sync.Once
	reply := func(resp any) {
		once.Do(func() {
			if respond != nil {
				respond(resp)
			}
		})
	}
	defer reply(struct{}{})

	if env == nil {
		return false
	}

	t.mu.RLock()
	h := t.handlers[env.Event]
	t.mu.RUnlock()

	if h == nil || env.SourceID == t.selfID {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler for %q panicked: %v\n%s", logPrefix, env.Event, r, debug.Stack()))
		}
	}()

	slog.Debug(fmt.Sprintf("%s - event=%s source=%s sender=%s tab=%d frame=%d",
		logPrefix, env.Event, env.SourceID, sender.Role, sender.TabID, sender.FrameID))

	h(env.Data, &Context{Envelope: env, Sender: sender, Reply: reply})
	return true
}
