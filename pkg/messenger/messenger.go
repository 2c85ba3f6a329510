// Package messenger turns the host's point-to-point and runtime messaging
// primitives into a pub/sub event bus shared by the orchestrator, the
// control panel and every page-agent.
package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/crossmessenger/pkg/dispatcher"
	"github.com/morezero/crossmessenger/pkg/envelope"
	"github.com/morezero/crossmessenger/pkg/events"
	"github.com/morezero/crossmessenger/pkg/presence"
	"github.com/morezero/crossmessenger/pkg/role"
	"github.com/morezero/crossmessenger/pkg/semver"
	"github.com/morezero/crossmessenger/pkg/tabs"
	"github.com/morezero/crossmessenger/pkg/transport"
)

const logPrefix = "messenger:messenger"

// DefaultReloadDebounce is how long a page teardown may take to turn out to
// be a reload.
const DefaultReloadDebounce = time.Second

// Handler processes the data of one application event.
type Handler = dispatcher.Handler

// Context is passed to a Handler.
type Context = dispatcher.Context

// Config tunes a Messenger. Zero values use defaults.
type Config struct {
	// Group is the subject namespace, stamped on presence events.
	Group string
	// ReloadDebounce is the reload-vs-close window of the lifecycle tracker.
	ReloadDebounce time.Duration
	// PublishTimeout bounds one presence event publish (orchestrator only).
	PublishTimeout time.Duration
	// Version is announced by page-agents on connect.
	Version string
	// VersionConstraint is the range of agent versions the orchestrator
	// considers compatible.
	VersionConstraint string
}

// Params holds the collaborators of a Messenger.
type Params struct {
	// Probe drives role classification.
	Probe role.Probe
	// Transport is the host messaging capability. Unused for standalone.
	Transport transport.Transport
	// Tabs enumerates tabs for the orchestrator and the control panel.
	Tabs tabs.Enumerator
	// Publisher receives presence changes (orchestrator only).
	Publisher events.EventPublisher
	// FrameID is the frame a page-agent runs in. Only the top frame (0)
	// tracks page teardown.
	FrameID int
	Config  Config
}

// Messenger is the per-process router. It is constructed once at startup
// and shared by everything in the process that sends or handles events.
type Messenger struct {
	id        string
	role      role.Role
	transport transport.Transport
	tabs      tabs.Enumerator
	table     *dispatcher.Table
	cfg       Config

	registry *presence.Registry
	checker  *semver.Checker
	tracker  *Tracker

	// ctx scopes work the messenger starts on its own, such as forwarded
	// tab enumerations. It is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// pending counts tab fan-outs whose enumeration has not answered yet.
	pending sync.WaitGroup

	mu sync.Mutex
	// closing is set once Close or a tab close has begun; closed once the
	// transport is detached.
	closing bool
	closed  bool
}

// New classifies the process and builds its messenger. A standalone process
// gets an inert messenger whose operations do nothing.
func New(p Params) (*Messenger, error) {
	r := role.Classify(p.Probe)
	id := uuid.NewString()

	cfg := p.Config
	if cfg.ReloadDebounce <= 0 {
		cfg.ReloadDebounce = DefaultReloadDebounce
	}
	if cfg.Version == "" {
		cfg.Version = semver.ProtocolVersion
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Messenger{
		id:     id,
		role:   r,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if r == role.Standalone {
		slog.Warn(fmt.Sprintf("%s - No messaging capability available; messenger %s is inert", logPrefix, id))
		return m, nil
	}

	if p.Transport == nil {
		cancel()
		return nil, fmt.Errorf("%s - transport is required for role %s", logPrefix, r)
	}
	m.transport = p.Transport
	m.table = dispatcher.NewTable(id)

	m.tabs = p.Tabs
	if m.tabs == nil && r.IsExtension() {
		slog.Warn(fmt.Sprintf("%s - No tab enumerator configured; tab fan-out will fail", logPrefix))
		m.tabs = tabs.StoreEnumerator{}
	}

	if r == role.Orchestrator {
		checker, err := semver.NewChecker(cfg.VersionConstraint)
		if err != nil {
			cancel()
			return nil, err
		}
		m.checker = checker
		m.registry = presence.NewRegistry(p.Publisher, cfg.PublishTimeout)
		m.registry.SetGroup(cfg.Group)
		m.installMetaHandlers()
	}

	listen := func(env *envelope.Envelope, sender transport.SenderInfo, respond transport.Responder) {
		m.table.Dispatch(env, sender, respond)
	}
	if err := m.transport.Listen(listen); err != nil {
		cancel()
		return nil, fmt.Errorf("%s - failed to listen: %w", logPrefix, err)
	}

	if r == role.PageAgent {
		m.notifyConnect()
		if p.FrameID == 0 {
			m.tracker = newTracker(cfg.ReloadDebounce, m.closeTab)
		}
	}

	slog.Info(fmt.Sprintf("%s - Messenger %s started as %s", logPrefix, id, r))
	return m, nil
}

// ID returns the instance identity stamped on every envelope this process
// originates.
func (m *Messenger) ID() string {
	return m.id
}

// Role returns the classified role.
func (m *Messenger) Role() role.Role {
	return m.role
}

// Lifecycle returns the page teardown tracker. It is nil for every process
// except a top-frame page-agent.
func (m *Messenger) Lifecycle() *Tracker {
	return m.tracker
}

func (m *Messenger) inert() bool {
	return m.role == role.Standalone
}

func (m *Messenger) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// beginClose claims the single disconnect notification of this instance.
// It reports false when a close has already begun.
func (m *Messenger) beginClose() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing || m.closed {
		return false
	}
	m.closing = true
	return true
}

// On registers h for event, replacing any previous handler. Reserved
// meta-event names cannot be registered.
func (m *Messenger) On(event string, h Handler) {
	if m.inert() {
		return
	}
	if envelope.IsMetaEvent(event) {
		slog.Warn(fmt.Sprintf("%s - %q is reserved; handler not registered", logPrefix, event))
		return
	}
	m.table.On(event, h)
}

// AddHandlers merges mapping into the dispatch table with per-key replace
// semantics.
func (m *Messenger) AddHandlers(mapping map[string]Handler) {
	if m.inert() {
		return
	}
	filtered := make(map[string]Handler, len(mapping))
	for event, h := range mapping {
		if envelope.IsMetaEvent(event) {
			slog.Warn(fmt.Sprintf("%s - %q is reserved; handler not registered", logPrefix, event))
			continue
		}
		filtered[event] = h
	}
	m.table.AddHandlers(filtered)
}

// AssignEventHandler is an alias of AddHandlers.
//
// Deprecated: use AddHandlers.
func (m *Messenger) AssignEventHandler(mapping map[string]Handler) {
	m.AddHandlers(mapping)
}

// Off removes the handler for event.
func (m *Messenger) Off(event string) {
	if m.inert() || envelope.IsMetaEvent(event) {
		return
	}
	m.table.Off(event)
}

// IsConnected reports whether the queried tab or frame has an attached
// page-agent. Only the orchestrator holds the registry; other roles always
// get false.
func (m *Messenger) IsConnected(q presence.Query) bool {
	if m.registry == nil {
		if !m.inert() {
			slog.Warn(fmt.Sprintf("%s - IsConnected is only available in the orchestrator (role %s)", logPrefix, m.role))
		}
		return false
	}
	return m.registry.IsConnected(q)
}

// Snapshot returns the connection registry content (orchestrator only).
func (m *Messenger) Snapshot() []presence.Entry {
	if m.registry == nil {
		return nil
	}
	return m.registry.Snapshot()
}

// Counts returns the number of connected tabs and frames. Both are zero
// outside the orchestrator.
func (m *Messenger) Counts() (tabCount, frameCount int) {
	if m.registry == nil {
		return 0, 0
	}
	return m.registry.Counts()
}

// Close detaches the messenger. A page-agent first tells the orchestrator
// that this instance is leaving. Close is idempotent.
func (m *Messenger) Close() error {
	if m.inert() {
		return nil
	}
	if !m.beginClose() {
		return nil
	}

	if m.tracker != nil {
		m.tracker.Stop()
	}
	if m.role == role.PageAgent {
		m.SendToOrchestrator(m.ctx, envelope.EventMessengerDisconnect, nil, nil)
	}
	return m.detach()
}

// Drain waits until every pending tab fan-out has resolved its tabs and
// handed its sends to the transport, or until ctx is done. A caller that
// is about to exit uses it so fan-outs started by Send are not lost. Sends
// started while Drain is waiting are not guaranteed to be covered.
func (m *Messenger) Drain(ctx context.Context) error {
	if m.inert() {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s - drain interrupted: %w", logPrefix, ctx.Err())
	}
}

// Clear is an alias of Close.
//
// Deprecated: use Close.
func (m *Messenger) Clear() error {
	return m.Close()
}

// closeTab runs when the lifecycle tracker decides the page really closed.
func (m *Messenger) closeTab() {
	if !m.beginClose() {
		return
	}
	slog.Info(fmt.Sprintf("%s - Page closed; notifying orchestrator", logPrefix))
	m.SendToOrchestrator(m.ctx, envelope.EventTabDisconnect, nil, nil)
	if err := m.detach(); err != nil {
		slog.Warn(fmt.Sprintf("%s - detach failed: %v", logPrefix, err))
	}
}

func (m *Messenger) detach() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.table.UnregisterAll()
	if err := m.transport.Close(); err != nil {
		return fmt.Errorf("%s - failed to close transport: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Messenger %s closed", logPrefix, m.id))
	return nil
}
