package messenger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const lifecycleLogPrefix = "messenger:lifecycle"

// TrackerState is the page lifecycle state of a page-agent.
type TrackerState int

const (
	StateActive TrackerState = iota
	StatePendingTeardown
	StateClosed
)

func (s TrackerState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePendingTeardown:
		return "pending-teardown"
	default:
		return "closed"
	}
}

// afterFunc schedules fn after d and returns a function that cancels it.
type afterFunc func(d time.Duration, fn func()) (stop func() bool)

func realAfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Tracker tells a page reload from a real close.
//
// A teardown signal starts the debounce window. Visibility coming back
// within the window is a reload and changes nothing. The process exiting
// during the window, or the window elapsing, is a real close and runs
// onClose exactly once. A slow reload that outlasts the window is
// misclassified as a close.
type Tracker struct {
	debounce time.Duration
	onClose  func()
	after    afterFunc

	mu    sync.Mutex
	state TrackerState
	stop  func() bool
	// gen invalidates timers that fire after they were cancelled.
	gen int
}

func newTracker(debounce time.Duration, onClose func()) *Tracker {
	return &Tracker{
		debounce: debounce,
		onClose:  onClose,
		after:    realAfterFunc,
	}
}

// State returns the current state. A nil Tracker, as returned by
// Lifecycle for a process that does not track teardown, is always active.
func (t *Tracker) State() TrackerState {
	if t == nil {
		return StateActive
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// TeardownStarted records that the page began unloading. A repeated signal
// restarts the window.
func (t *Tracker) TeardownStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateClosed {
		return
	}
	t.cancelLocked()
	t.state = StatePendingTeardown
	t.gen++
	gen := t.gen
	t.stop = t.after(t.debounce, func() { t.expire(gen) })
	slog.Debug(fmt.Sprintf("%s - teardown started; waiting %s", lifecycleLogPrefix, t.debounce))
}

// VisibilityRestored records that the page is alive again. Within the
// window this is a reload.
func (t *Tracker) VisibilityRestored() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePendingTeardown {
		return
	}
	t.cancelLocked()
	t.state = StateActive
	slog.Debug(fmt.Sprintf("%s - page restored; treating teardown as reload", lifecycleLogPrefix))
}

// ProcessExit records that the page process is going away. It closes the
// tab only when a teardown is pending.
func (t *Tracker) ProcessExit() {
	t.mu.Lock()
	if t.state != StatePendingTeardown {
		t.mu.Unlock()
		slog.Debug(fmt.Sprintf("%s - exit without pending teardown ignored", lifecycleLogPrefix))
		return
	}
	t.cancelLocked()
	t.state = StateClosed
	t.mu.Unlock()

	t.onClose()
}

// Stop cancels any pending window without closing the tab.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.state = StateClosed
}

func (t *Tracker) expire(gen int) {
	t.mu.Lock()
	if t.state != StatePendingTeardown || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.stop = nil
	t.state = StateClosed
	t.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - debounce elapsed; page closed", lifecycleLogPrefix))
	t.onClose()
}

func (t *Tracker) cancelLocked() {
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
	t.gen++
}
