// Package presence keeps the orchestrator's record of which page-agent
// instances are attached, indexed by tab and by frame.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/morezero/crossmessenger/pkg/events"
)

const logPrefix = "presence:registry"

// frameKey identifies a frame. Frame ids are only unique within a tab.
type frameKey struct {
	tabID   int
	frameID int
}

type frameEntry struct {
	instances map[string]struct{}
	tabID     int
}

// Query selects what IsConnected checks. Nil fields are not consulted.
type Query struct {
	TabID   *int
	FrameID *int
}

// Entry is one frame of the registry snapshot.
type Entry struct {
	TabID     int      `json:"tabId"`
	FrameID   int      `json:"frameId"`
	Instances []string `json:"instances"`
}

// Registry is the connection registry. It is safe for concurrent use; every
// mutation is applied atomically and observers are notified afterwards.
//
// Invariant: an instance id is in the set of tab t iff some frame under t
// lists it. Empty sets are removed immediately.
type Registry struct {
	mu     sync.Mutex
	tabs   map[int]map[string]struct{}
	frames map[frameKey]*frameEntry

	publisher events.EventPublisher
	timeout   time.Duration
	group     string
	now       func() time.Time
}

// NewRegistry creates an empty registry. publisher receives every presence
// transition; nil disables publishing. timeout bounds a single publish.
func NewRegistry(publisher events.EventPublisher, timeout time.Duration) *Registry {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{
		tabs:      make(map[int]map[string]struct{}),
		frames:    make(map[frameKey]*frameEntry),
		publisher: publisher,
		timeout:   timeout,
		now:       time.Now,
	}
}

// SetGroup stamps group on every published event. Subscribers and the
// presence journal key events by group, so it must match the subject
// namespace the messenger runs in.
func (r *Registry) SetGroup(group string) {
	r.mu.Lock()
	r.group = group
	r.mu.Unlock()
}

// Connect records instanceID as attached to tabID/frameID.
func (r *Registry) Connect(ctx context.Context, tabID, frameID int, instanceID, version string) {
	r.mu.Lock()
	set, ok := r.tabs[tabID]
	if !ok {
		set = make(map[string]struct{})
		r.tabs[tabID] = set
	}
	set[instanceID] = struct{}{}

	key := frameKey{tabID: tabID, frameID: frameID}
	entry, ok := r.frames[key]
	if !ok {
		entry = &frameEntry{instances: make(map[string]struct{}), tabID: tabID}
		r.frames[key] = entry
	}
	entry.instances[instanceID] = struct{}{}
	r.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Connected instance=%s tab=%d frame=%d", logPrefix, instanceID, tabID, frameID))
	r.publish(ctx, &events.PresenceChangedEvent{
		Kind:         events.PresenceConnected,
		TabID:        tabID,
		FrameID:      &frameID,
		InstanceID:   instanceID,
		AgentVersion: version,
	})
}

// MessengerDisconnect removes one instance from its tab and frame. The tab
// entry survives while other frames of the tab still list the instance.
// It reports whether anything was removed.
func (r *Registry) MessengerDisconnect(ctx context.Context, tabID, frameID int, instanceID string) bool {
	r.mu.Lock()
	removed := false

	key := frameKey{tabID: tabID, frameID: frameID}
	if entry, ok := r.frames[key]; ok {
		if _, present := entry.instances[instanceID]; present {
			delete(entry.instances, instanceID)
			removed = true
		}
		if len(entry.instances) == 0 {
			delete(r.frames, key)
		}
	}

	if set, ok := r.tabs[tabID]; ok {
		if !r.listedUnderTabLocked(tabID, instanceID) {
			if _, present := set[instanceID]; present {
				delete(set, instanceID)
				removed = true
			}
		}
		if len(set) == 0 {
			delete(r.tabs, tabID)
		}
	}
	r.mu.Unlock()

	if !removed {
		slog.Debug(fmt.Sprintf("%s - Disconnect for unknown instance=%s tab=%d frame=%d", logPrefix, instanceID, tabID, frameID))
		return false
	}

	slog.Info(fmt.Sprintf("%s - Disconnected instance=%s tab=%d frame=%d", logPrefix, instanceID, tabID, frameID))
	r.publish(ctx, &events.PresenceChangedEvent{
		Kind:       events.PresenceDisconnected,
		TabID:      tabID,
		FrameID:    &frameID,
		InstanceID: instanceID,
	})
	return true
}

// listedUnderTabLocked reports whether any remaining frame of tabID lists
// instanceID. r.mu must be held.
func (r *Registry) listedUnderTabLocked(tabID int, instanceID string) bool {
	for key, entry := range r.frames {
		if key.tabID != tabID {
			continue
		}
		if _, ok := entry.instances[instanceID]; ok {
			return true
		}
	}
	return false
}

// TabDisconnect removes the tab and every frame that belongs to it. It
// reports whether the tab was known.
func (r *Registry) TabDisconnect(ctx context.Context, tabID int) bool {
	r.mu.Lock()
	_, known := r.tabs[tabID]
	delete(r.tabs, tabID)
	for key, entry := range r.frames {
		if entry.tabID == tabID {
			delete(r.frames, key)
			known = true
		}
	}
	r.mu.Unlock()

	if !known {
		slog.Debug(fmt.Sprintf("%s - Tab disconnect for unknown tab=%d", logPrefix, tabID))
		return false
	}

	slog.Info(fmt.Sprintf("%s - Tab closed tab=%d", logPrefix, tabID))
	r.publish(ctx, &events.PresenceChangedEvent{
		Kind:  events.PresenceTabClosed,
		TabID: tabID,
	})
	return true
}

// IsConnected reports whether the queried tab's set or the queried frame's
// set is non-empty. A frame without a tab matches that frame id in any tab.
func (r *Registry) IsConnected(q Query) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q.TabID != nil && len(r.tabs[*q.TabID]) > 0 {
		return true
	}
	if q.FrameID == nil {
		return false
	}
	if q.TabID != nil {
		entry, ok := r.frames[frameKey{tabID: *q.TabID, frameID: *q.FrameID}]
		return ok && len(entry.instances) > 0
	}
	for key, entry := range r.frames {
		if key.frameID == *q.FrameID && len(entry.instances) > 0 {
			return true
		}
	}
	return false
}

// Snapshot returns the registry content ordered by tab then frame.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.frames))
	for key, entry := range r.frames {
		ids := make([]string, 0, len(entry.instances))
		for id := range entry.instances {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out = append(out, Entry{TabID: key.tabID, FrameID: key.frameID, Instances: ids})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TabID != out[j].TabID {
			return out[i].TabID < out[j].TabID
		}
		return out[i].FrameID < out[j].FrameID
	})
	return out
}

// Counts returns the number of tab and frame entries.
func (r *Registry) Counts() (tabs, frames int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs), len(r.frames)
}

func (r *Registry) publish(ctx context.Context, event *events.PresenceChangedEvent) {
	if ctx == nil {
		ctx = context.Background()
	}
	event.Timestamp = r.now().UTC().Format(time.RFC3339Nano)
	if event.Group == "" {
		r.mu.Lock()
		event.Group = r.group
		r.mu.Unlock()
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.publisher.PublishPresence(pubCtx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s for tab %d: %v", logPrefix, event.Kind, event.TabID, err))
	}
}
