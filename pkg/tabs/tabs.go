// Package tabs provides the tab-enumeration collaborator the orchestrator and
// control panel use to resolve ActiveTab and AllTabs targets.
package tabs

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNoHost is reported when no tab host answers an enumeration request.
var ErrNoHost = errors.New("tabs: no tab host available")

// Tab describes one open tab.
type Tab struct {
	ID       int    `json:"id" yaml:"id"`
	WindowID int    `json:"windowId" yaml:"windowId"`
	Active   bool   `json:"active" yaml:"active"`
	Focused  bool   `json:"focused" yaml:"focused"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
}

// Filter narrows an enumeration. The zero Filter matches every tab.
type Filter struct {
	// Active keeps only the active tab of each window.
	Active bool `json:"active,omitempty"`
	// WindowID keeps only tabs of that window when non-zero.
	WindowID int `json:"windowId,omitempty"`
	// LastFocusedWindow keeps only tabs of the focused window.
	LastFocusedWindow bool `json:"lastFocusedWindow,omitempty"`
}

// Matches reports whether tab satisfies the filter.
func (f Filter) Matches(tab Tab) bool {
	if f.Active && !tab.Active {
		return false
	}
	if f.WindowID != 0 && tab.WindowID != f.WindowID {
		return false
	}
	if f.LastFocusedWindow && !tab.Focused {
		return false
	}
	return true
}

// ActiveFilter selects the active tab of every window.
func ActiveFilter() Filter { return Filter{Active: true} }

// Enumerator resolves tab ids. Results are delivered to cb, possibly after
// QueryTabs has returned, and cb is invoked exactly once.
type Enumerator interface {
	QueryTabs(ctx context.Context, f Filter, cb func(ids []int, err error))
}

// Store lists the tabs known to a tab host.
type Store interface {
	ListTabs(ctx context.Context, f Filter) ([]Tab, error)
}

// IDs extracts ids from tabs, sorted ascending.
func IDs(list []Tab) []int {
	ids := make([]int, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.ID)
	}
	sort.Ints(ids)
	return ids
}

// StaticStore is an in-memory Store.
type StaticStore struct {
	mu   sync.RWMutex
	tabs map[int]Tab
}

// NewStaticStore creates a store seeded with list.
func NewStaticStore(list []Tab) *StaticStore {
	s := &StaticStore{tabs: make(map[int]Tab, len(list))}
	for _, t := range list {
		s.tabs[t.ID] = t
	}
	return s
}

// ListTabs returns the tabs matching f ordered by id.
func (s *StaticStore) ListTabs(_ context.Context, f Filter) ([]Tab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tab, 0, len(s.tabs))
	for _, t := range s.tabs {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put adds or replaces a tab.
func (s *StaticStore) Put(t Tab) {
	s.mu.Lock()
	s.tabs[t.ID] = t
	s.mu.Unlock()
}

// Remove deletes a tab.
func (s *StaticStore) Remove(id int) {
	s.mu.Lock()
	delete(s.tabs, id)
	s.mu.Unlock()
}

// StoreEnumerator answers queries synchronously from a Store.
type StoreEnumerator struct {
	Store Store
}

// QueryTabs lists matching tabs and invokes cb before returning.
func (e StoreEnumerator) QueryTabs(ctx context.Context, f Filter, cb func([]int, error)) {
	if e.Store == nil {
		cb(nil, ErrNoHost)
		return
	}
	list, err := e.Store.ListTabs(ctx, f)
	if err != nil {
		cb(nil, err)
		return
	}
	cb(IDs(list), nil)
}
