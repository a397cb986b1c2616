// Package display keeps a render-ready mirror of the event store, fed by
// store change notifications.
package display

import (
	"slices"
	"sync"

	"nostr-greet/internal/store"
	"nostr-greet/internal/types"
)

// List is the UI side of the store. It trusts what the store tells it and
// does no validation of its own.
type List struct {
	mu     sync.RWMutex
	events []*types.Event // most recent change first
	filter func(*types.Event) bool
}

// New returns an empty list. A non-nil filter limits which events are kept.
func New(filter func(*types.Event) bool) *List {
	return &List{filter: filter}
}

// Attach seeds the list from st and keeps it in sync
func (l *List) Attach(st *store.Store) (cancel func()) {
	cancel = st.Observe(l.Apply)
	l.mu.Lock()
	for _, e := range st.Dump() {
		if l.keep(e) && l.index(e.ID) < 0 {
			l.events = append(l.events, e)
		}
	}
	l.mu.Unlock()
	return cancel
}

func (l *List) keep(e *types.Event) bool {
	return l.filter == nil || l.filter(e)
}

func (l *List) index(id string) int {
	return slices.IndexFunc(l.events, func(e *types.Event) bool { return e.ID == id })
}

// Apply mirrors one store change
func (l *List) Apply(ch store.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ch.Type {
	case store.Added:
		if ch.Event == nil || !l.keep(ch.Event) || l.index(ch.ID) >= 0 {
			return
		}
		l.events = slices.Insert(l.events, 0, ch.Event)
	case store.Updated:
		if ch.Event == nil || !l.keep(ch.Event) {
			return
		}
		if i := l.index(ch.Replaced); i >= 0 {
			l.events[i] = ch.Event
			return
		}
		if l.index(ch.ID) < 0 {
			l.events = slices.Insert(l.events, 0, ch.Event)
		}
	case store.Removed:
		l.events = slices.DeleteFunc(l.events, func(e *types.Event) bool { return e.ID == ch.ID })
	case store.Cleared:
		l.events = nil
	}
}

// Events returns the entries in arrival order, newest change first
func (l *List) Events() []*types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.events)
}

// Sorted returns the entries by created_at, newest first
func (l *List) Sorted() []*types.Event {
	out := l.Events()
	slices.SortFunc(out, func(a, b *types.Event) int {
		if a.Newer(b) {
			return -1
		}
		if b.Newer(a) {
			return 1
		}
		return 0
	})
	return out
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
