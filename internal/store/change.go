package store

import (
	"nostr-greet/internal/types"
)

// ChangeType identifies a store mutation
type ChangeType int

const (
	Added ChangeType = iota
	// Updated is emitted instead of Added when a replaceable event supersedes
	// the latest one for its author and kind. The older record stays in the
	// store untouched; Replaced names it.
	Updated
	Removed
	Cleared
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Cleared:
		return "cleared"
	}
	return "unknown"
}

// Change is delivered to observers after the mutation is visible to readers.
// Event is a private copy; for Cleared it is nil.
type Change struct {
	Type     ChangeType
	ID       string
	Event    *types.Event
	Replaced string
}

// Observe registers fn for every subsequent change. fn runs synchronously
// on the mutating goroutine, in mutation order, and must not call back into
// the store's mutating methods. The returned func unregisters it.
func (s *Store) Observe(fn func(Change)) (cancel func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.obsMu.RLock()
	fns := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
