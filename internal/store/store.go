// Package store is the content-addressed local event cache.
//
// Events enter only through Put, which verifies the id hash and signature
// and collapses duplicates, so any number of relays may deliver the same
// event concurrently. Besides the primary id index the store keeps a
// timeline ordered by created_at (newest first, ties broken by id), an
// inverted tag index and a latest-per-author+kind index. Observers are told
// about every mutation after it is visible.
package store

import (
	"log/slog"
	"sort"
	"sync"

	"nostr-greet/internal/metrics"
	"nostr-greet/internal/nostr"
	"nostr-greet/internal/types"
)

// PutResult is the outcome of offering an event to the store
type PutResult int

const (
	Accepted PutResult = iota
	DuplicateIgnored
	RejectedInvalid
)

func (r PutResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case DuplicateIgnored:
		return "duplicate"
	case RejectedInvalid:
		return "rejected"
	}
	return "unknown"
}

type tagKey struct {
	name  string
	value string
}

type authorKind struct {
	pubkey string
	kind   int
}

type Store struct {
	// writeMu serializes mutations together with their notifications so
	// observers see changes in mutation order. mu guards the indices.
	writeMu sync.Mutex
	mu      sync.RWMutex

	events       map[string]*types.Event
	timeline     []*types.Event
	tags         map[tagKey]map[string]struct{}
	latest       map[authorKind]*types.Event
	byAuthorKind map[authorKind]map[string]struct{}

	verify  func(*types.Event) error
	log     *slog.Logger
	metrics *metrics.Metrics

	obsMu     sync.RWMutex
	observers map[int]func(Change)
	nextObs   int
}

type Option func(*Store)

// WithVerifier replaces the id/signature check (nostr.ValidateEvent)
func WithVerifier(fn func(*types.Event) error) Option {
	return func(s *Store) { s.verify = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func New(opts ...Option) *Store {
	s := &Store{
		verify:    nostr.ValidateEvent,
		log:       slog.Default().With("component", "store"),
		observers: make(map[int]func(Change)),
	}
	s.reset()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) reset() {
	s.events = make(map[string]*types.Event)
	s.timeline = nil
	s.tags = make(map[tagKey]map[string]struct{})
	s.latest = make(map[authorKind]*types.Event)
	s.byAuthorKind = make(map[authorKind]map[string]struct{})
}

// Put validates and inserts evt. The caller keeps ownership of evt; the
// store holds its own copy.
func (s *Store) Put(evt *types.Event) PutResult {
	if evt == nil {
		return RejectedInvalid
	}

	// cheap duplicate check before paying for signature verification
	s.mu.RLock()
	_, dup := s.events[evt.ID]
	s.mu.RUnlock()
	if dup {
		s.metrics.EventPut(DuplicateIgnored.String())
		return DuplicateIgnored
	}

	if err := s.verify(evt); err != nil {
		s.log.Debug("rejected event", "event_id", nostr.ShortID(evt.ID), "error", err)
		s.metrics.EventPut(RejectedInvalid.String())
		return RejectedInvalid
	}

	e := evt.Clone()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, exists := s.events[e.ID]; exists {
		s.mu.Unlock()
		s.metrics.EventPut(DuplicateIgnored.String())
		return DuplicateIgnored
	}

	s.events[e.ID] = e
	s.insertTimeline(e)
	s.indexTags(e)

	ak := authorKind{e.PubKey, e.Kind}
	if s.byAuthorKind[ak] == nil {
		s.byAuthorKind[ak] = make(map[string]struct{})
	}
	s.byAuthorKind[ak][e.ID] = struct{}{}

	change := Change{Type: Added, ID: e.ID, Event: e.Clone()}
	prev := s.latest[ak]
	if prev == nil || e.CreatedAt > prev.CreatedAt {
		s.latest[ak] = e
		if prev != nil && types.IsReplaceable(e.Kind) {
			change.Type = Updated
			change.Replaced = prev.ID
		}
	}
	size := len(s.events)
	s.mu.Unlock()

	s.metrics.EventPut(Accepted.String())
	s.metrics.StoreSize(size)
	s.notify(change)
	return Accepted
}

// Delete evicts an event from every index. This is a local eviction only.
func (s *Store) Delete(id string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	e, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	delete(s.events, id)
	s.removeTimeline(e)
	s.unindexTags(e)

	ak := authorKind{e.PubKey, e.Kind}
	delete(s.byAuthorKind[ak], id)
	if len(s.byAuthorKind[ak]) == 0 {
		delete(s.byAuthorKind, ak)
		delete(s.latest, ak)
	} else if s.latest[ak] != nil && s.latest[ak].ID == id {
		s.latest[ak] = s.recomputeLatest(ak)
	}
	size := len(s.events)
	s.mu.Unlock()

	s.metrics.StoreSize(size)
	s.notify(Change{Type: Removed, ID: id, Event: e.Clone()})
	return true
}

// Clear empties the store atomically
func (s *Store) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.reset()
	s.mu.Unlock()

	s.metrics.StoreSize(0)
	s.notify(Change{Type: Cleared})
}

func (s *Store) Get(id string) (*types.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[id]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Latest returns the newest event of kind by pubkey
func (s *Store) Latest(pubkey string, kind int) (*types.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.latest[authorKind{pubkey, kind}]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Dump returns every event, newest first
func (s *Store) Dump() []*types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Event, len(s.timeline))
	for i, e := range s.timeline {
		out[i] = e.Clone()
	}
	return out
}

// Query returns events matching f, newest first, at most f.Limit when set
func (s *Store) Query(f types.Filter) []*types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(f.IDs) > 0 {
		return s.collect(s.byIDs(f.IDs), f)
	}
	if candidates, ok := s.smallestTagSet(f.Tags); ok {
		return s.collect(candidates, f)
	}

	start := 0
	if f.Until != nil {
		until := *f.Until
		start = sort.Search(len(s.timeline), func(i int) bool {
			return s.timeline[i].CreatedAt <= until
		})
	}

	var out []*types.Event
	for _, e := range s.timeline[start:] {
		if f.Since != nil && e.CreatedAt < *f.Since {
			break
		}
		if !f.Matches(e) {
			continue
		}
		out = append(out, e.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Tagged returns events carrying a (name, value) tag for any of values, newest first
func (s *Store) Tagged(name string, values ...string) []*types.Event {
	return s.Query(types.Filter{Tags: map[string][]string{name: values}})
}

func (s *Store) byIDs(ids []string) []*types.Event {
	out := make([]*types.Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// smallestTagSet picks the tag constraint with the fewest candidate events
func (s *Store) smallestTagSet(tags map[string][]string) ([]*types.Event, bool) {
	var best map[string]struct{}
	found := false
	for name, values := range tags {
		if len(values) == 0 {
			continue
		}
		set := make(map[string]struct{})
		for _, v := range values {
			for id := range s.tags[tagKey{name, v}] {
				set[id] = struct{}{}
			}
		}
		if !found || len(set) < len(best) {
			best = set
			found = true
		}
	}
	if !found {
		return nil, false
	}
	out := make([]*types.Event, 0, len(best))
	for id := range best {
		out = append(out, s.events[id])
	}
	return out, true
}

// collect filters and orders an unordered candidate set
func (s *Store) collect(candidates []*types.Event, f types.Filter) []*types.Event {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Newer(candidates[j])
	})
	var out []*types.Event
	for _, e := range candidates {
		if !f.Matches(e) {
			continue
		}
		out = append(out, e.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (s *Store) insertTimeline(e *types.Event) {
	i := sort.Search(len(s.timeline), func(i int) bool {
		return !s.timeline[i].Newer(e)
	})
	s.timeline = append(s.timeline, nil)
	copy(s.timeline[i+1:], s.timeline[i:])
	s.timeline[i] = e
}

func (s *Store) removeTimeline(e *types.Event) {
	i := sort.Search(len(s.timeline), func(i int) bool {
		return !s.timeline[i].Newer(e)
	})
	if i < len(s.timeline) && s.timeline[i].ID == e.ID {
		s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
	}
}

func (s *Store) indexTags(e *types.Event) {
	for _, tag := range e.Tags {
		if len(tag) < 2 {
			continue
		}
		k := tagKey{tag[0], tag[1]}
		if s.tags[k] == nil {
			s.tags[k] = make(map[string]struct{})
		}
		s.tags[k][e.ID] = struct{}{}
	}
}

func (s *Store) unindexTags(e *types.Event) {
	for _, tag := range e.Tags {
		if len(tag) < 2 {
			continue
		}
		k := tagKey{tag[0], tag[1]}
		delete(s.tags[k], e.ID)
		if len(s.tags[k]) == 0 {
			delete(s.tags, k)
		}
	}
}

func (s *Store) recomputeLatest(ak authorKind) *types.Event {
	var best *types.Event
	for id := range s.byAuthorKind[ak] {
		e := s.events[id]
		if best == nil || e.Newer(best) {
			best = e
		}
	}
	return best
}
