package relay

import (
	"sync"

	"nostr-greet/internal/types"
)

// Subscription represents an active REQ on one relay connection.
// Events is never closed; readers select on Done.
type Subscription struct {
	ID     string
	Relay  string
	Events chan *types.Event
	EOSE   chan struct{}
	Done   chan struct{}

	closeOnce sync.Once
	eoseOnce  sync.Once
	mu        sync.Mutex
	reason    string
}

func newSubscription(relayURL, id string) *Subscription {
	return &Subscription{
		ID:     id,
		Relay:  relayURL,
		Events: make(chan *types.Event, 256),
		EOSE:   make(chan struct{}),
		Done:   make(chan struct{}),
	}
}

// Close safely closes the Done channel exactly once
func (s *Subscription) Close() {
	s.closeWithReason("")
}

// Reason is why the subscription ended: a relay CLOSED message, a
// disconnect, or "" when closed locally
func (s *Subscription) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Subscription) closeWithReason(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.Done)
	})
}

func (s *Subscription) markEOSE() {
	s.eoseOnce.Do(func() {
		close(s.EOSE)
	})
}
