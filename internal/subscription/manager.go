// Package subscription turns one logical query into a REQ per connected
// read relay and funnels every delivered event into the store.
//
// A query's page is complete once every relay it was sent to has settled:
// it sent EOSE, it timed out, it closed the subscription, or it went away.
// Handles keep streaming live events after that until they are closed.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v2"

	"nostr-greet/internal/metrics"
	"nostr-greet/internal/nostr"
	"nostr-greet/internal/relay"
	"nostr-greet/internal/store"
	"nostr-greet/internal/types"
)

// ErrQueryTimeout marks relays that didn't send EOSE within the timeout.
// It is recorded in PageStats, never returned from Query.
var ErrQueryTimeout = errors.New("relay did not finish in time")

const DefaultTimeout = 5 * time.Second

// Pool is the part of the relay pool used for queries
type Pool interface {
	ReadRelays() []string
	Subscribe(url, subID string, filters []map[string]interface{}) (*relay.Subscription, error)
	Unsubscribe(url string, sub *relay.Subscription)
}

// Store accepts events from relays
type Store interface {
	Put(evt *types.Event) store.PutResult
}

type Manager struct {
	pool    Pool
	store   Store
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
	handles *xsync.MapOf[string, *Handle]
}

type Option func(*Manager)

// WithTimeout sets how long each relay gets to send EOSE
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(pool Pool, st Store, opts ...Option) *Manager {
	m := &Manager{
		pool:    pool,
		store:   st,
		timeout: DefaultTimeout,
		log:     slog.Default().With("component", "subscription"),
		handles: xsync.NewMapOf[*Handle](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Query opens f on every connected read relay. The handle is closed when
// ctx ends or Close is called. With no read relays the page is complete
// immediately and empty.
func (m *Manager) Query(ctx context.Context, f types.Filter) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := &Handle{
		ID:       uuid.NewString(),
		Filter:   f,
		m:        m,
		complete: make(chan struct{}),
		closed:   make(chan struct{}),
		started:  time.Now(),
	}

	wire := nostr.WireFilters(f)
	for _, url := range m.pool.ReadRelays() {
		sub, err := m.pool.Subscribe(url, h.ID, wire)
		if err != nil {
			m.log.Debug("skipping relay for query", "relay", url, "error", err)
			continue
		}
		h.subs = append(h.subs, sub)
	}

	h.pending = len(h.subs)
	h.stats.Relays = len(h.subs)
	if h.pending == 0 {
		h.markComplete()
	}

	m.handles.Store(h.ID, h)
	for _, sub := range h.subs {
		h.wg.Add(1)
		go h.consume(sub)
	}
	stop := context.AfterFunc(ctx, h.Close)
	h.mu.Lock()
	h.stopAfter = stop
	h.mu.Unlock()

	m.log.Debug("query opened", "sub", h.ID, "relays", len(h.subs), "filter", f.Key())
	return h, nil
}

// Close tears a handle down; equivalent to h.Close()
func (m *Manager) Close(h *Handle) {
	if h != nil {
		h.Close()
	}
}

// CloseAll closes every open handle
func (m *Manager) CloseAll() {
	m.handles.Range(func(_ string, h *Handle) bool {
		h.Close()
		return true
	})
}

// Open returns the number of open handles
func (m *Manager) Open() int {
	return m.handles.Size()
}

// PageStats summarizes how each relay of a query settled and what its
// events did in the store
type PageStats struct {
	Relays     int
	EOSE       int
	TimedOut   int
	Dropped    int
	Accepted   int
	Duplicates int
	Rejected   int
	Mismatched int
}

// Handle is one open query
type Handle struct {
	ID     string
	Filter types.Filter

	m         *Manager
	subs      []*relay.Subscription
	wg        sync.WaitGroup
	started   time.Time
	stopAfter func() bool

	complete     chan struct{}
	completeOnce sync.Once
	closed       chan struct{}
	closeOnce    sync.Once

	mu      sync.Mutex
	pending int
	stats   PageStats
}

// Complete is closed once every relay settled (or the handle was closed)
func (h *Handle) Complete() <-chan struct{} {
	return h.complete
}

// Wait blocks until the page is complete or ctx ends
func (h *Handle) Wait(ctx context.Context) (PageStats, error) {
	select {
	case <-h.complete:
		return h.Stats(), nil
	case <-ctx.Done():
		return h.Stats(), ctx.Err()
	}
}

func (h *Handle) Stats() PageStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Close sends CLOSE to every relay and returns once no more events from
// this handle can reach the store. Idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.mu.Lock()
		stop := h.stopAfter
		h.mu.Unlock()
		if stop != nil {
			stop()
		}
		for _, sub := range h.subs {
			h.m.pool.Unsubscribe(sub.Relay, sub)
		}
		h.wg.Wait()
		h.markComplete()
		h.m.handles.Delete(h.ID)
	})
}

func (h *Handle) markComplete() {
	h.completeOnce.Do(func() {
		close(h.complete)
	})
}

type settleKind int

const (
	settledEOSE settleKind = iota
	settledTimeout
	settledDropped
)

func (h *Handle) settle(sub *relay.Subscription, kind settleKind) {
	h.mu.Lock()
	switch kind {
	case settledEOSE:
		h.stats.EOSE++
	case settledTimeout:
		h.stats.TimedOut++
		h.m.log.Debug("relay query timed out", "relay", sub.Relay, "sub", h.ID, "error", ErrQueryTimeout)
	case settledDropped:
		h.stats.Dropped++
		h.m.log.Debug("relay left query", "relay", sub.Relay, "sub", h.ID, "reason", sub.Reason())
	}
	h.pending--
	done := h.pending == 0
	h.mu.Unlock()

	if done {
		h.m.metrics.ObserveQuery(time.Since(h.started))
		h.markComplete()
	}
}

func (h *Handle) put(evt *types.Event) {
	if !h.Filter.Matches(evt) {
		h.mu.Lock()
		h.stats.Mismatched++
		h.mu.Unlock()
		return
	}
	res := h.m.store.Put(evt)
	h.mu.Lock()
	switch res {
	case store.Accepted:
		h.stats.Accepted++
	case store.DuplicateIgnored:
		h.stats.Duplicates++
	case store.RejectedInvalid:
		h.stats.Rejected++
	}
	h.mu.Unlock()
}

// drain stores whatever the relay delivered before the signal being handled
func (h *Handle) drain(sub *relay.Subscription) {
	for {
		select {
		case evt := <-sub.Events:
			h.put(evt)
		default:
			return
		}
	}
}

func (h *Handle) consume(sub *relay.Subscription) {
	defer h.wg.Done()

	timer := time.NewTimer(h.m.timeout)
	defer timer.Stop()
	timeout := timer.C
	eose := sub.EOSE
	settled := false

	for {
		select {
		case <-h.closed:
			if !settled {
				h.settle(sub, settledDropped)
			}
			return

		case evt := <-sub.Events:
			h.put(evt)

		case <-eose:
			eose = nil
			timeout = nil
			h.drain(sub)
			if !settled {
				settled = true
				h.settle(sub, settledEOSE)
			}

		case <-timeout:
			timeout = nil
			if !settled {
				settled = true
				h.settle(sub, settledTimeout)
			}

		case <-sub.Done:
			h.drain(sub)
			if !settled {
				h.settle(sub, settledDropped)
			}
			return
		}
	}
}
