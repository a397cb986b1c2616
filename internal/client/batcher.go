package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Batcher collects key lookups over a short window and resolves them with
// one call. Overlapping requests ([a,b] and [b,c]) become a single fetch
// of [a,b,c].
type Batcher[V any] struct {
	name     string
	batchFn  func(keys []string) map[string]V
	window   time.Duration
	maxBatch int
	log      *slog.Logger

	mu      sync.Mutex
	keys    map[string]struct{}
	waiters []*batchWaiter[V]
	timer   *time.Timer // nil while nothing is pending
}

type batchWaiter[V any] struct {
	keys   []string
	result chan map[string]V
}

// NewBatcher returns a batcher that waits window before running batchFn,
// or runs it right away once maxBatch distinct keys are pending
// (0 = unlimited).
func NewBatcher[V any](name string, batchFn func(keys []string) map[string]V, window time.Duration, maxBatch int, log *slog.Logger) *Batcher[V] {
	if log == nil {
		log = slog.Default()
	}
	return &Batcher[V]{
		name:     name,
		batchFn:  batchFn,
		window:   window,
		maxBatch: maxBatch,
		log:      log,
		keys:     make(map[string]struct{}),
	}
}

// GetMultiple resolves keys together with whatever else is pending. It
// returns early with ctx's error; the batch still runs for the others.
func (b *Batcher[V]) GetMultiple(ctx context.Context, keys []string) (map[string]V, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	waiter := &batchWaiter[V]{
		keys:   keys,
		result: make(chan map[string]V, 1),
	}

	b.mu.Lock()
	for _, key := range keys {
		b.keys[key] = struct{}{}
	}
	b.waiters = append(b.waiters, waiter)
	full := b.maxBatch > 0 && len(b.keys) >= b.maxBatch
	switch {
	case full:
		if b.timer != nil {
			b.timer.Stop()
		}
		go b.executeBatch()
	case b.timer == nil:
		b.timer = time.AfterFunc(b.window, b.executeBatch)
	}
	b.mu.Unlock()

	select {
	case res := <-waiter.result:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Batcher[V]) executeBatch() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.keys))
	for key := range b.keys {
		keys = append(keys, key)
	}
	waiters := b.waiters
	b.keys = make(map[string]struct{})
	b.waiters = nil
	b.timer = nil
	b.mu.Unlock()

	if len(keys) == 0 {
		return
	}

	b.log.Debug("batcher: executing batch", "name", b.name, "keys", len(keys), "waiters", len(waiters))
	results := b.batchFn(keys)

	for _, w := range waiters {
		own := make(map[string]V, len(w.keys))
		for _, key := range w.keys {
			if val, ok := results[key]; ok {
				own[key] = val
			}
		}
		w.result <- own
	}
}

// Stats returns the pending key and waiter counts
func (b *Batcher[V]) Stats() (pendingKeys int, pendingWaiters int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys), len(b.waiters)
}
