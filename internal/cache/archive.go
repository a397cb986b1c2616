package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/store"
	"nostr-greet/internal/types"
)

const archiveQueueSize = 1024

// Archive keeps accepted events per identity so a later session can start
// from them. Entries live under "<pubkey>:event:<id>", and "<pubkey>:index"
// lists the archived ids.
//
// Nothing read back is trusted: restored events go through store.Put and
// its signature check like any relay event.
type Archive struct {
	backend Backend
	ttl     time.Duration
	log     *slog.Logger

	mu sync.Mutex // serializes index read-modify-write
}

func NewArchive(backend Backend, ttl time.Duration, log *slog.Logger) *Archive {
	if log == nil {
		log = slog.Default().With("component", "archive")
	}
	return &Archive{backend: backend, ttl: ttl, log: log}
}

func eventKey(pubkey, id string) string { return pubkey + ":event:" + id }
func indexKey(pubkey string) string     { return pubkey + ":index" }

func (a *Archive) readIndex(ctx context.Context, pubkey string) ([]string, error) {
	raw, ok, err := a.backend.Get(ctx, indexKey(pubkey))
	if err != nil || !ok {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		a.log.Warn("corrupt archive index, starting over", "pubkey", nostr.ShortID(pubkey), "error", err)
		return nil, nil
	}
	return ids, nil
}

func (a *Archive) writeIndex(ctx context.Context, pubkey string, ids []string) error {
	if len(ids) == 0 {
		return a.backend.Delete(ctx, indexKey(pubkey))
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return a.backend.Set(ctx, indexKey(pubkey), raw, a.ttl)
}

// Save archives events under pubkey
func (a *Archive) Save(ctx context.Context, pubkey string, evts ...*types.Event) error {
	if len(evts) == 0 {
		return nil
	}
	items := make(map[string][]byte, len(evts))
	for _, e := range evts {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", nostr.ShortID(e.ID), err)
		}
		items[eventKey(pubkey, e.ID)] = raw
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.backend.SetMultiple(ctx, items, a.ttl); err != nil {
		return fmt.Errorf("archive events: %w", err)
	}
	ids, err := a.readIndex(ctx, pubkey)
	if err != nil {
		return fmt.Errorf("read archive index: %w", err)
	}
	for _, e := range evts {
		if !slices.Contains(ids, e.ID) {
			ids = append(ids, e.ID)
		}
	}
	return a.writeIndex(ctx, pubkey, ids)
}

// Remove drops ids from pubkey's archive
func (a *Archive) Remove(ctx context.Context, pubkey string, ids ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = eventKey(pubkey, id)
	}
	if err := a.backend.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("remove archived events: %w", err)
	}

	idx, err := a.readIndex(ctx, pubkey)
	if err != nil {
		return fmt.Errorf("read archive index: %w", err)
	}
	idx = slices.DeleteFunc(idx, func(id string) bool { return slices.Contains(ids, id) })
	return a.writeIndex(ctx, pubkey, idx)
}

// Load returns what is archived for pubkey. Entries that expired or no
// longer decode are skipped.
func (a *Archive) Load(ctx context.Context, pubkey string) ([]*types.Event, error) {
	a.mu.Lock()
	ids, err := a.readIndex(ctx, pubkey)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read archive index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = eventKey(pubkey, id)
	}
	found, err := a.backend.GetMultiple(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load archived events: %w", err)
	}

	out := make([]*types.Event, 0, len(found))
	for _, k := range keys {
		raw, ok := found[k]
		if !ok {
			continue
		}
		var e types.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			a.log.Debug("skipping undecodable archive entry", "key", k, "error", err)
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

// Purge forgets everything archived for pubkey
func (a *Archive) Purge(ctx context.Context, pubkey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids, err := a.readIndex(ctx, pubkey)
	if err != nil {
		return fmt.Errorf("read archive index: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, eventKey(pubkey, id))
	}
	keys = append(keys, indexKey(pubkey))
	return a.backend.Delete(ctx, keys...)
}

// Restore puts pubkey's archived events into st and returns how many were
// accepted.
func (a *Archive) Restore(ctx context.Context, pubkey string, st *store.Store) (int, error) {
	evts, err := a.Load(ctx, pubkey)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range evts {
		if st.Put(e) == store.Accepted {
			n++
		}
	}
	a.log.Info("archive restored", "pubkey", nostr.ShortID(pubkey), "entries", len(evts), "accepted", n)
	return n, nil
}

// Observe archives st's additions and removals under pubkey from a
// background worker, so the store never waits on the backend. A clear of
// the store leaves the archive alone. stop detaches and waits for the
// queue to drain.
func (a *Archive) Observe(st *store.Store, pubkey string) (stop func()) {
	queue := make(chan store.Change, archiveQueueSize)
	var closed bool
	var qmu sync.Mutex

	cancel := st.Observe(func(ch store.Change) {
		if ch.Type == store.Cleared {
			return
		}
		qmu.Lock()
		defer qmu.Unlock()
		if closed {
			return
		}
		select {
		case queue <- ch:
		default:
			a.log.Warn("archive queue full, dropping change", "event_id", nostr.ShortID(ch.ID))
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ch := range queue {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			var err error
			switch ch.Type {
			case store.Added, store.Updated:
				err = a.Save(ctx, pubkey, ch.Event)
			case store.Removed:
				err = a.Remove(ctx, pubkey, ch.ID)
			}
			cancel()
			if err != nil {
				a.log.Warn("archive update failed", "event_id", nostr.ShortID(ch.ID), "error", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			qmu.Lock()
			closed = true
			close(queue)
			qmu.Unlock()
			<-done
		})
	}
}
