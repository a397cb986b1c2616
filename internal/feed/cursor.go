// Package feed pages backwards through history for one filter.
package feed

import (
	"context"
	"sync"

	"nostr-greet/internal/subscription"
	"nostr-greet/internal/types"
)

const DefaultPageSize = 20

// Querier opens relay queries; *subscription.Manager satisfies it
type Querier interface {
	Query(ctx context.Context, f types.Filter) (*subscription.Handle, error)
}

// Reader reads pages out of the local store; *store.Store satisfies it
type Reader interface {
	Query(f types.Filter) []*types.Event
}

// Cursor walks a filter from now towards the past. Each page asks the
// relays for events up to the current boundary, waits until the page is
// complete and then reads it from the store, so events from every relay
// are merged and deduplicated. The boundary then moves to one second
// before the oldest event returned, which means a page never repeats an
// event from an earlier one.
type Cursor struct {
	querier Querier
	reader  Reader
	filter  types.Filter

	mu    sync.Mutex
	until *int64 // nil means now
}

func NewCursor(q Querier, r Reader, f types.Filter) *Cursor {
	f.Until = nil
	f.Limit = 0
	return &Cursor{querier: q, reader: r, filter: f}
}

// NextPage returns up to limit events older than everything returned so
// far, newest first. A short page suggests history is exhausted; calling
// again is safe.
func (c *Cursor) NextPage(ctx context.Context, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.filter.WithWindow(c.until, limit)
	if f.Since != nil && f.Until != nil && *f.Until < *f.Since {
		return nil, nil
	}

	h, err := c.querier.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	_, err = h.Wait(ctx)
	h.Close()
	if err != nil {
		return nil, err
	}

	page := c.reader.Query(f)
	if len(page) > 0 {
		oldest := page[len(page)-1].CreatedAt
		c.until = types.Int64(oldest - 1)
	}
	return page, nil
}

// Reset moves the cursor back to now
func (c *Cursor) Reset() {
	c.mu.Lock()
	c.until = nil
	c.mu.Unlock()
}

// Until returns the current boundary, nil when at now
func (c *Cursor) Until() *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.until == nil {
		return nil
	}
	v := *c.until
	return &v
}

// Filter returns the cursor's filter without window
func (c *Cursor) Filter() types.Filter {
	return c.filter
}
