package client

import (
	"context"
	"sync"

	"nostr-greet/internal/feed"
	"nostr-greet/internal/logging"
	"nostr-greet/internal/types"
)

// feedState is one logical feed: a cursor for going back in time and the
// head, the newest created_at handed out so far.
type feedState struct {
	mu      sync.Mutex
	filter  types.Filter
	cursor  *feed.Cursor
	started bool
	head    int64
	headIDs map[string]bool // ids already returned at created_at == head
}

func (c *Client) feed(f types.Filter) *feedState {
	key := f.Key()
	c.feedsMu.Lock()
	defer c.feedsMu.Unlock()
	st, ok := c.feeds[key]
	if !ok {
		st = &feedState{filter: f, cursor: feed.NewCursor(c.subs, c.store, f)}
		c.feeds[key] = st
	}
	return st
}

func (c *Client) pageSize() int {
	if c.cfg.PageSize > 0 {
		return c.cfg.PageSize
	}
	return feed.DefaultPageSize
}

// RefreshFeed returns what is new in the feed for f. The first call, or a
// call with reset, starts over and returns the newest page. Later calls
// ask the relays for events since the feed head and return only events
// not handed out before, newest first. At most one refresh per feed runs
// at a time: concurrent callers, reset or not, join the running one and
// share its result, which they must not modify.
func (c *Client) RefreshFeed(ctx context.Context, f types.Filter, reset bool) ([]*types.Event, error) {
	v, err, shared := c.refresh.Do(f.Key(), func() (interface{}, error) {
		return c.refreshFeed(logging.WithOp(ctx), f, reset)
	})
	switch {
	case err != nil:
		c.metrics.FeedRefresh("error")
		return nil, err
	case shared:
		c.metrics.FeedRefresh("shared")
	default:
		c.metrics.FeedRefresh("ok")
	}
	return v.([]*types.Event), nil
}

func (c *Client) refreshFeed(ctx context.Context, f types.Filter, reset bool) ([]*types.Event, error) {
	st := c.feed(f)
	st.mu.Lock()
	defer st.mu.Unlock()

	if reset || !st.started {
		st.cursor.Reset()
		page, err := st.cursor.NextPage(ctx, c.pageSize())
		if err != nil {
			return nil, err
		}
		st.started = true
		st.head = 0
		st.headIDs = make(map[string]bool)
		st.advance(page)
		return page, nil
	}

	since := st.head
	q := st.filter
	q.Since = &since
	q.Until = nil
	q.Limit = 0
	if _, err := c.fetch(ctx, q); err != nil {
		return nil, err
	}

	var fresh []*types.Event
	for _, e := range c.store.Query(q) {
		if e.CreatedAt == st.head && st.headIDs[e.ID] {
			continue
		}
		fresh = append(fresh, e)
	}
	st.advance(fresh)
	logging.FromContext(ctx, c.log).Debug("feed refreshed", "feed", f.Key(), "new", len(fresh), "head", st.head)
	return fresh, nil
}

// advance moves the head past evts, which are newest first
func (st *feedState) advance(evts []*types.Event) {
	for _, e := range evts {
		switch {
		case e.CreatedAt > st.head:
			st.head = e.CreatedAt
			st.headIDs = map[string]bool{e.ID: true}
		case e.CreatedAt == st.head:
			st.headIDs[e.ID] = true
		}
	}
}

// LoadMore returns the next older page of the feed for f
func (c *Client) LoadMore(ctx context.Context, f types.Filter) ([]*types.Event, error) {
	st := c.feed(f)
	st.mu.Lock()
	defer st.mu.Unlock()

	page, err := st.cursor.NextPage(logging.WithOp(ctx), c.pageSize())
	if err != nil {
		return nil, err
	}
	if !st.started {
		st.started = true
		st.headIDs = make(map[string]bool)
		st.advance(page)
	}
	return page, nil
}

// FollowFeed is the filter of the home feed: notes and reposts by the
// user and everyone they follow.
func (c *Client) FollowFeed() types.Filter {
	authors := c.contacts.Follows()
	if self := c.Self(); self != "" {
		authors = append(authors, self)
	}
	return types.Filter{
		Authors: types.SortedCopy(authors),
		Kinds:   []int{types.KindTextNote, types.KindRepost},
	}
}
