// Package contacts derives the local follow graph and a profile metadata
// cache from store changes.
package contacts

import (
	"log/slog"
	"slices"
	"sync"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/store"
	"nostr-greet/internal/types"
)

type metaEntry struct {
	meta      types.ProfileMetadata
	createdAt int64
	eventID   string
}

type relayListEntry struct {
	list      types.RelayList
	createdAt int64
	eventID   string
}

// Cache holds the local user's contact graph and the latest metadata seen
// for any author. Contact lists and metadata only ever move forward: an
// event replaces the cached value only if its created_at is strictly newer.
type Cache struct {
	mu        sync.RWMutex
	self      string
	graph     types.ContactGraph
	meta      map[string]metaEntry
	relayList map[string]relayListEntry
	src       *store.Store // set by Observe, consulted when a cached event is removed
	log       *slog.Logger
}

func New(self string) *Cache {
	c := &Cache{log: slog.Default().With("component", "contacts")}
	c.Reset(self)
	return c
}

// Reset forgets everything and switches to a new local identity
func (c *Cache) Reset(self string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = self
	c.graph = types.ContactGraph{Owner: self}
	c.meta = make(map[string]metaEntry)
	c.relayList = make(map[string]relayListEntry)
}

// Observe keeps the cache in sync with st, seeding it from st's current
// content first. Call the returned func to detach.
func (c *Cache) Observe(st *store.Store) (cancel func()) {
	c.mu.Lock()
	c.src = st
	c.mu.Unlock()
	cancel = st.Observe(c.Apply)
	for _, evt := range st.Query(types.Filter{Kinds: []int{types.KindMetadata, types.KindContactList, types.KindRelayList}}) {
		c.Ingest(evt)
	}
	return cancel
}

// Apply handles one store change
func (c *Cache) Apply(ch store.Change) {
	switch ch.Type {
	case store.Added, store.Updated:
		c.Ingest(ch.Event)
	case store.Removed:
		c.remove(ch.Event)
	case store.Cleared:
		c.mu.RLock()
		self := c.self
		c.mu.RUnlock()
		c.Reset(self)
	}
}

// remove drops whatever evt backed and falls back to the newest remaining
// event of the same author and kind, if the observed store still has one
func (c *Cache) remove(evt *types.Event) {
	if evt == nil {
		return
	}
	c.mu.Lock()
	dropped := false
	switch evt.Kind {
	case types.KindContactList:
		if evt.PubKey == c.self && c.graph.EventID == evt.ID {
			c.graph = types.ContactGraph{Owner: c.self}
			dropped = true
		}
	case types.KindMetadata:
		if cur, ok := c.meta[evt.PubKey]; ok && cur.eventID == evt.ID {
			delete(c.meta, evt.PubKey)
			dropped = true
		}
	case types.KindRelayList:
		if cur, ok := c.relayList[evt.PubKey]; ok && cur.eventID == evt.ID {
			delete(c.relayList, evt.PubKey)
			dropped = true
		}
	}
	src := c.src
	c.mu.Unlock()

	if !dropped || src == nil {
		return
	}
	c.log.Debug("cached event removed", "event_id", nostr.ShortID(evt.ID), "kind", evt.Kind)
	if prev, ok := src.Latest(evt.PubKey, evt.Kind); ok {
		c.Ingest(prev)
	}
}

// Ingest offers one validated event to the cache
func (c *Cache) Ingest(evt *types.Event) {
	if evt == nil {
		return
	}
	switch evt.Kind {
	case types.KindContactList:
		c.ingestContactList(evt)
	case types.KindMetadata:
		c.ingestMetadata(evt)
	case types.KindRelayList:
		c.ingestRelayList(evt)
	}
}

func (c *Cache) ingestContactList(evt *types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if evt.PubKey != c.self {
		return
	}
	if c.graph.EventID != "" && evt.CreatedAt <= c.graph.CreatedAt {
		return
	}
	c.graph = types.ContactGraph{
		Owner:     c.self,
		EventID:   evt.ID,
		CreatedAt: evt.CreatedAt,
		Contacts:  types.ContactsFromTags(evt.Tags),
	}
	c.log.Debug("contact graph replaced", "event_id", nostr.ShortID(evt.ID), "follows", len(c.graph.Contacts))
}

func (c *Cache) ingestMetadata(evt *types.Event) {
	meta, err := types.ParseProfileMetadata(evt.Content)
	if err != nil {
		c.log.Debug("unparseable metadata", "event_id", nostr.ShortID(evt.ID), "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.meta[evt.PubKey]; ok && evt.CreatedAt <= cur.createdAt {
		return
	}
	c.meta[evt.PubKey] = metaEntry{meta: meta, createdAt: evt.CreatedAt, eventID: evt.ID}
}

func (c *Cache) ingestRelayList(evt *types.Event) {
	rl := nostr.ParseRelayList(evt.Tags)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.relayList[evt.PubKey]; ok && evt.CreatedAt <= cur.createdAt {
		return
	}
	c.relayList[evt.PubKey] = relayListEntry{list: rl, createdAt: evt.CreatedAt, eventID: evt.ID}
}

// Self returns the local identity
func (c *Cache) Self() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Graph returns a copy of the local contact graph
func (c *Cache) Graph() types.ContactGraph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g := c.graph
	g.Contacts = slices.Clone(c.graph.Contacts)
	return g
}

// Follows returns the followed pubkeys in contact list order
func (c *Cache) Follows() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.PubKeys()
}

func (c *Cache) IsFollowing(pk string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.ContainsFunc(c.graph.Contacts, func(ct types.Contact) bool {
		return ct.PubKey == pk
	})
}

// HasMetadata reports whether any metadata event of pk has been seen
func (c *Cache) HasMetadata(pk string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.meta[pk]
	return ok
}

// Metadata returns the cached metadata of pk and the created_at it came from
func (c *Cache) Metadata(pk string) (types.ProfileMetadata, int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.meta[pk]
	return e.meta, e.createdAt, ok
}

// Profile composes the view of pk. It never fails: unknown authors get
// empty metadata.
func (c *Cache) Profile(pk string) types.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := types.Profile{
		PK:   pk,
		Npub: nostr.EncodeNpub(pk),
	}
	if e, ok := c.meta[pk]; ok {
		p.Meta = e.meta
	}

	var relays []string
	for _, ct := range c.graph.Contacts {
		if ct.PubKey != pk {
			continue
		}
		p.Following = true
		if u, err := nostr.NormalizeRelayURL(ct.RelayHint); err == nil {
			relays = append(relays, u)
		}
		break
	}
	if rl, ok := c.relayList[pk]; ok {
		for _, u := range rl.list.Write {
			if !slices.Contains(relays, u) {
				relays = append(relays, u)
			}
		}
	}
	p.Relays = relays
	return p
}

// RelayList returns the NIP-65 relay list of pk, if seen
func (c *Cache) RelayList(pk string) (types.RelayList, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rl, ok := c.relayList[pk]
	return rl.list, ok
}
