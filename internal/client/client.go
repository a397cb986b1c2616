// Package client is the single entry point of the engine: identity,
// relays, feeds, contacts and publishing on top of one event store.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"nostr-greet/internal/cache"
	"nostr-greet/internal/config"
	"nostr-greet/internal/contacts"
	"nostr-greet/internal/logging"
	"nostr-greet/internal/metrics"
	"nostr-greet/internal/nostr"
	"nostr-greet/internal/publish"
	"nostr-greet/internal/relay"
	"nostr-greet/internal/store"
	"nostr-greet/internal/subscription"
	"nostr-greet/internal/types"
)

var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrNotFound    = errors.New("event not found")
	// ErrNotPublished is returned with the per-relay result when no relay accepted an event
	ErrNotPublished = errors.New("no relay accepted the event")
)

const (
	profileBatchWindow = 50 * time.Millisecond
	profileBatchMax    = 100
	missingProfileTTL  = 30 * time.Second
	missingCacheSize   = 1024
)

type Client struct {
	cfg       *config.Config
	pool      *relay.Pool
	ownsPool  bool
	store     *store.Store
	subs      *subscription.Manager
	publisher *publish.Pipeline
	contacts  *contacts.Cache
	archive   *cache.Archive
	backend   cache.Backend // closed by Close when opened here
	metrics   *metrics.Metrics
	log       *slog.Logger

	mu           sync.RWMutex
	signer       nostr.Signer
	stopArchive  func()
	stopContacts func()

	contactsMu sync.Mutex // serializes contact list read-modify-publish

	feedsMu sync.Mutex
	feeds   map[string]*feedState
	refresh singleflight.Group

	profiles *Batcher[bool]
	missing  *lru.Cache // pubkey -> time.Time of a lookup that found no metadata

	pollMu     sync.Mutex
	cron       *cron.Cron
	pollCancel context.CancelFunc
}

type options struct {
	pool     *relay.Pool
	archive  *cache.Archive
	registry prometheus.Registerer
	log      *slog.Logger
}

type Option func(*options)

// WithPool uses an existing relay pool. The caller keeps ownership.
func WithPool(p *relay.Pool) Option {
	return func(o *options) { o.pool = p }
}

// WithArchive persists events through a instead of the configured backend
func WithArchive(a *cache.Archive) Option {
	return func(o *options) { o.archive = a }
}

// WithRegistry registers the engine's metrics on reg
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}

	c := &Client{
		cfg:     cfg,
		metrics: metrics.New(o.registry),
		log:     o.log.With("component", "client"),
		feeds:   make(map[string]*feedState),
	}

	c.pool = o.pool
	if c.pool == nil {
		c.pool = relay.NewPool(
			relay.WithConnectTimeout(cfg.ConnectTimeout.Std()),
			relay.WithLogger(o.log.With("component", "relay")),
			relay.WithMetrics(c.metrics),
		)
		c.ownsPool = true
	}

	c.store = store.New(
		store.WithLogger(o.log.With("component", "store")),
		store.WithMetrics(c.metrics),
	)
	c.subs = subscription.NewManager(c.pool, c.store,
		subscription.WithTimeout(cfg.QueryTimeout.Std()),
		subscription.WithLogger(o.log.With("component", "subscription")),
		subscription.WithMetrics(c.metrics),
	)
	c.publisher = publish.New(c.pool, c.store,
		publish.WithTimeout(cfg.PublishTimeout.Std()),
		publish.WithLogger(o.log.With("component", "publish")),
		publish.WithMetrics(c.metrics),
	)
	c.contacts = contacts.New("")
	c.stopContacts = c.contacts.Observe(c.store)

	c.archive = o.archive
	if c.archive == nil {
		backend, err := cache.Open(cfg.Cache.Backend, cfg.Cache.RedisURL, cfg.Cache.Prefix)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		if backend != nil {
			c.backend = backend
			c.archive = cache.NewArchive(backend, cfg.Cache.TTL.Std(), o.log.With("component", "archive"))
		}
	}

	missing, err := lru.New(missingCacheSize)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.missing = missing
	c.profiles = NewBatcher("profiles", c.fetchMetadataBatch, profileBatchWindow, profileBatchMax, c.log)

	return c, nil
}

// Login switches the engine to signer's identity: it starts from an empty
// store, restores archived events, connects to the configured relays
// (falling back to the default relays on first use) and fetches the
// user's contact list and the metadata of everyone followed.
func (c *Client) Login(ctx context.Context, signer nostr.Signer) error {
	if signer == nil {
		return ErrNotLoggedIn
	}
	ctx = logging.WithOp(ctx)
	log := logging.FromContext(ctx, c.log)
	pk := signer.PublicKey()

	c.resetSession()

	c.mu.Lock()
	c.signer = signer
	c.mu.Unlock()
	c.contacts.Reset(pk)

	if c.archive != nil {
		if _, err := c.archive.Restore(ctx, pk, c.store); err != nil {
			log.Warn("archive restore failed", "error", err)
		}
		stop := c.archive.Observe(c.store, pk)
		c.mu.Lock()
		c.stopArchive = stop
		c.mu.Unlock()
	}

	cfgs := c.cfg.RelayConfigs()
	if len(cfgs) == 0 {
		cfgs = config.DefaultRelays()
		c.cfg.SetRelays(cfgs)
		if c.cfg.Path() != "" {
			if err := c.cfg.Save(); err != nil {
				log.Warn("could not save default relays", "error", err)
			}
		}
	}
	if err := c.pool.Configure(cfgs); err != nil {
		return err
	}
	c.waitForRelays(ctx)

	log.Info("logged in", "pubkey", nostr.ShortID(pk), "relays", len(cfgs), "connected", len(c.pool.ReadRelays()))
	return c.RefreshContactProfiles(ctx)
}

// waitForRelays gives the pool up to the connect timeout to bring up a
// first read relay, so the first queries aren't sent to nobody.
func (c *Client) waitForRelays(ctx context.Context) {
	deadline := time.NewTimer(c.cfg.ConnectTimeout.Std())
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for len(c.pool.ReadRelays()) == 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// resetSession stops polling and background work and empties the store
// and everything derived from it.
func (c *Client) resetSession() {
	c.StopPolling()
	c.subs.CloseAll()

	c.mu.Lock()
	stop := c.stopArchive
	c.stopArchive = nil
	c.signer = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}

	c.store.Clear()
	c.contacts.Reset("")
	c.feedsMu.Lock()
	c.feeds = make(map[string]*feedState)
	c.feedsMu.Unlock()
	if c.missing != nil {
		c.missing.Purge()
	}
}

// Logout forgets the identity and clears the store. Relays stay connected.
func (c *Client) Logout() {
	c.resetSession()
	c.log.Info("logged out")
}

// Close logs out and releases the relay pool and cache backend
func (c *Client) Close() {
	c.resetSession()
	if c.stopContacts != nil {
		c.stopContacts()
	}
	if c.ownsPool {
		c.pool.Close()
	}
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			c.log.Warn("cache close failed", "error", err)
		}
	}
}

// Self returns the logged in pubkey, or "" when logged out
func (c *Client) Self() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.signer == nil {
		return ""
	}
	return c.signer.PublicKey()
}

func (c *Client) requireSigner() (nostr.Signer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.signer == nil {
		return nil, ErrNotLoggedIn
	}
	return c.signer, nil
}

func (c *Client) Store() *store.Store       { return c.store }
func (c *Client) Contacts() *contacts.Cache { return c.contacts }
func (c *Client) Pool() *relay.Pool         { return c.pool }
func (c *Client) Metrics() *metrics.Metrics { return c.metrics }
func (c *Client) Config() *config.Config    { return c.cfg }
func (c *Client) Archive() *cache.Archive   { return c.archive }

// DumpEvents returns a snapshot of every stored event, newest first
func (c *Client) DumpEvents() []*types.Event {
	return c.store.Dump()
}

// fetch runs f against the read relays until the page is complete, then
// closes the query. Results land in the store.
func (c *Client) fetch(ctx context.Context, f types.Filter) (subscription.PageStats, error) {
	h, err := c.subs.Query(ctx, f)
	if err != nil {
		return subscription.PageStats{}, err
	}
	defer h.Close()
	return h.Wait(ctx)
}
