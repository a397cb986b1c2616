// Package publish fans a signed event out to write relays and collects a
// verdict per relay.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"nostr-greet/internal/metrics"
	"nostr-greet/internal/nostr"
	"nostr-greet/internal/relay"
	"nostr-greet/internal/store"
	"nostr-greet/internal/types"
)

const DefaultTimeout = 7 * time.Second

// ErrRelayRejected is what RelayResult.Err wraps for a Rejected outcome
var ErrRelayRejected = errors.New("relay rejected event")

type Outcome int

const (
	OK Outcome = iota
	Rejected
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Rejected:
		return "rejected"
	default:
		return "unavailable"
	}
}

type RelayResult struct {
	Outcome Outcome
	Reason  string
}

// Err returns nil for OK, otherwise an error wrapping ErrRelayRejected or
// relay.ErrRelayUnavailable.
func (r RelayResult) Err() error {
	switch r.Outcome {
	case OK:
		return nil
	case Rejected:
		return fmt.Errorf("%w: %s", ErrRelayRejected, r.Reason)
	default:
		return fmt.Errorf("%w: %s", relay.ErrRelayUnavailable, r.Reason)
	}
}

// Result maps relay URL to that relay's verdict
type Result map[string]RelayResult

// AnyOK reports whether at least one relay accepted the event
func (r Result) AnyOK() bool {
	for _, rr := range r {
		if rr.Outcome == OK {
			return true
		}
	}
	return false
}

// Count returns how many relays ended with outcome o
func (r Result) Count(o Outcome) int {
	n := 0
	for _, rr := range r {
		if rr.Outcome == o {
			n++
		}
	}
	return n
}

func (r Result) String() string {
	urls := make([]string, 0, len(r))
	for u := range r {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var b strings.Builder
	for i, u := range urls {
		if i > 0 {
			b.WriteString(", ")
		}
		rr := r[u]
		b.WriteString(u)
		b.WriteString("=")
		b.WriteString(rr.Outcome.String())
		if rr.Reason != "" {
			b.WriteString("(" + rr.Reason + ")")
		}
	}
	return b.String()
}

// Pool is the part of *relay.Pool the pipeline needs
type Pool interface {
	Config(url string) (types.RelayConfig, bool)
	Status(url string) relay.Status
	Publish(ctx context.Context, url string, evt *types.Event) (bool, string, error)
}

type Pipeline struct {
	pool    Pool
	store   *store.Store
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Pipeline)

// WithTimeout sets how long each relay gets to answer with OK
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func New(pool Pool, st *store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		pool:    pool,
		store:   st,
		timeout: DefaultTimeout,
		log:     slog.Default().With("component", "publish"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish sends evt to every target concurrently and returns once each one
// settled. Nothing is retried. The event enters the local store only when
// at least one relay accepted it. Results are keyed by normalized URL, so
// spellings of one relay share a single send.
func (p *Pipeline) Publish(ctx context.Context, evt *types.Event, targets []string) (Result, error) {
	if err := nostr.ValidateEvent(evt); err != nil {
		return nil, err
	}

	res := make(Result, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, url := range targets {
		if u, err := nostr.NormalizeRelayURL(url); err == nil {
			url = u
		}
		if _, dup := res[url]; dup {
			continue
		}
		res[url] = RelayResult{Outcome: Unavailable, Reason: "pending"}

		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			rr := p.publishOne(ctx, url, evt)
			p.metrics.PublishOutcome(url, rr.Outcome.String())

			mu.Lock()
			res[url] = rr
			mu.Unlock()
		}(url)
	}
	wg.Wait()

	if res.AnyOK() {
		if r := p.store.Put(evt); r == store.RejectedInvalid {
			p.log.Warn("accepted event rejected by store", "event_id", nostr.ShortID(evt.ID))
		}
	}
	p.log.Info("published", "event_id", nostr.ShortID(evt.ID), "kind", evt.Kind,
		"ok", res.Count(OK), "rejected", res.Count(Rejected), "unavailable", res.Count(Unavailable))
	return res, nil
}

func (p *Pipeline) publishOne(ctx context.Context, url string, evt *types.Event) RelayResult {
	cfg, ok := p.pool.Config(url)
	switch {
	case !ok:
		return RelayResult{Outcome: Unavailable, Reason: "not configured"}
	case !cfg.Writable():
		return RelayResult{Outcome: Unavailable, Reason: "not a write relay"}
	case p.pool.Status(url) != relay.StatusConnected:
		return RelayResult{Outcome: Unavailable, Reason: "not connected"}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	accepted, reason, err := p.pool.Publish(ctx, url, evt)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return RelayResult{Outcome: Unavailable, Reason: "timeout"}
	case err != nil:
		p.log.Debug("publish failed", "relay", url, "error", err)
		return RelayResult{Outcome: Unavailable, Reason: err.Error()}
	case !accepted:
		return RelayResult{Outcome: Rejected, Reason: reason}
	}
	return RelayResult{Outcome: OK, Reason: reason}
}
