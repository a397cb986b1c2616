// Package relay manages one websocket connection per configured relay.
//
// Every relay runs its own connect, read, back off cycle. Calls against a
// relay that is not currently connected fail fast with ErrRelayUnavailable;
// the pool keeps retrying the connection in the background.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v2"

	"nostr-greet/internal/metrics"
	"nostr-greet/internal/nostr"
	"nostr-greet/internal/types"
)

var (
	ErrRelayUnavailable = errors.New("relay unavailable")
	ErrInvalidConfig    = errors.New("invalid relay configuration")
	ErrPoolClosed       = errors.New("relay pool closed")
)

// Status is the connection state of one relay
type Status int

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusConnected
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusUnhealthy:
		return "unhealthy"
	}
	return "closed"
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	shutdownGrace         = 2 * time.Second
	maxMessageSize        = 4 << 20
)

// Pool manages connections to multiple relays
type Pool struct {
	mu      sync.RWMutex
	relays  map[string]*relayConn // normalized url -> connection
	configs []types.RelayConfig
	closed  bool

	dialer         *websocket.Dialer
	connectTimeout time.Duration
	writeTimeout   time.Duration
	backoff        Backoff
	log            *slog.Logger
	metrics        *metrics.Metrics
}

type PoolOption func(*Pool)

func WithDialer(d *websocket.Dialer) PoolOption {
	return func(p *Pool) { p.dialer = d }
}

func WithConnectTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.connectTimeout = d
		}
	}
}

func WithBackoff(b Backoff) PoolOption {
	return func(p *Pool) { p.backoff = b }
}

func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// NewPool creates an empty pool; call Configure to add relays
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		relays:         make(map[string]*relayConn),
		dialer:         websocket.DefaultDialer,
		connectTimeout: defaultConnectTimeout,
		writeTimeout:   defaultWriteTimeout,
		backoff:        DefaultBackoff(),
		log:            slog.Default().With("component", "relay"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NormalizeConfigs validates and canonicalizes relay entries. Duplicate
// URLs are a configuration error.
func NormalizeConfigs(cfgs []types.RelayConfig) ([]types.RelayConfig, error) {
	out := make([]types.RelayConfig, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		u, err := nostr.NormalizeRelayURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if seen[u] {
			return nil, fmt.Errorf("%w: duplicate relay %s", ErrInvalidConfig, u)
		}
		seen[u] = true
		c.URL = u
		out = append(out, c)
	}
	return out, nil
}

func active(c types.RelayConfig) bool {
	return c.Enabled && (c.Read || c.Write)
}

// Configure replaces the relay set. New active relays start connecting,
// relays that were removed or disabled are shut down, kept relays get their
// flags updated in place. On error nothing changes.
func (p *Pool) Configure(cfgs []types.RelayConfig) error {
	normalized, err := NormalizeConfigs(cfgs)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}

	wanted := make(map[string]types.RelayConfig, len(normalized))
	for _, c := range normalized {
		if active(c) {
			wanted[c.URL] = c
		}
	}

	var stopping []*relayConn
	for u, rc := range p.relays {
		if _, ok := wanted[u]; !ok {
			stopping = append(stopping, rc)
			delete(p.relays, u)
		}
	}
	for u, c := range wanted {
		if rc, ok := p.relays[u]; ok {
			rc.setConfig(c)
			continue
		}
		rc := newRelayConn(p, c)
		p.relays[u] = rc
		go rc.run()
	}
	p.configs = normalized
	p.mu.Unlock()

	for _, rc := range stopping {
		p.log.Info("relay removed", "relay", rc.url)
		rc.stop()
		p.metrics.RelayRemoved(rc.url)
	}
	return nil
}

// Relays returns the configured entries, including disabled ones
func (p *Pool) Relays() []types.RelayConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]types.RelayConfig(nil), p.configs...)
}

// Config returns the configured entry for url
func (p *Pool) Config(url string) (types.RelayConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.configs {
		if c.URL == url {
			return c, true
		}
	}
	return types.RelayConfig{}, false
}

// Status reports the connection state of url
func (p *Pool) Status(url string) Status {
	rc := p.get(url)
	if rc == nil {
		return StatusClosed
	}
	return rc.getStatus()
}

// StatusAll reports every active relay's state
func (p *Pool) StatusAll() map[string]Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Status, len(p.relays))
	for u, rc := range p.relays {
		out[u] = rc.getStatus()
	}
	return out
}

// ReadRelays returns connected relays enabled for reading, sorted
func (p *Pool) ReadRelays() []string {
	return p.connected(types.RelayConfig.Readable)
}

// WriteRelays returns connected relays enabled for writing, sorted
func (p *Pool) WriteRelays() []string {
	return p.connected(types.RelayConfig.Writable)
}

func (p *Pool) connected(pred func(types.RelayConfig) bool) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for u, rc := range p.relays {
		if pred(rc.getConfig()) && rc.getStatus() == StatusConnected {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

func (p *Pool) get(url string) *relayConn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.relays[url]
}

// Send writes one protocol message to url
func (p *Pool) Send(url string, msg []interface{}) error {
	rc := p.get(url)
	if rc == nil {
		return fmt.Errorf("%w: %s not configured", ErrRelayUnavailable, url)
	}
	return rc.send(msg)
}

// Subscribe sends REQ with the given protocol filters
func (p *Pool) Subscribe(url, subID string, filters []map[string]interface{}) (*Subscription, error) {
	rc := p.get(url)
	if rc == nil {
		return nil, fmt.Errorf("%w: %s not configured", ErrRelayUnavailable, url)
	}
	if !rc.getConfig().Readable() {
		return nil, fmt.Errorf("%w: %s is not a read relay", ErrRelayUnavailable, url)
	}

	sub, err := rc.register(subID)
	if err != nil {
		return nil, err
	}

	req := make([]interface{}, 0, len(filters)+2)
	req = append(req, "REQ", subID)
	for _, f := range filters {
		req = append(req, f)
	}
	if err := rc.send(req); err != nil {
		rc.subs.Delete(subID)
		sub.closeWithReason(err.Error())
		return nil, err
	}
	return sub, nil
}

// Unsubscribe sends CLOSE (best effort) and closes sub. Safe to call twice.
func (p *Pool) Unsubscribe(url string, sub *Subscription) {
	if sub == nil {
		return
	}
	if rc := p.get(url); rc != nil {
		if _, ok := rc.subs.LoadAndDelete(sub.ID); ok && rc.getStatus() == StatusConnected {
			_ = rc.send([]interface{}{"CLOSE", sub.ID})
		}
	}
	sub.Close()
}

// Publish sends EVENT to url and waits for the relay's OK. A false accepted
// with a nil error is a rejection carrying the relay's reason.
func (p *Pool) Publish(ctx context.Context, url string, evt *types.Event) (accepted bool, reason string, err error) {
	rc := p.get(url)
	if rc == nil {
		return false, "", fmt.Errorf("%w: %s not configured", ErrRelayUnavailable, url)
	}

	ch, err := rc.expectOK(evt.ID)
	if err != nil {
		return false, "", err
	}
	defer rc.okCallbacks.Delete(evt.ID)

	if err := rc.send([]interface{}{"EVENT", evt}); err != nil {
		return false, "", err
	}

	select {
	case res := <-ch:
		return res.accepted, res.reason, res.err
	case <-ctx.Done():
		return false, "", ctx.Err()
	}
}

// Close shuts every relay down. It waits a bounded time for read loops.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	relays := make([]*relayConn, 0, len(p.relays))
	for _, rc := range p.relays {
		relays = append(relays, rc)
	}
	p.relays = make(map[string]*relayConn)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, rc := range relays {
		wg.Add(1)
		go func(rc *relayConn) {
			defer wg.Done()
			rc.stop()
		}(rc)
	}
	wg.Wait()
}

type okResult struct {
	accepted bool
	reason   string
	err      error
}

// relayConn is one relay's connection and its run loop
type relayConn struct {
	url  string
	pool *Pool

	mu     sync.Mutex
	cfg    types.RelayConfig
	conn   *websocket.Conn
	status Status

	writeMu     sync.Mutex
	subs        *xsync.MapOf[string, *Subscription]
	okCallbacks *xsync.MapOf[string, chan okResult]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	log    *slog.Logger
}

func newRelayConn(p *Pool, cfg types.RelayConfig) *relayConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &relayConn{
		url:         cfg.URL,
		pool:        p,
		cfg:         cfg,
		status:      StatusConnecting,
		subs:        xsync.NewMapOf[*Subscription](),
		okCallbacks: xsync.NewMapOf[chan okResult](),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		log:         p.log.With("relay", cfg.URL),
	}
}

func (rc *relayConn) getConfig() types.RelayConfig {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.cfg
}

func (rc *relayConn) setConfig(cfg types.RelayConfig) {
	rc.mu.Lock()
	wasReadable := rc.cfg.Readable()
	rc.cfg = cfg
	rc.mu.Unlock()

	if wasReadable && !cfg.Readable() {
		rc.closeSubscriptions("relay no longer used for reading", true)
	}
}

func (rc *relayConn) getStatus() Status {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.status
}

func (rc *relayConn) setStatus(s Status) {
	rc.mu.Lock()
	rc.status = s
	rc.mu.Unlock()
}

// register adds a subscription while connected. Holding mu orders it
// against disconnect, which closes everything registered before it.
func (rc *relayConn) register(subID string) (*Subscription, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.status != StatusConnected {
		return nil, fmt.Errorf("%w: %s is %s", ErrRelayUnavailable, rc.url, rc.status)
	}
	sub := newSubscription(rc.url, subID)
	rc.subs.Store(subID, sub)
	return sub, nil
}

func (rc *relayConn) expectOK(eventID string) (chan okResult, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.status != StatusConnected {
		return nil, fmt.Errorf("%w: %s is %s", ErrRelayUnavailable, rc.url, rc.status)
	}
	if !rc.cfg.Writable() {
		return nil, fmt.Errorf("%w: %s is not a write relay", ErrRelayUnavailable, rc.url)
	}
	ch := make(chan okResult, 1)
	rc.okCallbacks.Store(eventID, ch)
	return ch, nil
}

func (rc *relayConn) send(msg []interface{}) error {
	rc.mu.Lock()
	conn, status := rc.conn, rc.status
	rc.mu.Unlock()
	if conn == nil || status != StatusConnected {
		return fmt.Errorf("%w: %s is %s", ErrRelayUnavailable, rc.url, status)
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(rc.pool.writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		// the read loop notices the broken socket and reconnects
		_ = conn.Close()
		return fmt.Errorf("%w: write to %s: %v", ErrRelayUnavailable, rc.url, err)
	}
	return nil
}

func (rc *relayConn) run() {
	defer close(rc.done)

	attempt := 0
	for {
		rc.setStatus(StatusConnecting)
		err := rc.connect()
		rc.pool.metrics.RelayConnect(rc.url, err)
		if err == nil {
			attempt = 0
			rc.log.Info("relay connected")
			rc.pool.metrics.RelayUp(rc.url, true)
			rc.readLoop()
			rc.disconnect("disconnected")
			rc.pool.metrics.RelayUp(rc.url, false)
		} else if rc.ctx.Err() == nil {
			rc.log.Warn("relay connect failed", "error", err)
		}

		if rc.ctx.Err() != nil {
			rc.setStatus(StatusClosed)
			return
		}

		attempt++
		delay := rc.pool.backoff.NextDelay(attempt)
		rc.setStatus(StatusUnhealthy)
		rc.log.Debug("relay reconnect scheduled", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-rc.ctx.Done():
			timer.Stop()
			rc.setStatus(StatusClosed)
			return
		case <-timer.C:
		}
	}
}

func (rc *relayConn) connect() error {
	ctx, cancel := context.WithTimeout(rc.ctx, rc.pool.connectTimeout)
	defer cancel()

	conn, _, err := rc.pool.dialer.DialContext(ctx, rc.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(maxMessageSize)

	rc.mu.Lock()
	if rc.ctx.Err() != nil {
		rc.mu.Unlock()
		_ = conn.Close()
		return rc.ctx.Err()
	}
	rc.conn = conn
	rc.status = StatusConnected
	rc.mu.Unlock()
	return nil
}

// disconnect drops the socket and ends everything that depended on it
func (rc *relayConn) disconnect(reason string) {
	rc.mu.Lock()
	conn := rc.conn
	rc.conn = nil
	if rc.status == StatusConnected {
		rc.status = StatusUnhealthy
	}
	rc.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	rc.closeSubscriptions(reason, false)
	rc.okCallbacks.Range(func(id string, ch chan okResult) bool {
		select {
		case ch <- okResult{err: fmt.Errorf("%w: %s %s", ErrRelayUnavailable, rc.url, reason)}:
		default:
		}
		return true
	})
}

func (rc *relayConn) closeSubscriptions(reason string, sendClose bool) {
	rc.subs.Range(func(id string, sub *Subscription) bool {
		rc.subs.Delete(id)
		if sendClose {
			_ = rc.send([]interface{}{"CLOSE", id})
		}
		sub.closeWithReason(reason)
		return true
	})
}

// stop cancels the run loop and waits for it, at most shutdownGrace
func (rc *relayConn) stop() {
	rc.cancel()
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	select {
	case <-rc.done:
	case <-time.After(shutdownGrace):
		rc.log.Warn("relay shutdown timed out")
	}
	rc.closeSubscriptions("relay removed", false)
	rc.setStatus(StatusClosed)
}

// readLoop continuously reads from the connection and routes messages
func (rc *relayConn) readLoop() {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			if rc.ctx.Err() == nil {
				rc.log.Warn("relay read error", "error", err)
			}
			return
		}
		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			rc.handleEvent(msg)

		case "EOSE":
			subID, _ := msg[1].(string)
			if sub, ok := rc.subs.Load(subID); ok {
				sub.markEOSE()
			}

		case "OK":
			if len(msg) < 3 {
				continue
			}
			eventID, _ := msg[1].(string)
			accepted, _ := msg[2].(bool)
			reason := ""
			if len(msg) >= 4 {
				reason, _ = msg[3].(string)
			}
			if ch, ok := rc.okCallbacks.Load(eventID); ok {
				select {
				case ch <- okResult{accepted: accepted, reason: reason}:
				default:
				}
			}

		case "CLOSED":
			subID, _ := msg[1].(string)
			reason := ""
			if len(msg) >= 3 {
				reason, _ = msg[2].(string)
			}
			if sub, ok := rc.subs.LoadAndDelete(subID); ok {
				rc.log.Debug("subscription closed by relay", "sub", subID, "reason", reason)
				sub.closeWithReason("closed by relay: " + reason)
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			rc.log.Info("relay notice", "notice", notice)
		}
	}
}

func (rc *relayConn) handleEvent(msg []interface{}) {
	if len(msg) < 3 {
		return
	}
	subID, _ := msg[1].(string)
	sub, ok := rc.subs.Load(subID)
	if !ok {
		rc.pool.metrics.DroppedEvent(rc.url)
		return
	}
	evt, ok := nostr.ParseEventFromInterface(msg[2])
	if !ok {
		rc.pool.metrics.DroppedEvent(rc.url)
		return
	}

	select {
	case sub.Events <- evt:
	case <-sub.Done:
	case <-rc.ctx.Done():
	}
}
