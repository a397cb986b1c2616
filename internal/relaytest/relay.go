// Package relaytest runs an in-process Nostr relay over httptest for tests.
package relaytest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/types"
)

type liveSub struct {
	conn    *peer
	id      string
	filters []types.Filter
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) send(msg ...interface{}) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.WriteJSON(msg)
}

// Relay answers REQ from its event list, acknowledges EVENT with OK and
// streams accepted events to matching open subscriptions.
type Relay struct {
	Server *httptest.Server
	URL    string

	mu       sync.Mutex
	events   []*types.Event
	received []*types.Event
	subs     map[string]*liveSub
	peers    map[*peer]struct{}
	reject   string
	noEOSE   bool
	noOK     bool
	closedBy string

	reqs     atomic.Int64
	upgrader websocket.Upgrader
}

// New starts a relay that shuts down with the test
func New(t testing.TB) *Relay {
	r := &Relay{
		subs:  make(map[string]*liveSub),
		peers: make(map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.handle))
	r.URL = "ws" + strings.TrimPrefix(r.Server.URL, "http")
	t.Cleanup(r.Close)
	return r
}

// Add makes events available to REQ and pushes them to live subscriptions
func (r *Relay) Add(evs ...*types.Event) {
	for _, e := range evs {
		r.accept(e)
	}
}

// Received returns the events clients published to this relay
func (r *Relay) Received() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Event(nil), r.received...)
}

// Requests counts REQ messages seen
func (r *Relay) Requests() int {
	return int(r.reqs.Load())
}

// RejectWith makes every published event fail with reason ("" to accept again)
func (r *Relay) RejectWith(reason string) {
	r.mu.Lock()
	r.reject = reason
	r.mu.Unlock()
}

// WithholdEOSE stops the relay from ever sending EOSE
func (r *Relay) WithholdEOSE(v bool) {
	r.mu.Lock()
	r.noEOSE = v
	r.mu.Unlock()
}

// WithholdOK stops the relay from answering EVENT
func (r *Relay) WithholdOK(v bool) {
	r.mu.Lock()
	r.noOK = v
	r.mu.Unlock()
}

// CloseSubscriptionsWith answers every REQ with CLOSED(reason) instead of events
func (r *Relay) CloseSubscriptionsWith(reason string) {
	r.mu.Lock()
	r.closedBy = reason
	r.mu.Unlock()
}

// DropConnections closes every client socket without a close frame
func (r *Relay) DropConnections() {
	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}

func (r *Relay) Close() {
	r.DropConnections()
	r.Server.Close()
}

func (r *Relay) handle(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Accept") == "application/nostr+json" {
		w.Header().Set("Content-Type", "application/nostr+json")
		_, _ = w.Write([]byte(`{"name":"relaytest","supported_nips":[1,11],"software":"relaytest","limitation":{"max_subscriptions":20}}`))
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.peers, p)
		for key, s := range r.subs {
			if s.conn == p {
				delete(r.subs, key)
			}
		}
		r.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if len(msg) < 2 {
			continue
		}
		typ, _ := msg[0].(string)
		switch typ {
		case "REQ":
			r.handleREQ(p, msg)
		case "CLOSE":
			id, _ := msg[1].(string)
			r.mu.Lock()
			delete(r.subs, subKey(p, id))
			r.mu.Unlock()
		case "EVENT":
			r.handleEVENT(p, msg[1])
		}
	}
}

func (r *Relay) handleREQ(p *peer, msg []interface{}) {
	r.reqs.Add(1)
	id, _ := msg[1].(string)

	var filters []types.Filter
	for _, raw := range msg[2:] {
		if m, ok := raw.(map[string]interface{}); ok {
			filters = append(filters, nostr.ParseWireFilter(m))
		}
	}

	r.mu.Lock()
	if r.closedBy != "" {
		reason := r.closedBy
		r.mu.Unlock()
		p.send("CLOSED", id, reason)
		return
	}
	var matched []*types.Event
	seen := make(map[string]bool)
	for _, f := range filters {
		var hits []*types.Event
		for _, e := range r.events {
			if f.Matches(e) {
				hits = append(hits, e)
			}
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Newer(hits[j]) })
		if f.Limit > 0 && len(hits) > f.Limit {
			hits = hits[:f.Limit]
		}
		for _, e := range hits {
			if !seen[e.ID] {
				seen[e.ID] = true
				matched = append(matched, e)
			}
		}
	}
	r.subs[subKey(p, id)] = &liveSub{conn: p, id: id, filters: filters}
	noEOSE := r.noEOSE
	r.mu.Unlock()

	for _, e := range matched {
		p.send("EVENT", id, e)
	}
	if !noEOSE {
		p.send("EOSE", id)
	}
}

func (r *Relay) handleEVENT(p *peer, raw interface{}) {
	evt, ok := nostr.ParseEventFromInterface(raw)
	if !ok {
		return
	}
	r.mu.Lock()
	r.received = append(r.received, evt)
	reject, noOK := r.reject, r.noOK
	r.mu.Unlock()

	if noOK {
		return
	}
	if reject != "" {
		p.send("OK", evt.ID, false, reject)
		return
	}
	if err := nostr.ValidateEvent(evt); err != nil {
		p.send("OK", evt.ID, false, "invalid: "+err.Error())
		return
	}
	r.accept(evt)
	p.send("OK", evt.ID, true, "")
}

func (r *Relay) accept(e *types.Event) {
	r.mu.Lock()
	for _, existing := range r.events {
		if existing.ID == e.ID {
			r.mu.Unlock()
			return
		}
	}
	r.events = append(r.events, e)
	var targets []*liveSub
	for _, s := range r.subs {
		for _, f := range s.filters {
			if f.Matches(e) {
				targets = append(targets, s)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.conn.send("EVENT", s.id, e)
	}
}

func subKey(p *peer, id string) string {
	return fmt.Sprintf("%p/%s", p, id)
}
