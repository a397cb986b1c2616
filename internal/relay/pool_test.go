package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/relaytest"
	"nostr-greet/internal/types"
)

func fastBackoff() Backoff {
	return Backoff{InitialDelay: 20 * time.Millisecond, Multiplier: 2, MaxDelay: 100 * time.Millisecond}
}

func newTestPool(t *testing.T, urls ...string) *Pool {
	t.Helper()
	p := NewPool(WithBackoff(fastBackoff()), WithConnectTimeout(2*time.Second))
	t.Cleanup(p.Close)

	cfgs := make([]types.RelayConfig, len(urls))
	for i, u := range urls {
		cfgs[i] = types.RelayConfig{URL: u, Read: true, Write: true, Enabled: true}
	}
	require.NoError(t, p.Configure(cfgs))
	return p
}

func waitConnected(t *testing.T, p *Pool, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Status(url) == StatusConnected
	}, 3*time.Second, 10*time.Millisecond, "relay %s never connected", url)
}

func TestSubscribeReceivesStoredEventsAndEOSE(t *testing.T) {
	r := relaytest.New(t)
	alice := relaytest.NewSigner(t)
	note := relaytest.Note(t, alice, 100, "hello")
	r.Add(note)

	p := newTestPool(t, r.URL)
	waitConnected(t, p, r.URL)
	assert.Equal(t, []string{r.URL}, p.ReadRelays())

	sub, err := p.Subscribe(r.URL, "s1", nostr.WireFilters(types.Filter{Authors: []string{alice.PublicKey()}}))
	require.NoError(t, err)
	defer p.Unsubscribe(r.URL, sub)

	select {
	case evt := <-sub.Events:
		assert.Equal(t, note.ID, evt.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	select {
	case <-sub.EOSE:
	case <-time.After(2 * time.Second):
		t.Fatal("no EOSE")
	}
}

func TestPublishOutcomes(t *testing.T) {
	r := relaytest.New(t)
	p := newTestPool(t, r.URL)
	waitConnected(t, p, r.URL)

	alice := relaytest.NewSigner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, reason, err := p.Publish(ctx, r.URL, relaytest.Note(t, alice, 1, "first"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	r.RejectWith("blocked: spam")
	ok, reason, err = p.Publish(ctx, r.URL, relaytest.Note(t, alice, 2, "second"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "blocked: spam", reason)

	_, _, err = p.Publish(ctx, "wss://not.configured.example", relaytest.Note(t, alice, 3, "third"))
	assert.ErrorIs(t, err, ErrRelayUnavailable)
}

func TestPublishWithoutOKHonorsContext(t *testing.T) {
	r := relaytest.New(t)
	r.WithholdOK(true)
	p := newTestPool(t, r.URL)
	waitConnected(t, p, r.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := p.Publish(ctx, r.URL, relaytest.Note(t, relaytest.NewSigner(t), 1, "x"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestUnreachableRelayFailsFast(t *testing.T) {
	r := relaytest.New(t)
	url := r.URL
	r.Close()

	p := newTestPool(t, url)
	require.Eventually(t, func() bool {
		return p.Status(url) == StatusUnhealthy
	}, 3*time.Second, 10*time.Millisecond)

	start := time.Now()
	err := p.Send(url, []interface{}{"REQ", "x", map[string]interface{}{}})
	assert.ErrorIs(t, err, ErrRelayUnavailable)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	_, err = p.Subscribe(url, "x", nil)
	assert.ErrorIs(t, err, ErrRelayUnavailable)
	assert.Empty(t, p.ReadRelays())
}

func TestDisconnectClosesSubscriptionsAndReconnects(t *testing.T) {
	r := relaytest.New(t)
	r.WithholdEOSE(true)
	p := newTestPool(t, r.URL)
	waitConnected(t, p, r.URL)

	sub, err := p.Subscribe(r.URL, "s1", nostr.WireFilters(types.Filter{Kinds: []int{1}}))
	require.NoError(t, err)

	r.DropConnections()

	select {
	case <-sub.Done:
		assert.NotEmpty(t, sub.Reason())
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed on disconnect")
	}

	waitConnected(t, p, r.URL)
}

func TestRelayClosedMessageEndsSubscription(t *testing.T) {
	r := relaytest.New(t)
	r.CloseSubscriptionsWith("auth-required: log in first")
	p := newTestPool(t, r.URL)
	waitConnected(t, p, r.URL)

	sub, err := p.Subscribe(r.URL, "s1", nostr.WireFilters(types.Filter{}))
	require.NoError(t, err)

	select {
	case <-sub.Done:
		assert.Contains(t, sub.Reason(), "auth-required")
	case <-time.After(2 * time.Second):
		t.Fatal("CLOSED not handled")
	}
}

func TestConfigureRemovesAndUpdates(t *testing.T) {
	r1 := relaytest.New(t)
	r2 := relaytest.New(t)
	r1.WithholdEOSE(true)
	p := newTestPool(t, r1.URL, r2.URL)
	waitConnected(t, p, r1.URL)
	waitConnected(t, p, r2.URL)

	sub, err := p.Subscribe(r1.URL, "s1", nostr.WireFilters(types.Filter{}))
	require.NoError(t, err)

	// malformed entries leave everything as it was
	err = p.Configure([]types.RelayConfig{{URL: "http://nope", Enabled: true, Read: true}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, StatusConnected, p.Status(r1.URL))

	require.NoError(t, p.Configure([]types.RelayConfig{
		{URL: r1.URL, Read: true, Write: true, Enabled: false},
		{URL: r2.URL, Read: false, Write: true, Enabled: true},
	}))

	select {
	case <-sub.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription on disabled relay still open")
	}
	assert.Equal(t, StatusClosed, p.Status(r1.URL))
	assert.Empty(t, p.ReadRelays())
	assert.Equal(t, []string{r2.URL}, p.WriteRelays())
	assert.Len(t, p.Relays(), 2)
}

func TestCloseIsBounded(t *testing.T) {
	r := relaytest.New(t)
	p := NewPool(WithBackoff(fastBackoff()))
	require.NoError(t, p.Configure([]types.RelayConfig{{URL: r.URL, Read: true, Enabled: true}}))
	waitConnected(t, p, r.URL)

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked")
	}
	assert.ErrorIs(t, p.Configure(nil), ErrPoolClosed)
}

func TestBackoffNextDelay(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, time.Second, b.NextDelay(1))
	assert.Equal(t, 2*time.Second, b.NextDelay(2))
	assert.Equal(t, 8*time.Second, b.NextDelay(4))
	assert.Equal(t, 60*time.Second, b.NextDelay(10))
}

func TestFetchInfo(t *testing.T) {
	r := relaytest.New(t)
	info, err := FetchInfo(context.Background(), r.URL)
	require.NoError(t, err)
	assert.Equal(t, "relaytest", info.Name)
	assert.Equal(t, 20, info.Limitation.MaxSubscriptions)
}
