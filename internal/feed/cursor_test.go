package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-greet/internal/relay"
	"nostr-greet/internal/relaytest"
	"nostr-greet/internal/store"
	"nostr-greet/internal/subscription"
	"nostr-greet/internal/types"
)

func TestCursorPagesThroughMergedHistory(t *testing.T) {
	relays := []*relaytest.Relay{relaytest.New(t), relaytest.New(t), relaytest.New(t)}
	alice := relaytest.NewSigner(t)

	// 45 events spread over three relays with overlap
	for i := 1; i <= 45; i++ {
		evt := relaytest.Note(t, alice, int64(1000+i), "note")
		relays[i%3].Add(evt)
		if i%5 == 0 {
			relays[(i+1)%3].Add(evt)
		}
	}

	pool := relay.NewPool()
	t.Cleanup(pool.Close)
	var cfgs []types.RelayConfig
	for _, r := range relays {
		cfgs = append(cfgs, types.RelayConfig{URL: r.URL, Read: true, Enabled: true})
	}
	require.NoError(t, pool.Configure(cfgs))
	require.Eventually(t, func() bool { return len(pool.ReadRelays()) == 3 }, 3*time.Second, 10*time.Millisecond)

	st := store.New()
	mgr := subscription.NewManager(pool, st)
	cur := NewCursor(mgr, st, types.Filter{Authors: []string{alice.PublicKey()}, Kinds: []int{types.KindTextNote}})

	ctx := context.Background()
	seen := make(map[string]bool)
	var sizes []int
	var prevOldest int64 = 1 << 62
	for i := 0; i < 4; i++ {
		page, err := cur.NextPage(ctx, 20)
		require.NoError(t, err)
		sizes = append(sizes, len(page))
		for j, e := range page {
			assert.False(t, seen[e.ID], "event repeated across pages")
			seen[e.ID] = true
			assert.Less(t, e.CreatedAt, prevOldest)
			if j > 0 {
				assert.True(t, page[j-1].Newer(e), "page not ordered")
			}
		}
		if len(page) > 0 {
			prevOldest = page[len(page)-1].CreatedAt
		}
	}

	assert.Equal(t, []int{20, 20, 5, 0}, sizes)
	assert.Len(t, seen, 45)
	assert.Equal(t, 0, mgr.Open(), "pages must close their subscriptions")
}

func TestCursorReset(t *testing.T) {
	r := relaytest.New(t)
	alice := relaytest.NewSigner(t)
	for i := 1; i <= 3; i++ {
		r.Add(relaytest.Note(t, alice, int64(i), "n"))
	}

	pool := relay.NewPool()
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Configure([]types.RelayConfig{{URL: r.URL, Read: true, Enabled: true}}))
	require.Eventually(t, func() bool { return len(pool.ReadRelays()) == 1 }, 3*time.Second, 10*time.Millisecond)

	st := store.New()
	cur := NewCursor(subscription.NewManager(pool, st), st, types.Filter{Authors: []string{alice.PublicKey()}})

	page, err := cur.NextPage(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), *cur.Until())

	cur.Reset()
	assert.Nil(t, cur.Until())
	page, err = cur.NextPage(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func TestCursorWithoutRelaysReadsStore(t *testing.T) {
	pool := relay.NewPool()
	t.Cleanup(pool.Close)
	st := store.New()
	alice := relaytest.NewSigner(t)
	for i := 1; i <= 3; i++ {
		st.Put(relaytest.Note(t, alice, int64(i), "cached"))
	}

	cur := NewCursor(subscription.NewManager(pool, st), st, types.Filter{Kinds: []int{1}})
	page, err := cur.NextPage(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	page, err = cur.NextPage(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	page, err = cur.NextPage(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}
