package cache

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-greet/internal/relaytest"
	"nostr-greet/internal/store"
	"nostr-greet/internal/types"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	out := map[string]Backend{"memory": NewMemoryCache(100, 0)}
	if url := os.Getenv("REDIS_URL"); url != "" {
		rc, err := NewRedisCache(url, "greet-test:"+t.Name()+":")
		require.NoError(t, err)
		out["redis"] = rc
	}
	for _, b := range out {
		t.Cleanup(func() { _ = b.Close() })
	}
	return out
}

func TestBackendBasics(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := b.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Set(ctx, "a", []byte("1"), 0))
			require.NoError(t, b.SetMultiple(ctx, map[string][]byte{"b": []byte("2"), "c": []byte("3")}, time.Minute))

			v, ok, err := b.Get(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("1"), v)

			got, err := b.GetMultiple(ctx, []string{"a", "b", "nope"})
			require.NoError(t, err)
			assert.Len(t, got, 2)

			require.NoError(t, b.Delete(ctx, "a", "b", "c"))
			got, err = b.GetMultiple(ctx, []string{"a", "b", "c"})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestMemoryCacheExpiryAndCapacity(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCache(2, 0)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "short", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, _ := m.Get(ctx, "short")
	assert.False(t, ok)

	for _, k := range []string{"k1", "k2", "k3"} {
		require.NoError(t, m.Set(ctx, k, []byte(k), 0))
		time.Sleep(time.Millisecond)
	}
	m.cleanup()
	_, ok, _ = m.Get(ctx, "k1")
	assert.False(t, ok, "oldest write evicted over capacity")
	_, ok, _ = m.Get(ctx, "k3")
	assert.True(t, ok)

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestOpen(t *testing.T) {
	b, err := Open("none", "", "")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = Open("memory", "", "")
	require.NoError(t, err)
	assert.NotNil(t, b)
	b.Close()

	_, err = Open("etcd", "", "")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestArchiveSaveLoadRemove(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := NewArchive(b, 0, nil)
			alice := relaytest.NewSigner(t)
			e1 := relaytest.Note(t, alice, 1, "one")
			e2 := relaytest.Note(t, alice, 2, "two")

			require.NoError(t, a.Save(ctx, alice.PublicKey(), e1, e2))
			require.NoError(t, a.Save(ctx, alice.PublicKey(), e1))

			got, err := a.Load(ctx, alice.PublicKey())
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, e1.ID, got[0].ID)
			assert.Equal(t, e2.Sig, got[1].Sig)

			other, err := a.Load(ctx, "someone-else")
			require.NoError(t, err)
			assert.Empty(t, other)

			require.NoError(t, a.Remove(ctx, alice.PublicKey(), e1.ID))
			got, err = a.Load(ctx, alice.PublicKey())
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, e2.ID, got[0].ID)

			require.NoError(t, a.Purge(ctx, alice.PublicKey()))
			got, err = a.Load(ctx, alice.PublicKey())
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestRestoreRevalidatesEntries(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryCache(100, 0)
	a := NewArchive(b, 0, nil)
	alice := relaytest.NewSigner(t)
	good := relaytest.Note(t, alice, 1, "good")
	bad := relaytest.Note(t, alice, 2, "bad")
	require.NoError(t, a.Save(ctx, alice.PublicKey(), good, bad))

	// tamper with the stored copy
	tampered := *bad
	tampered.Content = "evil"
	raw, err := json.Marshal(&tampered)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, eventKey(alice.PublicKey(), bad.ID), raw, 0))
	require.NoError(t, b.Set(ctx, eventKey(alice.PublicKey(), "junk"), []byte("{"), 0))

	st := store.New()
	n, err := a.Restore(ctx, alice.PublicKey(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, st.Has(good.ID))
	assert.False(t, st.Has(bad.ID))
}

func TestArchiveObservesStore(t *testing.T) {
	ctx := context.Background()
	a := NewArchive(NewMemoryCache(100, 0), 0, nil)
	st := store.New()
	alice := relaytest.NewSigner(t)
	stop := a.Observe(st, alice.PublicKey())

	keep := relaytest.Note(t, alice, 1, "keep")
	drop := relaytest.Note(t, alice, 2, "drop")
	st.Put(keep)
	st.Put(drop)
	st.Delete(drop.ID)
	st.Clear()
	stop()
	stop()

	got, err := a.Load(ctx, alice.PublicKey())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, keep.ID, got[0].ID)

	st.Put(relaytest.Note(t, alice, 3, "after stop"))
	got, err = a.Load(ctx, alice.PublicKey())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.IsType(t, &types.Event{}, got[0])
}
