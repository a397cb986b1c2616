package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-greet/internal/relaytest"
	"nostr-greet/internal/types"
)

func ids(evs []*types.Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.ID
	}
	return out
}

func TestPutResults(t *testing.T) {
	s := New()
	alice := relaytest.NewSigner(t)
	note := relaytest.Note(t, alice, 100, "hi")

	assert.Equal(t, Accepted, s.Put(note))
	assert.Equal(t, DuplicateIgnored, s.Put(note))

	bad := note.Clone()
	flip := "0"
	if bad.ID[0] == '0' {
		flip = "1"
	}
	bad.ID = flip + bad.ID[1:]
	assert.Equal(t, RejectedInvalid, s.Put(bad))
	assert.Equal(t, RejectedInvalid, s.Put(nil))
	assert.Equal(t, 1, s.Len())
}

func TestPutIsolatesCallerCopy(t *testing.T) {
	s := New()
	note := relaytest.Note(t, relaytest.NewSigner(t), 100, "hi", []string{"t", "x"})
	require.Equal(t, Accepted, s.Put(note))

	note.Tags[0][1] = "mutated"
	got, ok := s.Get(note.ID)
	require.True(t, ok)
	assert.Equal(t, "x", got.Tags[0][1])
}

func TestConcurrentDuplicatePutsAcceptOnce(t *testing.T) {
	s := New()
	note := relaytest.Note(t, relaytest.NewSigner(t), 100, "race")

	var added int
	var mu sync.Mutex
	s.Observe(func(c Change) {
		mu.Lock()
		added++
		mu.Unlock()
	})

	results := make(chan PutResult, 16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Put(note.Clone())
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for r := range results {
		if r == Accepted {
			accepted++
		} else {
			assert.Equal(t, DuplicateIgnored, r)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, s.Len())
}

func TestTimelineOrderAndTies(t *testing.T) {
	s := New()
	alice := relaytest.NewSigner(t)
	a := relaytest.Note(t, alice, 200, "a")
	b := relaytest.Note(t, alice, 100, "b")
	c := relaytest.Note(t, alice, 200, "c")
	for _, e := range []*types.Event{b, a, c} {
		require.Equal(t, Accepted, s.Put(e))
	}

	first, second := a, c
	if c.ID < a.ID {
		first, second = c, a
	}
	assert.Equal(t, []string{first.ID, second.ID, b.ID}, ids(s.Dump()))
}

func TestQueryWindowIsInclusive(t *testing.T) {
	s := New()
	alice := relaytest.NewSigner(t)
	bob := relaytest.NewSigner(t)
	for i := int64(1); i <= 5; i++ {
		s.Put(relaytest.Note(t, alice, i*10, "alice"))
		s.Put(relaytest.Note(t, bob, i*10+1, "bob"))
	}

	got := s.Query(types.Filter{Authors: []string{alice.PublicKey()}, Since: types.Int64(20), Until: types.Int64(40)})
	require.Len(t, got, 3)
	assert.Equal(t, int64(40), got[0].CreatedAt)
	assert.Equal(t, int64(20), got[2].CreatedAt)

	got = s.Query(types.Filter{Kinds: []int{types.KindTextNote}, Until: types.Int64(31), Limit: 2})
	require.Len(t, got, 2)
	assert.Equal(t, int64(31), got[0].CreatedAt)
	assert.Equal(t, int64(30), got[1].CreatedAt)
}

func TestTagIndex(t *testing.T) {
	s := New()
	alice := relaytest.NewSigner(t)
	root := relaytest.Note(t, alice, 10, "root")
	reply1 := relaytest.Note(t, alice, 20, "r1", []string{"e", root.ID}, []string{"p", alice.PublicKey()})
	reply2 := relaytest.Note(t, alice, 30, "r2", []string{"e", root.ID})
	other := relaytest.Note(t, alice, 40, "other", []string{"e", "ff"})
	for _, e := range []*types.Event{root, reply1, reply2, other} {
		s.Put(e)
	}

	assert.Equal(t, []string{reply2.ID, reply1.ID}, ids(s.Tagged("e", root.ID)))
	assert.Equal(t, []string{reply1.ID}, ids(s.Query(types.Filter{
		Tags: map[string][]string{"e": {root.ID}, "p": {alice.PublicKey()}},
	})))

	require.True(t, s.Delete(reply2.ID))
	assert.Equal(t, []string{reply1.ID}, ids(s.Tagged("e", root.ID)))
}

func TestLatestAndUpdatedNotification(t *testing.T) {
	s := New()
	alice := relaytest.NewSigner(t)

	var changes []Change
	cancel := s.Observe(func(c Change) { changes = append(changes, c) })
	defer cancel()

	old := relaytest.Metadata(t, alice, 100, map[string]interface{}{"name": "old"})
	newer := relaytest.Metadata(t, alice, 200, map[string]interface{}{"name": "new"})
	stale := relaytest.Metadata(t, alice, 50, map[string]interface{}{"name": "stale"})

	s.Put(old)
	s.Put(newer)
	s.Put(stale)

	latest, ok := s.Latest(alice.PublicKey(), types.KindMetadata)
	require.True(t, ok)
	assert.Equal(t, newer.ID, latest.ID)

	require.Len(t, changes, 3)
	assert.Equal(t, Added, changes[0].Type)
	assert.Equal(t, Updated, changes[1].Type)
	assert.Equal(t, old.ID, changes[1].Replaced)
	assert.Equal(t, Added, changes[2].Type, "older replaceable event is kept but does not supersede")

	// evicting the latest falls back to the next newest
	s.Delete(newer.ID)
	latest, ok = s.Latest(alice.PublicKey(), types.KindMetadata)
	require.True(t, ok)
	assert.Equal(t, old.ID, latest.ID)
	assert.Equal(t, Removed, changes[3].Type)
}

func TestDeleteAndClear(t *testing.T) {
	s := New()
	alice := relaytest.NewSigner(t)
	a := relaytest.Note(t, alice, 1, "a")
	b := relaytest.Note(t, alice, 2, "b")
	s.Put(a)
	s.Put(b)

	assert.True(t, s.Delete(a.ID))
	assert.False(t, s.Delete(a.ID))
	assert.False(t, s.Has(a.ID))
	assert.Equal(t, []string{b.ID}, ids(s.Dump()))

	var cleared bool
	s.Observe(func(c Change) { cleared = c.Type == Cleared })
	s.Clear()
	assert.True(t, cleared)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Query(types.Filter{}))
	_, ok := s.Latest(alice.PublicKey(), types.KindTextNote)
	assert.False(t, ok)

	// deleted events may be stored again
	assert.Equal(t, Accepted, s.Put(a))
}

func TestObserverSeesVisibleMutation(t *testing.T) {
	s := New()
	note := relaytest.Note(t, relaytest.NewSigner(t), 1, "x")
	var visible bool
	s.Observe(func(c Change) { visible = s.Has(c.ID) })
	s.Put(note)
	assert.True(t, visible)
}
