package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-greet/internal/relaytest"
	"nostr-greet/internal/store"
	"nostr-greet/internal/types"
)

func idsOf(evs []*types.Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.ID
	}
	return out
}

func TestListMirrorsStore(t *testing.T) {
	alice := relaytest.NewSigner(t)
	st := store.New()
	l := New(nil)
	l.Attach(st)

	older := relaytest.Note(t, alice, 10, "older")
	newer := relaytest.Note(t, alice, 20, "newer")
	st.Put(newer)
	st.Put(older)

	// arrival order puts the most recent change first
	assert.Equal(t, []string{older.ID, newer.ID}, idsOf(l.Events()))
	assert.Equal(t, []string{newer.ID, older.ID}, idsOf(l.Sorted()))

	st.Delete(older.ID)
	assert.Equal(t, []string{newer.ID}, idsOf(l.Events()))

	st.Clear()
	assert.Zero(t, l.Len())
}

func TestUpdatedReplacesInsteadOfNesting(t *testing.T) {
	alice := relaytest.NewSigner(t)
	st := store.New()
	l := New(nil)
	l.Attach(st)

	v1 := relaytest.Metadata(t, alice, 1, map[string]interface{}{"name": "v1"})
	v2 := relaytest.Metadata(t, alice, 2, map[string]interface{}{"name": "v2"})
	require.Equal(t, store.Accepted, st.Put(v1))
	require.Equal(t, store.Accepted, st.Put(v2))

	evs := l.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, v2.ID, evs[0].ID)
	assert.Equal(t, v2.Content, evs[0].Content)
}

func TestAttachSeedsExistingEvents(t *testing.T) {
	alice := relaytest.NewSigner(t)
	st := store.New()
	st.Put(relaytest.Note(t, alice, 1, "a"))
	st.Put(relaytest.Note(t, alice, 2, "b"))

	l := New(func(e *types.Event) bool { return e.Kind == types.KindTextNote })
	cancel := l.Attach(st)
	assert.Equal(t, 2, l.Len())

	st.Put(relaytest.Metadata(t, alice, 3, map[string]interface{}{"name": "filtered out"}))
	assert.Equal(t, 2, l.Len())

	cancel()
	st.Put(relaytest.Note(t, alice, 4, "detached"))
	assert.Equal(t, 2, l.Len())
}
