package relaytest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/types"
)

// NewSigner returns a signer for a fresh key
func NewSigner(t testing.TB) *nostr.KeySigner {
	t.Helper()
	s, err := nostr.GenerateKeySigner()
	require.NoError(t, err)
	return s
}

// Sign signs evt in place and returns it
func Sign(t testing.TB, s nostr.Signer, evt *types.Event) *types.Event {
	t.Helper()
	require.NoError(t, s.Sign(evt))
	return evt
}

// Note builds a signed kind 1 event
func Note(t testing.TB, s nostr.Signer, createdAt int64, content string, tags ...[]string) *types.Event {
	t.Helper()
	return Sign(t, s, &types.Event{CreatedAt: createdAt, Kind: types.KindTextNote, Content: content, Tags: tags})
}

// Metadata builds a signed kind 0 event from fields
func Metadata(t testing.TB, s nostr.Signer, createdAt int64, fields map[string]interface{}) *types.Event {
	t.Helper()
	content, err := json.Marshal(fields)
	require.NoError(t, err)
	return Sign(t, s, &types.Event{CreatedAt: createdAt, Kind: types.KindMetadata, Content: string(content)})
}

// ContactList builds a signed kind 3 event following pubkeys
func ContactList(t testing.TB, s nostr.Signer, createdAt int64, pubkeys ...string) *types.Event {
	t.Helper()
	tags := make([][]string, len(pubkeys))
	for i, pk := range pubkeys {
		tags[i] = []string{"p", pk}
	}
	return Sign(t, s, &types.Event{CreatedAt: createdAt, Kind: types.KindContactList, Tags: tags})
}
