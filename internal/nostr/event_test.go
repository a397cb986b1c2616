package nostr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-greet/internal/types"
)

const (
	testPrivKey = "edc90d06fee17615229c8526dc005d959e4af3bdc0b48c5776c951bcafedec85"
	testPubKey  = "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990eec"
)

func signed(t *testing.T, evt *types.Event) *types.Event {
	t.Helper()
	s, err := NewKeySigner(testPrivKey)
	require.NoError(t, err)
	require.NoError(t, s.Sign(evt))
	return evt
}

func TestKeySignerPublicKey(t *testing.T) {
	s, err := NewKeySigner(testPrivKey)
	require.NoError(t, err)
	assert.Equal(t, testPubKey, s.PublicKey())
}

func TestSignAndValidate(t *testing.T) {
	evt := signed(t, &types.Event{
		CreatedAt: 1700000000,
		Kind:      types.KindTextNote,
		Tags:      [][]string{{"t", "nostr"}},
		Content:   "hello <world> & \"friends\"",
	})

	require.NoError(t, ValidateEvent(evt))
	assert.Equal(t, testPubKey, evt.PubKey)
	assert.Len(t, evt.Sig, 128)
}

func TestValidateRejectsTampering(t *testing.T) {
	evt := signed(t, &types.Event{CreatedAt: 1700000000, Kind: 1, Content: "original"})

	tampered := evt.Clone()
	tampered.Content = "changed"
	err := ValidateEvent(tampered)
	assert.True(t, errors.Is(err, ErrInvalidEvent), "content change must break the id")

	badSig := evt.Clone()
	flip := "0"
	if badSig.Sig[127] == '0' {
		flip = "1"
	}
	badSig.Sig = badSig.Sig[:127] + flip
	assert.ErrorIs(t, ValidateEvent(badSig), ErrInvalidEvent)

	// a consistent id signed by someone else
	other, err := GenerateKeySigner()
	require.NoError(t, err)
	forged := evt.Clone()
	forged.PubKey = other.PublicKey()
	forged.ID = ComputeID(forged)
	assert.ErrorIs(t, ValidateEvent(forged), ErrInvalidEvent)
}

func TestSerializeDoesNotEscapeHTML(t *testing.T) {
	evt := &types.Event{PubKey: testPubKey, CreatedAt: 1, Kind: 1, Content: "<a>&"}
	assert.Equal(t, `[0,"`+testPubKey+`",1,1,[],"<a>&"]`, string(Serialize(evt)))
}

func TestWireRoundTripPreservesID(t *testing.T) {
	evt := signed(t, &types.Event{
		CreatedAt: 1700000123,
		Kind:      types.KindTextNote,
		Tags:      [][]string{{"e", "abc", "wss://relay.example.com", "reply"}, {"p", testPubKey}},
		Content:   "line one\nline two ☃",
	})

	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	var generic interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	parsed, ok := ParseEventFromInterface(generic)
	require.True(t, ok)

	assert.Equal(t, evt.ID, ComputeID(parsed))
	assert.NoError(t, ValidateEvent(parsed))
}

func TestParseEventFromInterfaceRejectsNonStringTags(t *testing.T) {
	_, ok := ParseEventFromInterface(map[string]interface{}{
		"id":   "x",
		"tags": []interface{}{[]interface{}{"p", 12.0}},
	})
	assert.False(t, ok)
}

func TestKeyDecoding(t *testing.T) {
	npub := EncodeNpub(testPubKey)
	require.NotEmpty(t, npub)

	pk, err := DecodePublicKey(npub)
	require.NoError(t, err)
	assert.Equal(t, testPubKey, pk)

	pk, err = DecodePublicKey(testPubKey)
	require.NoError(t, err)
	assert.Equal(t, testPubKey, pk)

	_, err = DecodePublicKey("not-a-key")
	assert.ErrorIs(t, err, ErrBadKey)

	nsec, err := EncodeNsec(testPrivKey)
	require.NoError(t, err)
	s, err := NewKeySigner(nsec)
	require.NoError(t, err)
	assert.Equal(t, testPubKey, s.PublicKey())
}

func TestWireFiltersChunksAuthors(t *testing.T) {
	authors := make([]string, 60)
	for i := range authors {
		authors[i] = string(rune('a' + i%26))
	}
	f := types.Filter{Authors: authors, Kinds: []int{1}, Limit: 20}

	wire := WireFilters(f)
	require.Len(t, wire, 3)
	assert.Len(t, wire[0]["authors"], 25)
	assert.Len(t, wire[2]["authors"], 10)
	for _, w := range wire {
		assert.Equal(t, []int{1}, w["kinds"])
		assert.Equal(t, 20, w["limit"])
	}
}

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"wss://Relay.Damus.io/", "wss://relay.damus.io", true},
		{" wss://nos.lol ", "wss://nos.lol", true},
		{"ws://127.0.0.1:7447", "ws://127.0.0.1:7447", true},
		{"ws://localhost:7447/path/", "ws://localhost:7447/path", true},
		{"https://relay.damus.io", "", false},
		{"wss://https://relay.damus.io", "", false},
		{"wss://", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizeRelayURL(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrBadRelayURL, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
