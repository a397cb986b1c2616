// Package nostr holds protocol-level helpers: event ids, signatures, keys and wire filters.
package nostr

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/minio/sha256-simd"

	"nostr-greet/internal/types"
)

// ErrInvalidEvent is returned when an event's id or signature doesn't verify
var ErrInvalidEvent = errors.New("invalid event")

// Serialize returns the canonical [0,pubkey,created_at,kind,tags,content] form hashed into the event id
func Serialize(evt *types.Event) []byte {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	arr := []interface{}{0, evt.PubKey, evt.CreatedAt, evt.Kind, tags, evt.Content}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// ComputeID returns the hex sha256 of the canonical serialization
func ComputeID(evt *types.Event) string {
	hash := sha256.Sum256(Serialize(evt))
	return hex.EncodeToString(hash[:])
}

// ValidateEventSignature verifies Schnorr signature for a Nostr event
func ValidateEventSignature(evt *types.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// ValidateEvent checks that the id matches the content hash and that the
// signature verifies. Errors wrap ErrInvalidEvent.
func ValidateEvent(evt *types.Event) error {
	if evt == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if len(evt.ID) != 64 {
		return fmt.Errorf("%w: malformed id", ErrInvalidEvent)
	}
	if id := ComputeID(evt); id != evt.ID {
		return fmt.Errorf("%w: id mismatch for %s", ErrInvalidEvent, ShortID(evt.ID))
	}
	if !ValidateEventSignature(evt) {
		return fmt.Errorf("%w: bad signature on %s", ErrInvalidEvent, ShortID(evt.ID))
	}
	return nil
}

// ParseEventFromInterface converts raw websocket data to Event.
// Only the shape is checked here; id and signature are verified at the store.
func ParseEventFromInterface(data interface{}) (*types.Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil, false
	}

	evt := &types.Event{}

	if id, ok := m["id"].(string); ok {
		evt.ID = id
	}
	if pk, ok := m["pubkey"].(string); ok {
		evt.PubKey = pk
	}
	if createdAt, ok := m["created_at"].(float64); ok {
		evt.CreatedAt = int64(createdAt)
	}
	if kind, ok := m["kind"].(float64); ok {
		evt.Kind = int(kind)
	}
	if content, ok := m["content"].(string); ok {
		evt.Content = content
	}
	if sig, ok := m["sig"].(string); ok {
		evt.Sig = sig
	}

	evt.Tags = [][]string{}
	if tags, ok := m["tags"].([]interface{}); ok {
		for _, tag := range tags {
			tagArr, ok := tag.([]interface{})
			if !ok {
				return nil, false
			}
			strTag := make([]string, 0, len(tagArr))
			for _, elem := range tagArr {
				s, ok := elem.(string)
				if !ok {
					return nil, false
				}
				strTag = append(strTag, s)
			}
			evt.Tags = append(evt.Tags, strTag)
		}
	}

	return evt, evt.ID != ""
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
