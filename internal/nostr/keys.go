package nostr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"nostr-greet/internal/types"
)

// ErrBadKey is returned for keys that are neither 64-char hex nor valid bech32
var ErrBadKey = errors.New("invalid key")

// Signer produces signed events for the local identity
type Signer interface {
	PublicKey() string
	Sign(evt *types.Event) error
}

// KeySigner signs with an in-memory secp256k1 private key
type KeySigner struct {
	privateKey *btcec.PrivateKey
	publicKey  string
}

// NewKeySigner accepts a hex private key or an nsec
func NewKeySigner(key string) (*KeySigner, error) {
	skHex, err := DecodePrivateKey(key)
	if err != nil {
		return nil, err
	}
	privKeyBytes, err := hex.DecodeString(skHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	privateKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	pubKeyBytes := privateKey.PubKey().SerializeCompressed()[1:] // x-only
	return &KeySigner{
		privateKey: privateKey,
		publicKey:  hex.EncodeToString(pubKeyBytes),
	}, nil
}

// GenerateKeySigner creates a signer for a fresh random key
func GenerateKeySigner() (*KeySigner, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return NewKeySigner(hex.EncodeToString(privateKey.Serialize()))
}

func (s *KeySigner) PublicKey() string {
	return s.publicKey
}

// PrivateKeyHex exposes the raw key, for keygen output only
func (s *KeySigner) PrivateKeyHex() string {
	return hex.EncodeToString(s.privateKey.Serialize())
}

// Sign fills PubKey, ID and Sig
func (s *KeySigner) Sign(evt *types.Event) error {
	evt.PubKey = s.publicKey
	if evt.Tags == nil {
		evt.Tags = [][]string{}
	}
	evt.ID = ComputeID(evt)
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(s.privateKey, idBytes)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// DecodePrivateKey returns the hex form of an nsec or hex private key
func DecodePrivateKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "nsec1") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		s, ok := value.(string)
		if prefix != "nsec" || !ok {
			return "", fmt.Errorf("%w: not an nsec", ErrBadKey)
		}
		return s, nil
	}
	if !isHex64(key) {
		return "", fmt.Errorf("%w: expected 64 hex chars or nsec", ErrBadKey)
	}
	return strings.ToLower(key), nil
}

// DecodePublicKey returns the hex form of an npub or hex public key
func DecodePublicKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "npub1") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		s, ok := value.(string)
		if prefix != "npub" || !ok {
			return "", fmt.Errorf("%w: not an npub", ErrBadKey)
		}
		return s, nil
	}
	if !isHex64(key) {
		return "", fmt.Errorf("%w: expected 64 hex chars or npub", ErrBadKey)
	}
	return strings.ToLower(key), nil
}

// EncodeNpub returns the bech32 npub, or "" when pk isn't valid hex
func EncodeNpub(pk string) string {
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return ""
	}
	return npub
}

// EncodeNsec returns the bech32 nsec of a hex private key
func EncodeNsec(sk string) (string, error) {
	return nip19.EncodePrivateKey(sk)
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
