package nostr

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"nostr-greet/internal/types"
)

// ErrBadRelayURL is returned for relay URLs that can't be used
var ErrBadRelayURL = errors.New("invalid relay url")

// NormalizeRelayURL validates a relay URL and returns its canonical form:
// lowercase scheme and host, explicit port kept, trailing slash stripped.
func NormalizeRelayURL(relayURL string) (string, error) {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" {
		return "", fmt.Errorf("%w: empty", ErrBadRelayURL)
	}

	// Reject double protocols (wss://https://...)
	if strings.Count(relayURL, "://") != 1 {
		return "", fmt.Errorf("%w: %q", ErrBadRelayURL, relayURL)
	}

	parsed, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRelayURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return "", fmt.Errorf("%w: scheme %q", ErrBadRelayURL, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" || strings.Contains(host, " ") {
		return "", fmt.Errorf("%w: host %q", ErrBadRelayURL, host)
	}
	if !strings.Contains(host, ".") && host != "localhost" && !strings.Contains(host, ":") {
		return "", fmt.Errorf("%w: host %q", ErrBadRelayURL, host)
	}

	result := scheme + "://" + host
	if strings.Contains(host, ":") {
		result = scheme + "://[" + host + "]"
	}
	if parsed.Port() != "" {
		result += ":" + parsed.Port()
	}
	if p := strings.TrimRight(parsed.Path, "/"); p != "" {
		result += p
	}
	return result, nil
}

// HTTPURL maps a relay websocket URL onto its http(s) counterpart (used for NIP-11)
func HTTPURL(relayURL string) string {
	switch {
	case strings.HasPrefix(relayURL, "wss://"):
		return "https://" + strings.TrimPrefix(relayURL, "wss://")
	case strings.HasPrefix(relayURL, "ws://"):
		return "http://" + strings.TrimPrefix(relayURL, "ws://")
	}
	return relayURL
}

// ParseRelayList reads the "r" tags of a NIP-65 relay list event
func ParseRelayList(tags [][]string) types.RelayList {
	var rl types.RelayList
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}
		u, err := NormalizeRelayURL(tag[1])
		if err != nil {
			continue
		}
		marker := ""
		if len(tag) >= 3 {
			marker = tag[2]
		}
		switch marker {
		case "read":
			rl.Read = append(rl.Read, u)
		case "write":
			rl.Write = append(rl.Write, u)
		default:
			rl.Read = append(rl.Read, u)
			rl.Write = append(rl.Write, u)
		}
	}
	return rl
}
