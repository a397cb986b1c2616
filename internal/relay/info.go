package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/types"
)

var infoClient = &http.Client{Timeout: 10 * time.Second}

// FetchInfo retrieves the NIP-11 information document of a relay.
// A missing max_subscriptions limit defaults to 1.
func FetchInfo(ctx context.Context, relayURL string) (*types.RelayInfo, error) {
	u, err := nostr.NormalizeRelayURL(relayURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nostr.HTTPURL(u), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := infoClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch relay info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch relay info: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read relay info: %w", err)
	}

	var info types.RelayInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode relay info: %w", err)
	}
	if info.Limitation.MaxSubscriptions == 0 {
		info.Limitation.MaxSubscriptions = 1
	}
	return &info, nil
}
