package client

import (
	"context"

	"nostr-greet/internal/relay"
	"nostr-greet/internal/types"
)

// SetRelays replaces the relay set, applies it to the pool and saves it
// to the config file when there is one. Invalid sets change nothing.
func (c *Client) SetRelays(cfgs []types.RelayConfig) error {
	normalized, err := relay.NormalizeConfigs(cfgs)
	if err != nil {
		return err
	}
	if err := c.pool.Configure(normalized); err != nil {
		return err
	}
	c.cfg.SetRelays(normalized)
	if c.cfg.Path() == "" {
		return nil
	}
	return c.cfg.Save()
}

// GetRelays returns the relay set in use
func (c *Client) GetRelays() []types.RelayConfig {
	return c.pool.Relays()
}

// RelayStatus reports each active relay's connection state
func (c *Client) RelayStatus() map[string]relay.Status {
	return c.pool.StatusAll()
}

// RelayInfo fetches a relay's NIP-11 document
func (c *Client) RelayInfo(ctx context.Context, url string) (*types.RelayInfo, error) {
	return relay.FetchInfo(ctx, url)
}
