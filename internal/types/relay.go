package types

// RelayConfig is one configured relay and its usage flags
type RelayConfig struct {
	URL     string `json:"url" yaml:"url" toml:"url"`
	Read    bool   `json:"read" yaml:"read" toml:"read"`
	Write   bool   `json:"write" yaml:"write" toml:"write"`
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// Readable reports whether queries should go to this relay
func (r RelayConfig) Readable() bool { return r.Enabled && r.Read }

// Writable reports whether publishes should go to this relay
func (r RelayConfig) Writable() bool { return r.Enabled && r.Write }

// RelayList represents a user's NIP-65 relay list
type RelayList struct {
	Read  []string
	Write []string
}

// All returns the union of read and write relays, read first
func (rl RelayList) All() []string {
	seen := make(map[string]bool, len(rl.Read)+len(rl.Write))
	var out []string
	for _, list := range [][]string{rl.Read, rl.Write} {
		for _, u := range list {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	return out
}

// RelayInfo is a NIP-11 relay information document
type RelayInfo struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	PubKey        string          `json:"pubkey"`
	Contact       string          `json:"contact"`
	SupportedNIPs []int           `json:"supported_nips"`
	Software      string          `json:"software"`
	Version       string          `json:"version"`
	Limitation    RelayLimitation `json:"limitation"`
}

// RelayLimitation is the "limitation" object of a NIP-11 document
type RelayLimitation struct {
	MaxSubscriptions int  `json:"max_subscriptions"`
	MaxFilters       int  `json:"max_filters"`
	MaxLimit         int  `json:"max_limit"`
	AuthRequired     bool `json:"auth_required"`
	PaymentRequired  bool `json:"payment_required"`
}
