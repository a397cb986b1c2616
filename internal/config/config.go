// Package config loads and saves the client configuration file. The
// format follows the file extension: .yaml/.yml, .toml, otherwise JSON.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/relay"
	"nostr-greet/internal/types"
)

// EnvPath overrides the default config location
const EnvPath = "GREET_CONFIG"

var ErrInvalidConfig = errors.New("invalid configuration")

// CacheConfig selects the event archive backend
type CacheConfig struct {
	Backend  string   `json:"backend" yaml:"backend" toml:"backend"` // none, memory, redis
	RedisURL string   `json:"redis_url,omitempty" yaml:"redis_url,omitempty" toml:"redis_url,omitempty"`
	Prefix   string   `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"`
	TTL      Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" toml:"ttl,omitempty"`
}

type Config struct {
	Relays []types.RelayConfig `json:"relays" yaml:"relays" toml:"relays"`
	// PrivKey is hex or nsec, stored in plain text
	PrivKey string `json:"privkey,omitempty" yaml:"privkey,omitempty" toml:"privkey,omitempty"`

	PollInterval   Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	QueryTimeout   Duration `json:"query_timeout" yaml:"query_timeout" toml:"query_timeout"`
	PublishTimeout Duration `json:"publish_timeout" yaml:"publish_timeout" toml:"publish_timeout"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
	PageSize       int      `json:"page_size" yaml:"page_size" toml:"page_size"`

	LogLevel    string `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	LogFile     string `json:"log_file,omitempty" yaml:"log_file,omitempty" toml:"log_file,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" toml:"metrics_addr,omitempty"`

	Cache CacheConfig `json:"cache" yaml:"cache" toml:"cache"`

	mu   sync.RWMutex
	path string
}

// DefaultRelays are used when no relay is configured yet
func DefaultRelays() []types.RelayConfig {
	urls := []string{
		"wss://nos.lol",
		"wss://relay.damus.io",
		"wss://relay.snort.social",
		"wss://nostr.mom",
	}
	out := make([]types.RelayConfig, len(urls))
	for i, u := range urls {
		out[i] = types.RelayConfig{URL: u, Read: true, Write: true, Enabled: true}
	}
	return out
}

func Default() *Config {
	return &Config{
		PollInterval:   Duration(60 * time.Second),
		QueryTimeout:   Duration(5 * time.Second),
		PublishTimeout: Duration(7 * time.Second),
		ConnectTimeout: Duration(10 * time.Second),
		PageSize:       20,
		LogLevel:       "info",
		Cache:          CacheConfig{Backend: "none", Prefix: "greet:"},
	}
}

// DefaultPath returns $GREET_CONFIG, or config.json under the user config dir
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "greet.json"
	}
	return filepath.Join(dir, "greet", "config.json")
}

type format int

const (
	formatJSON format = iota
	formatYAML
	formatTOML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	}
	return formatJSON
}

// Load reads path. A missing file yields the defaults; a malformed one is
// an error wrapping ErrInvalidConfig.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config file not found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := decode(formatOf(path), data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("loaded configuration", "path", path, "relays", len(cfg.Relays))
	return cfg, nil
}

func decode(f format, data []byte, cfg *Config) error {
	switch f {
	case formatYAML:
		return yaml.Unmarshal(data, cfg)
	case formatTOML:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return json.Unmarshal(data, cfg)
}

// Validate checks every field, returning an error wrapping ErrInvalidConfig
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := relay.NormalizeConfigs(c.Relays); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.PrivKey != "" {
		if _, err := nostr.DecodePrivateKey(c.PrivKey); err != nil {
			return fmt.Errorf("%w: privkey: %v", ErrInvalidConfig, err)
		}
	}
	for name, d := range map[string]Duration{
		"poll_interval":   c.PollInterval,
		"query_timeout":   c.QueryTimeout,
		"publish_timeout": c.PublishTimeout,
		"connect_timeout": c.ConnectTimeout,
		"cache.ttl":       c.Cache.TTL,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidConfig, name)
		}
	}
	if c.PageSize < 0 {
		return fmt.Errorf("%w: page_size is negative", ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	switch c.Cache.Backend {
	case "", "none", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("%w: cache.redis_url is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: cache.backend %q", ErrInvalidConfig, c.Cache.Backend)
	}
	return nil
}

// Path is where the config was loaded from and where Save writes
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

func (c *Config) SetPath(p string) {
	c.mu.Lock()
	c.path = p
	c.mu.Unlock()
}

// RelayConfigs returns a copy of the configured relays
func (c *Config) RelayConfigs() []types.RelayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.RelayConfig(nil), c.Relays...)
}

func (c *Config) SetRelays(cfgs []types.RelayConfig) {
	c.mu.Lock()
	c.Relays = append([]types.RelayConfig(nil), cfgs...)
	c.mu.Unlock()
}

// Save writes the config back to its path in the same format
func (c *Config) Save() error {
	c.mu.RLock()
	path := c.path
	data, err := c.encode(formatOf(path))
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if path == "" {
		return fmt.Errorf("%w: no path to save to", ErrInvalidConfig)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}
	slog.Debug("saved configuration", "path", path)
	return nil
}

func (c *Config) encode(f format) ([]byte, error) {
	switch f {
	case formatYAML:
		return yaml.Marshal(c)
	case formatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
