package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"nostr-greet/internal/types"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Relays)
	assert.Equal(t, 60*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, path, cfg.Path())
}

func TestSaveAndLoadEachFormat(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.SetPath(path)
			cfg.SetRelays([]types.RelayConfig{{URL: "wss://relay.example", Read: true, Enabled: true}})
			cfg.PollInterval = Duration(90 * time.Second)
			cfg.Cache = CacheConfig{Backend: "memory", Prefix: "p:", TTL: Duration(time.Hour)}
			require.NoError(t, cfg.Save())

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.RelayConfigs(), got.RelayConfigs())
			assert.Equal(t, 90*time.Second, got.PollInterval.Std())
			assert.Equal(t, "memory", got.Cache.Backend)
			assert.Equal(t, time.Hour, got.Cache.TTL.Std())
		})
	}
}

func TestDurationForms(t *testing.T) {
	var c struct {
		A Duration `json:"a" yaml:"a"`
		B Duration `json:"b" yaml:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1m30s","b":15}`), &c))
	assert.Equal(t, 90*time.Second, c.A.Std())
	assert.Equal(t, 15*time.Second, c.B.Std())

	require.NoError(t, yaml.Unmarshal([]byte("a: 2s\nb: 3\n"), &c))
	assert.Equal(t, 2*time.Second, c.A.Std())
	assert.Equal(t, 3*time.Second, c.B.Std())

	assert.Error(t, json.Unmarshal([]byte(`{"a":"soon"}`), &c))
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad.json":      `{"relays": [`,
		"scheme.json":   `{"relays": [{"url": "http://relay.example", "read": true, "enabled": true}]}`,
		"dup.json":      `{"relays": [{"url": "wss://a.example"}, {"url": "wss://A.example/"}]}`,
		"key.json":      `{"privkey": "nsec1nope"}`,
		"level.yaml":    "log_level: loud\n",
		"backend.yaml":  "cache:\n  backend: redis\n",
		"negative.toml": "query_timeout = \"-1s\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/custom.yaml")
	assert.Equal(t, "/tmp/custom.yaml", DefaultPath())
}

func TestDefaultRelaysAreValid(t *testing.T) {
	cfg := Default()
	cfg.Relays = DefaultRelays()
	assert.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Relays, 4)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"page_size": 5}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pageSize atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { pageSize.Store(int64(c.PageSize)) })
	}()

	// a broken edit is skipped, a good one lands
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"page_size": `), 0o600)
		_ = os.WriteFile(path, []byte(`{"page_size": 42}`), 0o600)
		time.Sleep(3 * reloadSettle)
		return pageSize.Load() == 42
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
