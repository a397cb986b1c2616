package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-greet/internal/config"
	"nostr-greet/internal/types"
)

func TestParseTags(t *testing.T) {
	tags, err := parseTags([]string{"t=nostr", "e=abc,wss://r.example", "subject="})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"t", "nostr"},
		{"e", "abc", "wss://r.example"},
		{"subject", ""},
	}, tags)

	_, err = parseTags([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseTags([]string{"=x"})
	assert.Error(t, err)
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestRelaysAddRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, run(t, "--config", path, "relays", "add", "relay.one.example"))
	require.NoError(t, run(t, "--config", path, "relays", "add", "wss://relay.two.example", "--write=false"))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []types.RelayConfig{
		{URL: "wss://relay.one.example", Read: true, Write: true, Enabled: true},
		{URL: "wss://relay.two.example", Read: true, Write: false, Enabled: true},
	}, cfg.RelayConfigs())

	// adding again updates the flags in place
	require.NoError(t, run(t, "--config", path, "relays", "add", "wss://relay.one.example/", "--write=true", "--disabled"))
	require.NoError(t, run(t, "--config", path, "relays", "remove", "wss://relay.two.example"))

	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []types.RelayConfig{
		{URL: "wss://relay.one.example", Read: true, Write: true, Enabled: false},
	}, cfg.RelayConfigs())

	assert.Error(t, run(t, "--config", path, "relays", "remove", "wss://nowhere.example"))
}

func TestKeygenSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, run(t, "--config", path, "keygen", "--save"))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.PrivKey, "nsec1")

	assert.Error(t, run(t, "--config", path, "keygen", "--save"), "existing key is kept without --force")
	require.NoError(t, run(t, "--config", path, "keygen", "--save", "--force"))
}
