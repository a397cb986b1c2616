package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nostr-greet/internal/client"
	"nostr-greet/internal/config"
	"nostr-greet/internal/logging"
	"nostr-greet/internal/nostr"
)

var (
	configPath string
	logLevel   string
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "greet",
	Short:         "A relay-aggregating Nostr client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		logCloser = logging.Init(level, cfg.LogFile)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file path (.json, .yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// session builds a client for cfg and logs in with the
// configured private key. Callers must Close the client.
func session(ctx context.Context, cfg *config.Config, opts ...client.Option) (*client.Client, error) {
	if cfg.PrivKey == "" {
		return nil, fmt.Errorf("no private key configured in %s (run `greet keygen --save`)", cfg.Path())
	}
	signer, err := nostr.NewKeySigner(cfg.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	opts = append([]client.Option{client.WithLogger(logging.Component("greet"))}, opts...)
	c, err := client.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Login(ctx, signer); err != nil {
		c.Close()
		return nil, fmt.Errorf("login: %w", err)
	}
	return c, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorColor("Error: %v", err))
		os.Exit(1)
	}
}
