package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"nostr-greet/internal/client"
	"nostr-greet/internal/config"
	"nostr-greet/internal/display"
	"nostr-greet/internal/metrics"
	"nostr-greet/internal/relay"
	"nostr-greet/internal/store"
	"nostr-greet/internal/types"
)

func init() {
	rootCmd.AddCommand(pollCmd)

	pollCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (defaults to metrics_addr from the config)")
	pollCmd.Flags().Bool("watch", false, "apply relay changes from the config file while running")
}

func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", "error", err)
	}
}

// watchRelays applies relay edits made to the config file while running.
// Reloads that leave the relay set as it is are ignored, which also covers
// the write-back done by SetRelays itself.
func watchRelays(ctx context.Context, c *client.Client, path string) {
	err := config.Watch(ctx, path, func(next *config.Config) {
		relays, err := relay.NormalizeConfigs(next.RelayConfigs())
		if err != nil || len(relays) == 0 || slices.Equal(relays, c.GetRelays()) {
			return
		}
		if err := c.SetRelays(relays); err != nil {
			slog.Warn("failed to apply relay changes", "error", err)
			return
		}
		slog.Info("relays reloaded", "count", len(relays))
	})
	if err != nil {
		slog.Error("config watch failed", "path", path, "error", err)
	}
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Keep the home feed fresh and print new notes as they arrive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("metrics-addr")
		watch, _ := cmd.Flags().GetBool("watch")
		ctx := cmd.Context()

		cfg := loadConfig()
		if addr == "" {
			addr = cfg.MetricsAddr
		}

		reg := prometheus.NewRegistry()
		c, err := session(ctx, cfg, client.WithRegistry(reg))
		if err != nil {
			return err
		}
		defer c.Close()

		if addr != "" {
			go serveMetrics(ctx, addr, reg)
		}
		if watch {
			go watchRelays(ctx, c, cfg.Path())
		}

		inFeed := func(e *types.Event) bool { return c.FollowFeed().Matches(e) }
		list := display.New(inFeed)
		detach := list.Attach(c.Store())
		defer detach()

		if _, err := c.RefreshFeed(ctx, c.FollowFeed(), false); err != nil {
			return fmt.Errorf("refresh feed: %w", err)
		}
		printEvents(os.Stdout, c.Contacts(), list.Sorted())

		// store observers run on the writer's goroutine
		var printMu sync.Mutex
		stopPrint := c.Store().Observe(func(ch store.Change) {
			if ch.Type != store.Added || !inFeed(ch.Event) {
				return
			}
			printMu.Lock()
			printEvents(os.Stdout, c.Contacts(), []*types.Event{ch.Event})
			printMu.Unlock()
		})
		defer stopPrint()

		if err := c.StartPolling(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, dimColor("polling every %s, ctrl-c to stop", cfg.PollInterval))

		<-ctx.Done()
		c.StopPolling()
		fmt.Fprintln(os.Stderr, dimColor("%d events in feed", list.Len()))
		return nil
	},
}
