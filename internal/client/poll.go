package client

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"nostr-greet/internal/logging"
)

// StartPolling refreshes the follow feed every poll interval until
// StopPolling, Logout or ctx ends. A run still going when the next one is
// due makes that one skip. Calling it while polling is a no-op.
func (c *Client) StartPolling(ctx context.Context) error {
	if _, err := c.requireSigner(); err != nil {
		return err
	}

	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.cron != nil {
		return nil
	}

	interval := c.cfg.PollInterval.Std()
	if interval <= 0 {
		interval = time.Minute
	}

	clog := logging.CronLogger{Log: c.log.With("component", "poll")}
	sched := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	pctx, cancel := context.WithCancel(ctx)
	_, err := sched.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		c.pollOnce(pctx)
	})
	if err != nil {
		cancel()
		return err
	}

	sched.Start()
	c.cron = sched
	c.pollCancel = cancel
	c.log.Info("polling started", "interval", interval.String())
	return nil
}

func (c *Client) pollOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx = logging.WithOp(ctx)
	evts, err := c.RefreshFeed(ctx, c.FollowFeed(), false)
	if err != nil {
		logging.FromContext(ctx, c.log).Warn("poll refresh failed", "error", err)
		return
	}
	logging.FromContext(ctx, c.log).Debug("poll refresh", "new", len(evts))
}

// StopPolling cancels polling and waits for a running refresh to return
func (c *Client) StopPolling() {
	c.pollMu.Lock()
	sched, cancel := c.cron, c.pollCancel
	c.cron, c.pollCancel = nil, nil
	c.pollMu.Unlock()

	if sched == nil {
		return
	}
	cancel()
	<-sched.Stop().Done()
	c.log.Info("polling stopped")
}

// Polling reports whether polling is active
func (c *Client) Polling() bool {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	return c.cron != nil
}
