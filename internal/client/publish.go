package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"nostr-greet/internal/logging"
	"nostr-greet/internal/nostr"
	"nostr-greet/internal/publish"
	"nostr-greet/internal/types"
)

// writeTargets lists every enabled write relay, connected or not, so that
// offline ones show up as unavailable in the result.
func (c *Client) writeTargets() []string {
	var out []string
	for _, rc := range c.pool.Relays() {
		if rc.Writable() {
			out = append(out, rc.URL)
		}
	}
	return out
}

func (c *Client) signAndPublish(ctx context.Context, signer nostr.Signer, evt *types.Event, targets []string) (publish.Result, error) {
	if err := signer.Sign(evt); err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}
	res, err := c.publisher.Publish(ctx, evt, targets)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx, c.log).Debug("publish result", "event_id", nostr.ShortID(evt.ID), "result", res.String())
	if !res.AnyOK() {
		return res, ErrNotPublished
	}
	return res, nil
}

func (c *Client) newEvent(content string, tags [][]string, kind int) *types.Event {
	if tags == nil {
		tags = [][]string{}
	}
	return &types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}

// PostEvent signs a new event and publishes it to every write relay. The
// event is returned even when no relay accepted it.
func (c *Client) PostEvent(ctx context.Context, content string, tags [][]string, kind int) (*types.Event, publish.Result, error) {
	signer, err := c.requireSigner()
	if err != nil {
		return nil, nil, err
	}
	evt := c.newEvent(content, tags, kind)
	res, err := c.signAndPublish(logging.WithOp(ctx), signer, evt, c.writeTargets())
	if evt.ID == "" {
		return nil, nil, err
	}
	return evt, res, err
}

// PublishContentToSelectedRelays is PostEvent limited to relays. Relays
// that are not configured for writing end up unavailable.
func (c *Client) PublishContentToSelectedRelays(ctx context.Context, content string, tags [][]string, kind int, relays []string) (*types.Event, publish.Result, error) {
	signer, err := c.requireSigner()
	if err != nil {
		return nil, nil, err
	}
	evt := c.newEvent(content, tags, kind)
	res, err := c.signAndPublish(logging.WithOp(ctx), signer, evt, relays)
	if evt.ID == "" {
		return nil, nil, err
	}
	return evt, res, err
}

// RetractEvent evicts id from the local store. With announce it also
// publishes a deletion request for it, which only works for the user's
// own events. The eviction happens either way.
func (c *Client) RetractEvent(ctx context.Context, id string, announce bool) (publish.Result, error) {
	evt, known := c.store.Get(id)

	var res publish.Result
	var err error
	if announce {
		var signer nostr.Signer
		signer, err = c.requireSigner()
		if err != nil {
			return nil, err
		}
		if known && evt.PubKey != signer.PublicKey() {
			return nil, fmt.Errorf("cannot request deletion of %s: not authored by the user", nostr.ShortID(id))
		}
		tags := [][]string{{"e", id}}
		if known {
			tags = append(tags, []string{"k", strconv.Itoa(evt.Kind)})
		}
		res, err = c.signAndPublish(logging.WithOp(ctx), signer, c.newEvent("", tags, types.KindDeletion), c.writeTargets())
	}

	if c.store.Delete(id) {
		c.log.Debug("event retracted locally", "event_id", nostr.ShortID(id))
	}
	return res, err
}
