package client

import (
	"context"
	"fmt"
	"slices"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/types"
)

// event returns id from the store, asking the relays when it isn't there
func (c *Client) event(ctx context.Context, id string) (*types.Event, error) {
	if e, ok := c.store.Get(id); ok {
		return e, nil
	}
	if _, err := c.fetch(ctx, types.Filter{IDs: []string{id}}); err != nil {
		return nil, err
	}
	if e, ok := c.store.Get(id); ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, nostr.ShortID(id))
}

func uniqueTagValues(e *types.Event, name string) []string {
	var out []string
	for _, v := range e.TagValues(name) {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// GetTaggedEvents returns the events parentID references through "e"
// tags, in tag order. Referenced events missing from the store are
// fetched in one query; those no relay has are left out.
func (c *Client) GetTaggedEvents(ctx context.Context, parentID string) ([]*types.Event, error) {
	parent, err := c.event(ctx, parentID)
	if err != nil {
		return nil, err
	}
	ids := uniqueTagValues(parent, "e")

	var missing []string
	for _, id := range ids {
		if !c.store.Has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if _, err := c.fetch(ctx, types.Filter{IDs: missing}); err != nil {
			return nil, err
		}
	}

	out := make([]*types.Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := c.store.Get(id); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetTaggedProfiles returns the profiles of the pubkeys parentID
// references through "p" tags, in tag order.
func (c *Client) GetTaggedProfiles(ctx context.Context, parentID string) ([]types.Profile, error) {
	parent, err := c.event(ctx, parentID)
	if err != nil {
		return nil, err
	}
	pks := uniqueTagValues(parent, "p")
	if err := c.ensureMetadata(ctx, pks); err != nil {
		return nil, err
	}
	out := make([]types.Profile, len(pks))
	for i, pk := range pks {
		out[i] = c.contacts.Profile(pk)
	}
	return out, nil
}

// GetReferencingEvents asks the relays for events carrying tf, then
// answers from the store's tag index, newest first.
func (c *Client) GetReferencingEvents(ctx context.Context, tf types.TagFilter) ([]*types.Event, error) {
	if tf.Name == "" || len(tf.Values) == 0 {
		return nil, fmt.Errorf("tag filter needs a name and at least one value")
	}
	f := types.Filter{Tags: map[string][]string{tf.Name: tf.Values}}
	if _, err := c.fetch(ctx, f); err != nil {
		return nil, err
	}
	return c.store.Tagged(tf.Name, tf.Values...), nil
}
