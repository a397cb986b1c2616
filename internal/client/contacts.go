package client

import (
	"context"
	"slices"
	"time"

	"nostr-greet/internal/logging"
	"nostr-greet/internal/nostr"
	"nostr-greet/internal/publish"
	"nostr-greet/internal/types"
)

// RefreshContactProfiles fetches the user's contact list and relay list,
// then the metadata of the user and everyone they follow.
func (c *Client) RefreshContactProfiles(ctx context.Context) error {
	signer, err := c.requireSigner()
	if err != nil {
		return err
	}
	self := signer.PublicKey()
	log := logging.FromContext(ctx, c.log)

	if _, err := c.fetch(ctx, types.Filter{
		Authors: []string{self},
		Kinds:   []int{types.KindContactList, types.KindRelayList},
	}); err != nil {
		return err
	}

	authors := append(c.contacts.Follows(), self)
	if _, err := c.fetch(ctx, types.Filter{Authors: authors, Kinds: []int{types.KindMetadata}}); err != nil {
		return err
	}
	log.Info("contacts refreshed", "follows", len(authors)-1)
	return nil
}

// GetContactList returns who pubkey (hex or npub) follows, asking the
// relays when no contact list of theirs is stored yet.
func (c *Client) GetContactList(ctx context.Context, pubkey string) ([]string, error) {
	pk, err := nostr.DecodePublicKey(pubkey)
	if err != nil {
		return nil, err
	}
	if _, ok := c.store.Latest(pk, types.KindContactList); !ok {
		if _, err := c.fetch(ctx, types.Filter{Authors: []string{pk}, Kinds: []int{types.KindContactList}}); err != nil {
			return nil, err
		}
	}
	evt, ok := c.store.Latest(pk, types.KindContactList)
	if !ok {
		return []string{}, nil
	}
	g := types.ContactGraph{Contacts: types.ContactsFromTags(evt.Tags)}
	return g.PubKeys(), nil
}

// GetContactProfile returns the profile of pubkey (hex or npub). Missing
// metadata is fetched, batched with other lookups running at the same
// time. An author without any metadata still gets a profile.
func (c *Client) GetContactProfile(ctx context.Context, pubkey string) (types.Profile, error) {
	pk, err := nostr.DecodePublicKey(pubkey)
	if err != nil {
		return types.Profile{}, err
	}
	if err := c.ensureMetadata(ctx, []string{pk}); err != nil {
		return types.Profile{}, err
	}
	return c.contacts.Profile(pk), nil
}

// ensureMetadata fetches metadata for the pubkeys the cache knows nothing
// about, skipping those recently looked up in vain.
func (c *Client) ensureMetadata(ctx context.Context, pks []string) error {
	var missing []string
	for _, pk := range pks {
		if c.contacts.HasMetadata(pk) || slices.Contains(missing, pk) {
			continue
		}
		if v, ok := c.missing.Get(pk); ok && time.Since(v.(time.Time)) < missingProfileTTL {
			continue
		}
		missing = append(missing, pk)
	}
	if len(missing) == 0 {
		return nil
	}
	_, err := c.profiles.GetMultiple(ctx, missing)
	return err
}

// fetchMetadataBatch is the profile batcher's fetch: one query for every
// pending pubkey. Lookups that found nothing are remembered for a while.
func (c *Client) fetchMetadataBatch(pks []string) map[string]bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.QueryTimeout.Std()+time.Second)
	defer cancel()

	if _, err := c.fetch(ctx, types.Filter{Authors: pks, Kinds: []int{types.KindMetadata}}); err != nil {
		c.log.Debug("metadata batch failed", "keys", len(pks), "error", err)
	}

	found := make(map[string]bool, len(pks))
	now := time.Now()
	for _, pk := range pks {
		found[pk] = c.contacts.HasMetadata(pk)
		if !found[pk] {
			c.missing.Add(pk, now)
		}
	}
	return found
}

// FollowContact adds pubkeys (hex or npub) to the contact list and
// publishes the whole new list. Already followed keys are ignored; with
// nothing to add no event is published and the result is nil.
func (c *Client) FollowContact(ctx context.Context, pubkeys ...string) (publish.Result, error) {
	var add []types.Contact
	for _, p := range pubkeys {
		pk, err := nostr.DecodePublicKey(p)
		if err != nil {
			return nil, err
		}
		add = append(add, types.Contact{PubKey: pk})
	}
	return c.updateContactList(ctx, func(g *types.ContactGraph) bool {
		changed := false
		for _, ct := range add {
			if !slices.ContainsFunc(g.Contacts, func(x types.Contact) bool { return x.PubKey == ct.PubKey }) {
				g.Contacts = append(g.Contacts, ct)
				changed = true
			}
		}
		return changed
	})
}

// UnfollowContact removes pubkey (hex or npub) from the contact list and
// publishes the new list. Relay hints and petnames of the others are kept.
func (c *Client) UnfollowContact(ctx context.Context, pubkey string) (publish.Result, error) {
	pk, err := nostr.DecodePublicKey(pubkey)
	if err != nil {
		return nil, err
	}
	return c.updateContactList(ctx, func(g *types.ContactGraph) bool {
		n := len(g.Contacts)
		g.Contacts = slices.DeleteFunc(g.Contacts, func(x types.Contact) bool { return x.PubKey == pk })
		return len(g.Contacts) != n
	})
}

func (c *Client) updateContactList(ctx context.Context, edit func(*types.ContactGraph) bool) (publish.Result, error) {
	signer, err := c.requireSigner()
	if err != nil {
		return nil, err
	}
	ctx = logging.WithOp(ctx)

	// held until the new list is stored, so the next edit builds on it
	c.contactsMu.Lock()
	defer c.contactsMu.Unlock()

	// never build on top of nothing when relays may have a list
	if c.contacts.Graph().EventID == "" {
		if _, err := c.fetch(ctx, types.Filter{
			Authors: []string{signer.PublicKey()},
			Kinds:   []int{types.KindContactList},
		}); err != nil {
			return nil, err
		}
	}

	g := c.contacts.Graph()
	if !edit(&g) {
		return nil, nil
	}

	createdAt := time.Now().Unix()
	if createdAt <= g.CreatedAt {
		createdAt = g.CreatedAt + 1
	}
	content := ""
	if prev, ok := c.store.Latest(signer.PublicKey(), types.KindContactList); ok {
		content = prev.Content
	}

	evt := &types.Event{
		CreatedAt: createdAt,
		Kind:      types.KindContactList,
		Tags:      g.Tags(),
		Content:   content,
	}
	return c.signAndPublish(ctx, signer, evt, c.writeTargets())
}
