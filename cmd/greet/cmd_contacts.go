package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/types"
)

func init() {
	rootCmd.AddCommand(followCmd, unfollowCmd, profileCmd, contactsCmd)
}

func decodePubKeys(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		pk, err := nostr.DecodePublicKey(a)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

var followCmd = &cobra.Command{
	Use:   "follow <npub|hex>...",
	Short: "Add pubkeys to your contact list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pks, err := decodePubKeys(args)
		if err != nil {
			return err
		}
		c, err := session(cmd.Context(), loadConfig())
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.FollowContact(cmd.Context(), pks...)
		if res == nil && err == nil {
			fmt.Println("Already following.")
			return nil
		}
		if res != nil {
			printResult(res)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Following %d accounts.\n", len(c.Contacts().Follows()))
		return nil
	},
}

var unfollowCmd = &cobra.Command{
	Use:   "unfollow <npub|hex>",
	Short: "Remove a pubkey from your contact list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pk, err := nostr.DecodePublicKey(args[0])
		if err != nil {
			return err
		}
		c, err := session(cmd.Context(), loadConfig())
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.UnfollowContact(cmd.Context(), pk)
		if res == nil && err == nil {
			fmt.Println("Not following.")
			return nil
		}
		if res != nil {
			printResult(res)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Following %d accounts.\n", len(c.Contacts().Follows()))
		return nil
	},
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func printProfile(p types.Profile) {
	table := newTable(os.Stdout, "Field", "Value")
	rows := [][]string{
		{"npub", p.Npub},
		{"pubkey", p.PK},
		{"name", optional(p.Meta.Name)},
		{"display name", optional(p.Meta.DisplayName)},
		{"about", optional(p.Meta.About)},
		{"picture", optional(p.Meta.Picture)},
		{"website", optional(p.Meta.Website)},
		{"nip05", optional(p.Meta.NIP05)},
		{"lud16", optional(p.Meta.Lud16)},
		{"following", yesNo(p.Following)},
	}
	for _, u := range p.Relays {
		rows = append(rows, []string{"relay", u})
	}
	table.AppendBulk(rows)
	table.Render()
}

var profileCmd = &cobra.Command{
	Use:   "profile [npub|hex]",
	Short: "Show a profile (your own by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session(cmd.Context(), loadConfig())
		if err != nil {
			return err
		}
		defer c.Close()

		pk := c.Self()
		if len(args) == 1 {
			if pk, err = nostr.DecodePublicKey(args[0]); err != nil {
				return err
			}
		}
		p, err := c.GetContactProfile(cmd.Context(), pk)
		if err != nil {
			return err
		}
		printProfile(p)
		return nil
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts [npub|hex]",
	Short: "List the accounts a pubkey follows (yours by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session(cmd.Context(), loadConfig())
		if err != nil {
			return err
		}
		defer c.Close()

		pk := c.Self()
		if len(args) == 1 {
			if pk, err = nostr.DecodePublicKey(args[0]); err != nil {
				return err
			}
		}
		pks, err := c.GetContactList(cmd.Context(), pk)
		if err != nil {
			return err
		}
		if len(pks) == 0 {
			fmt.Println("No contacts.")
			return nil
		}

		// concurrent lookups share metadata batches
		profiles := make([]types.Profile, len(pks))
		g, gctx := errgroup.WithContext(cmd.Context())
		for i, f := range pks {
			i, f := i, f
			g.Go(func() error {
				p, err := c.GetContactProfile(gctx, f)
				profiles[i] = p
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		table := newTable(os.Stdout, "Name", "Npub", "Updated")
		for _, p := range profiles {
			updated := "-"
			if _, ts, ok := c.Contacts().Metadata(p.PK); ok {
				updated = when(ts)
			}
			table.Append([]string{p.Meta.BestName(""), p.Npub, updated})
		}
		table.Render()
		return nil
	},
}
