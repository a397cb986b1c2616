package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nostr-greet/internal/nostr"
	"nostr-greet/internal/types"
)

func init() {
	rootCmd.AddCommand(feedCmd, threadCmd)

	feedCmd.Flags().Bool("reset", false, "start over from the newest page")
	feedCmd.Flags().Int("more", 0, "number of older pages to load after the first")
	feedCmd.Flags().Int("limit", 0, "page size (defaults to page_size from the config)")
	feedCmd.Flags().String("author", "", "show one author's notes instead of the follow feed")
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the home feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reset, _ := cmd.Flags().GetBool("reset")
		more, _ := cmd.Flags().GetInt("more")
		limit, _ := cmd.Flags().GetInt("limit")
		author, _ := cmd.Flags().GetString("author")

		cfg := loadConfig()
		if limit > 0 {
			cfg.PageSize = limit
		}
		c, err := session(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		f := c.FollowFeed()
		if author != "" {
			pk, err := nostr.DecodePublicKey(author)
			if err != nil {
				return err
			}
			f = types.Filter{Authors: []string{pk}, Kinds: []int{types.KindTextNote, types.KindRepost}}
		}

		evts, err := c.RefreshFeed(cmd.Context(), f, reset)
		if err != nil {
			return fmt.Errorf("refresh feed: %w", err)
		}
		for i := 0; i < more; i++ {
			page, err := c.LoadMore(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("load more: %w", err)
			}
			if len(page) == 0 {
				break
			}
			evts = append(evts, page...)
		}

		if len(evts) == 0 {
			fmt.Println("Nothing to show.")
			return nil
		}
		printEvents(os.Stdout, c.Contacts(), evts)
		return nil
	},
}

var threadCmd = &cobra.Command{
	Use:   "thread <event-id>",
	Short: "Show an event with the events it tags and the events replying to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session(cmd.Context(), loadConfig())
		if err != nil {
			return err
		}
		defer c.Close()

		id := args[0]
		tagged, err := c.GetTaggedEvents(cmd.Context(), id)
		if err != nil {
			return err
		}
		profiles, err := c.GetTaggedProfiles(cmd.Context(), id)
		if err != nil {
			return err
		}
		replies, err := c.GetReferencingEvents(cmd.Context(), types.TagFilter{Name: "e", Values: []string{id}})
		if err != nil {
			return err
		}

		if root, ok := c.Store().Get(id); ok {
			printEvents(os.Stdout, c.Contacts(), []*types.Event{root})
		}
		if len(profiles) > 0 {
			fmt.Println(nameColor("Mentions"))
			for _, p := range profiles {
				fmt.Printf("  %s %s\n", p.Meta.BestName(nostr.ShortID(p.Npub)), dimColor("%s", p.Npub))
			}
			fmt.Println()
		}
		if len(tagged) > 0 {
			fmt.Println(nameColor("References"))
			printEvents(os.Stdout, c.Contacts(), tagged)
		}
		if len(replies) > 0 {
			fmt.Println(nameColor("Replies"))
			printEvents(os.Stdout, c.Contacts(), replies)
		}
		return nil
	},
}
