package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nostr-greet/internal/client"
	"nostr-greet/internal/publish"
	"nostr-greet/internal/types"
)

func init() {
	rootCmd.AddCommand(postCmd, retractCmd)

	postCmd.Flags().Int("kind", types.KindTextNote, "event kind")
	postCmd.Flags().StringArray("tag", nil, "tag as name=value[,value...] (repeatable)")
	postCmd.Flags().StringArray("relay", nil, "publish only to this relay (repeatable)")

	retractCmd.Flags().Bool("announce", true, "publish a deletion request to the write relays")
}

// parseTags turns name=v1,v2 flags into event tags
func parseTags(specs []string) ([][]string, error) {
	tags := make([][]string, 0, len(specs))
	for _, s := range specs {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid tag %q, want name=value", s)
		}
		tags = append(tags, append([]string{name}, strings.Split(value, ",")...))
	}
	return tags, nil
}

var postCmd = &cobra.Command{
	Use:   "post <content>",
	Short: "Sign and publish an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetInt("kind")
		tagSpecs, _ := cmd.Flags().GetStringArray("tag")
		relays, _ := cmd.Flags().GetStringArray("relay")

		tags, err := parseTags(tagSpecs)
		if err != nil {
			return err
		}

		c, err := session(cmd.Context(), loadConfig())
		if err != nil {
			return err
		}
		defer c.Close()

		var (
			evt *types.Event
			res publish.Result
		)
		if len(relays) > 0 {
			evt, res, err = c.PublishContentToSelectedRelays(cmd.Context(), args[0], tags, kind, relays)
		} else {
			evt, res, err = c.PostEvent(cmd.Context(), args[0], tags, kind)
		}
		if res != nil {
			printResult(res)
		}
		if errors.Is(err, client.ErrNotPublished) {
			return fmt.Errorf("event %s was not accepted by any relay", evt.ID)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Published %s\n", evt.ID)
		return nil
	},
}

var retractCmd = &cobra.Command{
	Use:   "retract <event-id>",
	Short: "Remove one of your events locally and ask relays to delete it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		announce, _ := cmd.Flags().GetBool("announce")

		c, err := session(cmd.Context(), loadConfig())
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.RetractEvent(cmd.Context(), args[0], announce)
		if res != nil {
			printResult(res)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Event %s retracted.\n", args[0])
		return nil
	},
}
