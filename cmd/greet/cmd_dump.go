package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"nostr-greet/internal/types"
)

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().Bool("feed", false, "refresh the home feed before dumping")
	dumpCmd.Flags().IntSlice("kind", nil, "only dump events of these kinds, newest first")
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every event in the local store as JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withFeed, _ := cmd.Flags().GetBool("feed")
		kinds, _ := cmd.Flags().GetIntSlice("kind")

		c, err := session(cmd.Context(), loadConfig())
		if err != nil {
			return err
		}
		defer c.Close()

		if withFeed {
			if _, err := c.RefreshFeed(cmd.Context(), c.FollowFeed(), false); err != nil {
				return err
			}
		}

		evts := c.DumpEvents()
		if len(kinds) > 0 {
			evts = c.Store().Query(types.Filter{Kinds: kinds})
		}

		enc := json.NewEncoder(os.Stdout)
		for _, e := range evts {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	},
}
