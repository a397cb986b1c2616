package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nostr-greet/internal/config"
	"nostr-greet/internal/nostr"
	"nostr-greet/internal/relay"
	"nostr-greet/internal/types"
)

func init() {
	rootCmd.AddCommand(relaysCmd)
	relaysCmd.AddCommand(relaysListCmd, relaysAddCmd, relaysRemoveCmd, relaysInfoCmd)

	relaysListCmd.Flags().Bool("status", false, "connect and show each relay's connection state")
	relaysAddCmd.Flags().Bool("read", true, "query this relay")
	relaysAddCmd.Flags().Bool("write", true, "publish to this relay")
	relaysAddCmd.Flags().Bool("disabled", false, "add the relay switched off")
}

// saveRelays validates cfgs and writes them to the config file
func saveRelays(cfg *config.Config, cfgs []types.RelayConfig) error {
	normalized, err := relay.NormalizeConfigs(cfgs)
	if err != nil {
		return err
	}
	cfg.SetRelays(normalized)
	return cfg.Save()
}

// relayArg accepts bare host names as wss URLs
func relayArg(arg string) (string, error) {
	if !strings.Contains(arg, "://") {
		arg = "wss://" + arg
	}
	return nostr.NormalizeRelayURL(arg)
}

func sameRelay(configured, url string) bool {
	u, err := nostr.NormalizeRelayURL(configured)
	return err == nil && u == url
}

var relaysCmd = &cobra.Command{
	Use:   "relays",
	Short: "Manage relays",
}

var relaysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured relays",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withStatus, _ := cmd.Flags().GetBool("status")
		cfg := loadConfig()

		relays := cfg.RelayConfigs()
		var status map[string]relay.Status
		if withStatus {
			c, err := session(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()
			relays = c.GetRelays()
			status = c.RelayStatus()
		}
		if len(relays) == 0 {
			fmt.Println("No relays configured, the defaults are used on first login.")
			return nil
		}

		header := []string{"URL", "Read", "Write", "Enabled"}
		if withStatus {
			header = append(header, "Status")
		}
		table := newTable(os.Stdout, header...)
		for _, rc := range relays {
			row := []string{rc.URL, yesNo(rc.Read), yesNo(rc.Write), yesNo(rc.Enabled)}
			if withStatus {
				s := "-"
				if st, ok := status[rc.URL]; ok {
					s = statusText(st)
				}
				row = append(row, s)
			}
			table.Append(row)
		}
		table.Render()
		return nil
	},
}

var relaysAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a relay or update its flags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		read, _ := cmd.Flags().GetBool("read")
		write, _ := cmd.Flags().GetBool("write")
		disabled, _ := cmd.Flags().GetBool("disabled")

		url, err := relayArg(args[0])
		if err != nil {
			return err
		}
		cfg := loadConfig()
		entry := types.RelayConfig{URL: url, Read: read, Write: write, Enabled: !disabled}

		relays := cfg.RelayConfigs()
		replaced := false
		for i, rc := range relays {
			if sameRelay(rc.URL, url) {
				relays[i] = entry
				replaced = true
			}
		}
		if !replaced {
			relays = append(relays, entry)
		}
		if err := saveRelays(cfg, relays); err != nil {
			return err
		}
		fmt.Printf("Relay %s saved.\n", url)
		return nil
	},
}

var relaysRemoveCmd = &cobra.Command{
	Use:   "remove <url>",
	Short: "Remove a relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := relayArg(args[0])
		if err != nil {
			return err
		}
		cfg := loadConfig()

		var kept []types.RelayConfig
		for _, rc := range cfg.RelayConfigs() {
			if !sameRelay(rc.URL, url) {
				kept = append(kept, rc)
			}
		}
		if len(kept) == len(cfg.RelayConfigs()) {
			return fmt.Errorf("relay %s is not configured", url)
		}
		if err := saveRelays(cfg, kept); err != nil {
			return err
		}
		fmt.Printf("Relay %s removed.\n", url)
		return nil
	},
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, ", ")
}

var relaysInfoCmd = &cobra.Command{
	Use:   "info <url>",
	Short: "Show a relay's NIP-11 information document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := relay.FetchInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		table := newTable(os.Stdout, "Field", "Value")
		table.AppendBulk([][]string{
			{"name", info.Name},
			{"description", info.Description},
			{"pubkey", info.PubKey},
			{"contact", info.Contact},
			{"software", info.Software},
			{"version", info.Version},
			{"supported nips", joinInts(info.SupportedNIPs)},
			{"max subscriptions", strconv.Itoa(info.Limitation.MaxSubscriptions)},
			{"max limit", strconv.Itoa(info.Limitation.MaxLimit)},
			{"auth required", yesNo(info.Limitation.AuthRequired)},
			{"payment required", yesNo(info.Limitation.PaymentRequired)},
		})
		table.Render()
		return nil
	},
}
