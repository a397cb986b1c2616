package main

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"nostr-greet/internal/nostr"
)

func init() {
	rootCmd.AddCommand(whoamiCmd, keygenCmd)

	whoamiCmd.Flags().String("qr", "", "write the npub as a QR code PNG to this file")
	keygenCmd.Flags().Bool("save", false, "store the new key in the config file")
	keygenCmd.Flags().Bool("force", false, "replace a key already in the config file")
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the configured identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		qrPath, _ := cmd.Flags().GetString("qr")

		cfg := loadConfig()
		if cfg.PrivKey == "" {
			return fmt.Errorf("no private key configured in %s", cfg.Path())
		}
		signer, err := nostr.NewKeySigner(cfg.PrivKey)
		if err != nil {
			return err
		}
		npub := nostr.EncodeNpub(signer.PublicKey())
		fmt.Printf("%s\n%s\n", nameColor("%s", npub), dimColor("%s", signer.PublicKey()))

		if qrPath == "" {
			return nil
		}
		png, err := qrcode.Encode("nostr:"+npub, qrcode.Medium, 256)
		if err != nil {
			return fmt.Errorf("encode qr code: %w", err)
		}
		if err := os.WriteFile(qrPath, png, 0o644); err != nil {
			return err
		}
		fmt.Printf("QR code written to %s\n", qrPath)
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new private key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		save, _ := cmd.Flags().GetBool("save")
		force, _ := cmd.Flags().GetBool("force")

		signer, err := nostr.GenerateKeySigner()
		if err != nil {
			return err
		}
		nsec, err := nostr.EncodeNsec(signer.PrivateKeyHex())
		if err != nil {
			return err
		}

		if !save {
			fmt.Printf("nsec: %s\nnpub: %s\n", nsec, nostr.EncodeNpub(signer.PublicKey()))
			return nil
		}

		cfg := loadConfig()
		if cfg.PrivKey != "" && !force {
			return fmt.Errorf("%s already holds a key, use --force to replace it", cfg.Path())
		}
		cfg.PrivKey = nsec
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("Key saved to %s\nnpub: %s\n", cfg.Path(), nostr.EncodeNpub(signer.PublicKey()))
		return nil
	},
}
