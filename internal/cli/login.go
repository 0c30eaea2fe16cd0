package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dealhound/crawler/internal/auth"
	"github.com/dealhound/crawler/internal/ui"
)

var (
	loginKey    string
	loginSecret string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store storefront API credentials in the OS keyring",
	Example: `  dealhound login --key AKFX... --secret s3cr3t...
  dealhound login --account staging --key AKFX... --secret s3cr3t...`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		account, _ := cmd.Flags().GetString("account")
		if err := auth.Store(account, auth.Credentials{Key: loginKey, Secret: loginSecret}); err != nil {
			return err
		}
		fmt.Printf("%s credentials stored for account %q\n", ui.Success("✓"), account)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials from the OS keyring",
	RunE: func(cmd *cobra.Command, _ []string) error {
		account, _ := cmd.Flags().GetString("account")
		if err := auth.Delete(account); err != nil {
			return err
		}
		fmt.Printf("%s credentials removed for account %q\n", ui.Success("✓"), account)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginKey, "key", "", "Storefront API key")
	loginCmd.Flags().StringVar(&loginSecret, "secret", "", "Storefront API secret")
	_ = loginCmd.MarkFlagRequired("key")
	_ = loginCmd.MarkFlagRequired("secret")

	rootCmd.AddCommand(loginCmd, logoutCmd)
}
