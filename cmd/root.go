package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yunogate/yunogate/cmd/users"
	"github.com/yunogate/yunogate/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "yunogate",
	Short: "SSO trust-verification bridge for proxy-authenticated apps",
	Long: `yunogate sits behind a YunoHost-style SSO reverse proxy and turns its
identity assertions into local users and sessions. Every request is verified
against all redundant assertion channels before a user is trusted.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: SERVER_ADDR)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: DEBUG)")

	rootCmd.AddCommand(users.UsersCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
