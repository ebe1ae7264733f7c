// Package cli provides the command-line interface for strand.
package cli

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/strand/internal/client"
	"github.com/raphaelgruber/strand/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	asUser    string
	verbose   bool

	// Global gateway client
	api *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "strand",
	Short: "Terminal chat with offline-tolerant sync",
	Long: `Strand is a terminal chat client backed by the strand gateway.

Messages appear instantly while they upload, survive reconnects and
flaky networks, and settle into delivered and read states as recipients
catch up. Conversations can answer common questions automatically while
their owner is away.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip client setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		if serverURL == "" {
			serverURL = config.Load().ServerURL
		}
		api = client.New(serverURL)

		if asUser == "" {
			asUser = os.Getenv("STRAND_USER")
		}

		return nil
	},
}

// requireUser returns the acting user id. Every command that touches a
// conversation acts on behalf of a participant and needs one.
func requireUser() (string, error) {
	if asUser == "" {
		return "", fmt.Errorf("no user id: pass --user or set STRAND_USER")
	}
	return asUser, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "gateway base URL (default $STRAND_SERVER_URL or http://localhost:8787)")
	rootCmd.PersistentFlags().StringVarP(&asUser, "user", "u", "", "acting user id (default $STRAND_USER)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(statsCmd)
}
