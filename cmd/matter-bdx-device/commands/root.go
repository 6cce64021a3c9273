// Package commands implements the matter-bdx-device CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile string
)

// DefaultConfigFile is used when --config is not given.
const DefaultConfigFile = "matter-bdx.yaml"

var rootCmd = &cobra.Command{
	Use:   "matter-bdx-device",
	Short: "Matter BDX device - diagnostic logs and OTA images over BDX",
	Long: `matter-bdx-device hosts the Diagnostic Logs and OTA Software Update
Provider clusters of a Matter node and moves their payloads over the Bulk
Data Exchange protocol.

Configuration is read from --config (default ./matter-bdx.yaml) and can be
overridden with MATTER_BDX_<SECTION>_<KEY> environment variables, e.g.
MATTER_BDX_LOGGING_LEVEL=debug.

Use "matter-bdx-device [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./"+DefaultConfigFile+")")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(otaCmd)
	rootCmd.AddCommand(simulateCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("matter-bdx-device %s (commit: %s)\n", Version, Commit)
	},
}
