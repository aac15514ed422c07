// Package commands implements the CLI commands for the cloudrove server.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cloudrove",
	Short: "cloudrove - multi-tenant file storage over S3",
	Long: `cloudrove is a multi-tenant cloud storage service over any
S3-compatible object store. It layers a directory tree, encrypted and
hidden folders, archive extraction/creation, antivirus scanning, and
usage accounting on top of a flat bucket, and exposes it all through a
JWT-authenticated REST API.

Use "cloudrove [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cloudrove/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cloudrove %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
