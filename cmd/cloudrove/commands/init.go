package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudrove/cloudrove/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample cloudrove configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/cloudrove/config.yaml. Use --config to specify a
custom path.

Examples:
  # Initialize with default location
  cloudrove init

  # Initialize with custom path
  cloudrove init --config /etc/cloudrove/config.yaml

  # Force overwrite existing config
  cloudrove init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Point storage.bucket at your S3 bucket and set credentials")
	fmt.Println("  2. Start the server with: cloudrove serve")
	fmt.Printf("  3. Or specify custom config: cloudrove serve --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random JWT secret has been generated for development use.")
	fmt.Println("  For production, generate a secure secret and use an environment variable:")
	fmt.Println("    # Generates a 64-character hex string (32 bytes of entropy)")
	fmt.Println("    export CLOUDROVE_AUTH_SECRET=$(openssl rand -hex 32)")

	return nil
}
