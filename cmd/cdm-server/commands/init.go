package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rialto-project/cdm-server/internal/cli/prompt"
	"github.com/rialto-project/cdm-server/internal/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample cdm-server configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/cdm-server/config.yaml, populated entirely with defaults.
Use --config to specify a custom path, or --interactive to be prompted for
the listen socket path, metrics port, and supported key systems instead of
accepting the defaults.

Examples:
  # Initialize with default location
  cdm-server init

  # Initialize interactively
  cdm-server init --interactive

  # Initialize with custom path
  cdm-server init --config /etc/cdm-server/config.yaml

  # Force overwrite existing config
  cdm-server init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for key settings instead of accepting defaults")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.Defaults()
	if initInteractive {
		if err := promptForConfig(cfg); err != nil {
			return HandleAbort(err)
		}
	}

	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	if err := config.SaveConfigIfAbsent(cfg, configPath, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to set the key systems and OCDM library search paths this server should serve")
	fmt.Println("  2. Start the server with: cdm-server serve")
	fmt.Printf("  3. Or specify a custom config: cdm-server serve --config %s\n", configPath)

	return nil
}

// promptForConfig asks the operator for the settings most deployments need
// to change, leaving everything else at its default.
func promptForConfig(cfg *config.Config) error {
	socketPath, err := prompt.Input("Listen socket path", cfg.Server.ListenSocketPath)
	if err != nil {
		return err
	}
	cfg.Server.ListenSocketPath = socketPath

	port, err := prompt.InputPort("Metrics/admin port", cfg.Metrics.Port)
	if err != nil {
		return err
	}
	cfg.Metrics.Port = port

	keySystems, err := prompt.Input("Supported key systems (comma-separated)", strings.Join(cfg.Drm.SupportedKeySystems, ","))
	if err != nil {
		return err
	}
	cfg.Drm.SupportedKeySystems = splitAndTrim(keySystems)

	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p := strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
