package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/previewd/previewd/internal/config"
	"github.com/previewd/previewd/internal/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the active configuration",
	Example: `  # Print the resolved configuration
  previewd config`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	logger.Init("warn", true)

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("Config file: %s\n\n", configMgr.Path())
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(configMgr.Get())
}
