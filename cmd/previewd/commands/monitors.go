package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/previewd/previewd/internal/logger"
	"github.com/previewd/previewd/internal/monitor"
)

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List connected monitors",
	Long: `List all connected monitors and their geometry.

This command connects to the display server and prints every output
that currently drives a display, with the identifier used to address
it in preview sessions.`,
	Example: `  # List monitors in table format (default)
  previewd monitors

  # List monitors in JSON format
  previewd monitors --format json`,
	RunE: runMonitors,
}

var monitorsFormat string

func init() {
	rootCmd.AddCommand(monitorsCmd)

	monitorsCmd.Flags().StringVarP(&monitorsFormat, "format", "f", "table", "output format (table or json)")
}

func runMonitors(cmd *cobra.Command, args []string) error {
	logger.Init("warn", true)

	locator, err := monitor.NewLocator()
	if err != nil {
		return fmt.Errorf("failed to connect to display server: %w", err)
	}
	defer locator.Close()

	monitors, err := locator.List()
	if err != nil {
		return fmt.Errorf("failed to enumerate monitors: %w", err)
	}

	switch monitorsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(monitors)
	case "table":
		return printMonitorsTable(monitors)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", monitorsFormat)
	}
}

func printMonitorsTable(monitors []monitor.Descriptor) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tGEOMETRY\tSCALE\tROTATION\tPRIMARY")
	fmt.Fprintln(w, "--\t--------\t-----\t--------\t-------")

	for _, m := range monitors {
		primary := "No"
		if m.Primary {
			primary = "Yes"
		}
		fmt.Fprintf(w, "%s\t%dx%d+%d+%d\t%.2f\t%d°\t%s\n",
			m.StableKey(),
			m.Bounds.Dx(), m.Bounds.Dy(), m.Bounds.Min.X, m.Bounds.Min.Y,
			m.ScaleFactor, m.Rotation, primary)
	}

	return nil
}
