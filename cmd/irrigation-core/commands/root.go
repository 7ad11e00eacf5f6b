// Package commands holds the CLI surface of the irrigation engine.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

// Execute runs the root command.
func Execute(ctx context.Context, version, commit string) error {
	rootCmd := newRootCommand(version, commit)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "irrigation-core",
		Short: "Weather and soil moisture aware irrigation decision engine",
		Long: `irrigation-core adjusts irrigation controller run durations from
weather rules and soil moisture probe gradients, and coordinates probe
sleep schedules around the projected watering timeline.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(newRunCommand())

	return rootCmd
}
