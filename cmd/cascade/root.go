package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Parallel task execution from a dependency plan",
	Long: `Cascade executes a plan of interdependent tasks by spawning one
agent subprocess per task, up to a concurrency limit, respecting the
dependency graph.

Tasks come from a CASCADE.md plan file or from an issue tracker epic.
Progress is written to a JSON state file that other processes can read
while the run is in flight.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: cascade.yaml, then ~/.config/cascade/config.yaml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(epicCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
