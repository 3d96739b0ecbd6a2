// Command swarmlab runs flocking, aggregation and predator/prey simulations
// headless, sweeps and tunes their parameters, and streams live runs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/swarmlab/config"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := newRootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "swarmlab",
		Short: "Swarm and ecosystem simulator",
		Long: `swarmlab simulates flocking, zone aggregation and predator/prey
populations with shelters on a wrapped 2D world.

Runs are headless and deterministic for a given seed. Every run can record
its per-tick snapshot stream to CSV or SQLite, and window statistics with
bookmarks of notable events.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			return setupLogging(level)
		},
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newScenariosCmd(),
		newRunCmd(),
		newSweepCmd(),
		newTuneCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// setupLogging installs a JSON slog handler on stdout at the given level.
func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// addConfigFlags registers the flags every simulating command shares.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("scenario", "ecosystem", "Scenario preset ("+strings.Join(config.Scenarios(), ", ")+")")
	cmd.Flags().String("config", "", "Config YAML layered over the scenario")
	cmd.Flags().Int("max-ticks", 0, "Override sim.duration_ticks (0 = keep config value)")
}

// loadConfig resolves --scenario, --config and --max-ticks.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	scenario, _ := cmd.Flags().GetString("scenario")
	path, _ := cmd.Flags().GetString("config")
	maxTicks, _ := cmd.Flags().GetInt("max-ticks")

	cfg, err := config.LoadScenario(scenario, path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if maxTicks > 0 {
		cfg.Sim.DurationTicks = maxTicks
	}
	return cfg, scenario, nil
}
