package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/pthm-cable/swarmlab/components"
	"github.com/pthm-cable/swarmlab/config"
	"github.com/pthm-cable/swarmlab/sim"
	"github.com/pthm-cable/swarmlab/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation headless",
		Long: `Run a single simulation until sim.duration_ticks, sim.max_wall_clock
or an interrupt.

Examples:
  swarmlab run --scenario flocking --max-ticks 600
  swarmlab run --scenario ecosystem --seed 42 --output-dir out/eco
  swarmlab run --scenario protector --sqlite runs.db --log-stats`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, scenario, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			seed, _ := cmd.Flags().GetInt64("seed")
			outputDir, _ := cmd.Flags().GetString("output-dir")
			sqlitePath, _ := cmd.Flags().GetString("sqlite")
			logStats, _ := cmd.Flags().GetBool("log-stats")
			jsonOut, _ := cmd.Flags().GetBool("json")

			// Resolved here so the sqlite run row carries the seed actually used.
			if seed == 0 {
				seed = cfg.Sim.RNGSeed
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}

			output, err := telemetry.NewOutputManager(outputDir)
			if err != nil {
				return fmt.Errorf("failed to create output: %w", err)
			}

			opts := sim.Options{
				Scenario: scenario,
				Seed:     seed,
				Output:   output,
				LogStats: logStats,
			}

			var db *telemetry.SQLiteSink
			if sqlitePath != "" {
				yml, err := cfg.YAML()
				if err != nil {
					output.Close()
					return err
				}
				db, err = telemetry.OpenSQLite(sqlitePath, telemetry.RunInfo{
					Scenario: scenario,
					Seed:     seed,
					Config:   string(yml),
				})
				if err != nil {
					output.Close()
					return fmt.Errorf("failed to open sqlite: %w", err)
				}
				opts.Sink = db
				slog.Info("recording to sqlite", "path", sqlitePath, "run_id", db.RunID())
			}

			s, err := sim.New(cfg, opts)
			if err != nil {
				output.Close()
				if db != nil {
					db.Close()
				}
				return err
			}

			sum, runErr := s.Run(cmd.Context())
			if err := s.Close(); err != nil && runErr == nil {
				runErr = fmt.Errorf("failed to close outputs: %w", err)
			}
			if runErr != nil {
				return runErr
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(sum)
			}
			printSummary(cmd.OutOrStdout(), sum, s.Perf())
			if dir := output.Dir(); dir != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Output written to %s\n", dir)
			}
			return nil
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().Int64("seed", 0, "RNG seed (0 = sim.rng_seed, then time-based)")
	cmd.Flags().String("output-dir", "", "Directory for CSV output and bookmark snapshots")
	cmd.Flags().String("sqlite", "", "SQLite database to record the run into")
	cmd.Flags().Bool("log-stats", false, "Log window statistics")
	return cmd
}

func printSummary(w io.Writer, sum sim.Summary, perf telemetry.PerfStats) {
	fmt.Fprintf(w, "Run finished (%s) after %s ticks in %s, seed %d\n",
		sum.Stop, humanize.Comma(sum.Ticks), sum.Elapsed.Round(time.Millisecond), sum.Seed)

	kinds := make([]string, 0, len(sum.Counts))
	for k, n := range sum.Counts {
		if n > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-10s %s\n", k, humanize.Comma(int64(sum.Counts[k])))
	}

	if sum.Count(components.KindPrey) > 0 || sum.Count(components.KindPredator) > 0 || sum.CoexistenceTicks > 0 {
		fmt.Fprintf(w, "  coexistence %s ticks\n", humanize.Comma(sum.CoexistenceTicks))
	}
	if sum.Bookmarks > 0 {
		fmt.Fprintf(w, "  bookmarks  %d\n", sum.Bookmarks)
	}
	if perf.Samples > 0 {
		fmt.Fprintf(w, "  throughput %s ticks/s\n", humanize.CommafWithDigits(perf.TicksPerSecond, 0))
		if ph, ok := perf.Phase("behavior"); ok && ph.ItemsPerSecond > 0 {
			fmt.Fprintf(w, "  behavior   %s agents/s (%.0f%% of tick)\n",
				humanize.CommafWithDigits(ph.ItemsPerSecond, 0), ph.Share*100)
		}
	}
}

// describeInitial lists a config's initial population, e.g. "60 prey, 20 predator".
func describeInitial(cfg *config.Config) string {
	var parts []string
	for _, k := range components.Kinds() {
		if n := cfg.Derived.Initial[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", humanize.Comma(int64(n)), k))
		}
	}
	if len(cfg.Ecosystem.CastleCenters) > 0 {
		parts = append(parts, english.Plural(len(cfg.Ecosystem.CastleCenters), "shelter", ""))
	}
	return strings.Join(parts, ", ")
}
