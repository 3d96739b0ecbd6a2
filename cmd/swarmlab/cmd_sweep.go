package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/swarmlab/components"
	"github.com/pthm-cable/swarmlab/config"
	"github.com/pthm-cable/swarmlab/sim"
)

// SweepRun is the outcome of one (combination, seed) run.
type SweepRun struct {
	SweepID     string  `csv:"sweep_id" json:"sweep_id"`
	Combo       int     `csv:"combo" json:"combo"`
	Params      string  `csv:"params" json:"params"`
	Seed        int64   `csv:"seed" json:"seed"`
	Ticks       int64   `csv:"ticks" json:"ticks"`
	Prey        int     `csv:"prey" json:"prey"`
	Predators   int     `csv:"predators" json:"predators"`
	Coexistence int64   `csv:"coexistence_ticks" json:"coexistence_ticks"`
	Stop        string  `csv:"stop" json:"stop"`
	Seconds     float64 `csv:"seconds" json:"seconds"`
}

// SweepRow aggregates the runs of one combination over all seeds.
type SweepRow struct {
	SweepID         string  `csv:"sweep_id" json:"sweep_id"`
	Combo           int     `csv:"combo" json:"combo"`
	Params          string  `csv:"params" json:"params"`
	Seeds           int     `csv:"seeds" json:"seeds"`
	PreyMean        float64 `csv:"prey_mean" json:"prey_mean"`
	PreyStd         float64 `csv:"prey_std" json:"prey_std"`
	PredMean        float64 `csv:"pred_mean" json:"pred_mean"`
	PredStd         float64 `csv:"pred_std" json:"pred_std"`
	CoexistenceMean float64 `csv:"coexistence_mean" json:"coexistence_mean"`
	CoexistenceStd  float64 `csv:"coexistence_std" json:"coexistence_std"`
	Survived        int     `csv:"survived" json:"survived"` // runs ending with both prey and predators alive
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a parameter grid over several seeds in parallel",
		Long: `Run every combination of the given parameter values once per seed and
report the mean and standard deviation of the final prey and predator
counts and of the coexistence ticks.

Examples:
  swarmlab sweep --param prey_reproduction_prob=0.0005,0.001,0.002 --seeds 5
  swarmlab sweep --param castle_capacity=5,10,20 --param max_castle_stay=90,180 --output sweeps/castle`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, scenario, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rawGrids, _ := cmd.Flags().GetStringArray("param")
			seeds, _ := cmd.Flags().GetInt("seeds")
			baseSeed, _ := cmd.Flags().GetInt64("base-seed")
			workers, _ := cmd.Flags().GetInt("workers")
			outputDir, _ := cmd.Flags().GetString("output")
			jsonOut, _ := cmd.Flags().GetBool("json")

			grids := make([]ParamGrid, 0, len(rawGrids))
			for _, raw := range rawGrids {
				g, err := parseGrid(raw)
				if err != nil {
					return err
				}
				grids = append(grids, g)
			}
			if seeds < 1 {
				return fmt.Errorf("--seeds must be at least 1")
			}

			sw := &sweep{
				id:       uuid.NewString(),
				scenario: scenario,
				base:     cfg,
				grids:    grids,
				seeds:    sweepSeeds(baseSeed, seeds),
				workers:  workers,
			}
			slog.Info("sweep started",
				"sweep_id", sw.id,
				"scenario", scenario,
				"combinations", len(combinations(grids)),
				"seeds", seeds,
				"workers", sw.workerCount(),
			)

			start := time.Now()
			runs, err := sw.run(cmd.Context())
			if err != nil {
				return err
			}
			rows := aggregateRuns(sw.id, runs)

			if outputDir != "" {
				if err := writeSweep(outputDir, runs, rows); err != nil {
					return err
				}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(rows)
			}
			printSweep(cmd.OutOrStdout(), rows)
			fmt.Fprintf(cmd.OutOrStdout(), "%s runs in %s\n",
				humanize.Comma(int64(len(runs))), time.Since(start).Round(time.Millisecond))
			if outputDir != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", outputDir)
			}
			return nil
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().StringArray("param", nil, "Parameter grid as name=v1,v2,... (repeatable)")
	cmd.Flags().Int("seeds", 3, "Seeds per combination")
	cmd.Flags().Int64("base-seed", 42, "First seed; later seeds are spaced by 1000")
	cmd.Flags().Int("workers", 0, "Parallel runs (0 = number of CPUs)")
	cmd.Flags().String("output", "", "Directory for sweep_runs.csv and sweep_summary.csv")
	return cmd
}

// sweepSeeds spaces seeds the same way tune does.
func sweepSeeds(base int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = base + int64(i)*1000
	}
	return out
}

type sweep struct {
	id       string
	scenario string
	base     *config.Config
	grids    []ParamGrid
	seeds    []int64
	workers  int
}

func (sw *sweep) workerCount() int {
	if sw.workers > 0 {
		return sw.workers
	}
	return runtime.NumCPU()
}

// run executes every (combination, seed) pair. Each run owns its config
// clone and simulation; results are stored by index so order is stable.
func (sw *sweep) run(ctx context.Context) ([]SweepRun, error) {
	combos := combinations(sw.grids)
	runs := make([]SweepRun, len(combos)*len(sw.seeds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sw.workerCount())

	for ci, combo := range combos {
		label := sw.label(combo)
		for si, seed := range sw.seeds {
			idx := ci*len(sw.seeds) + si
			g.Go(func() error {
				cfg, err := sw.base.Clone()
				if err != nil {
					return err
				}
				for i, grid := range sw.grids {
					grid.Spec.Apply(cfg, combo[i])
				}

				s, err := sim.New(cfg, sim.Options{Scenario: sw.scenario, Seed: seed})
				if err != nil {
					return fmt.Errorf("combo %d (%s): %w", ci, label, err)
				}
				sum, err := s.Run(ctx)
				if err != nil {
					return fmt.Errorf("combo %d (%s) seed %d: %w", ci, label, seed, err)
				}

				runs[idx] = SweepRun{
					SweepID:     sw.id,
					Combo:       ci,
					Params:      label,
					Seed:        seed,
					Ticks:       sum.Ticks,
					Prey:        sum.Count(components.KindPrey),
					Predators:   sum.Count(components.KindPredator),
					Coexistence: sum.CoexistenceTicks,
					Stop:        sum.Stop,
					Seconds:     sum.Elapsed.Seconds(),
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// label renders a combination as "name=value;name=value".
func (sw *sweep) label(combo []float64) string {
	parts := make([]string, len(combo))
	for i, v := range combo {
		parts[i] = fmt.Sprintf("%s=%g", sw.grids[i].Spec.Name, v)
	}
	return strings.Join(parts, ";")
}

// aggregateRuns groups runs by combination, in combination order.
func aggregateRuns(sweepID string, runs []SweepRun) []SweepRow {
	var rows []SweepRow
	byCombo := make(map[int][]SweepRun)
	var order []int
	for _, r := range runs {
		if _, ok := byCombo[r.Combo]; !ok {
			order = append(order, r.Combo)
		}
		byCombo[r.Combo] = append(byCombo[r.Combo], r)
	}

	for _, combo := range order {
		group := byCombo[combo]
		prey := make([]float64, len(group))
		pred := make([]float64, len(group))
		coexist := make([]float64, len(group))
		survived := 0
		for i, r := range group {
			prey[i] = float64(r.Prey)
			pred[i] = float64(r.Predators)
			coexist[i] = float64(r.Coexistence)
			if r.Prey > 0 && r.Predators > 0 {
				survived++
			}
		}

		row := SweepRow{
			SweepID:  sweepID,
			Combo:    combo,
			Params:   group[0].Params,
			Seeds:    len(group),
			Survived: survived,
		}
		row.PreyMean, row.PreyStd = meanStd(prey)
		row.PredMean, row.PredStd = meanStd(pred)
		row.CoexistenceMean, row.CoexistenceStd = meanStd(coexist)
		rows = append(rows, row)
	}
	return rows
}

// meanStd returns the mean and sample standard deviation; the deviation of a
// single value is 0.
func meanStd(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

func writeSweep(dir string, runs []SweepRun, rows []SweepRow) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := writeCSVFile(filepath.Join(dir, "sweep_runs.csv"), &runs); err != nil {
		return err
	}
	return writeCSVFile(filepath.Join(dir, "sweep_summary.csv"), &rows)
}

func writeCSVFile(path string, records any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := gocsv.MarshalFile(records, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func printSweep(w io.Writer, rows []SweepRow) {
	for _, r := range rows {
		params := r.Params
		if params == "" {
			params = "(base config)"
		}
		fmt.Fprintf(w, "%s\n", params)
		fmt.Fprintf(w, "  prey %s ± %s   predators %s ± %s   coexistence %s ± %s ticks   survived %d/%d\n",
			humanize.CommafWithDigits(r.PreyMean, 1), humanize.CommafWithDigits(r.PreyStd, 1),
			humanize.CommafWithDigits(r.PredMean, 1), humanize.CommafWithDigits(r.PredStd, 1),
			humanize.CommafWithDigits(r.CoexistenceMean, 0), humanize.CommafWithDigits(r.CoexistenceStd, 0),
			r.Survived, r.Seeds)
	}
}
