package main

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/optimize"
)

var defaultTuneParams = []string{
	"prey_reproduction_prob",
	"predator_death_prob",
	"predator_reproduction_chance",
	"castle_capacity",
	"max_castle_stay",
}

func newTuneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Search ecosystem parameters that keep prey and predators alive",
		Long: `Run CMA-ES over ecosystem parameters, scoring each candidate by how long
prey and predators coexist across several seeds.

Every evaluation is appended to tune_log.csv; the best candidate is saved
as best_config.yaml in the output directory.

Examples:
  swarmlab tune --output tune/eco --max-evals 100
  swarmlab tune --output tune/castle --params castle_capacity,max_castle_stay --seeds 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			names, _ := cmd.Flags().GetStringSlice("params")
			seeds, _ := cmd.Flags().GetInt("seeds")
			maxEvals, _ := cmd.Flags().GetInt("max-evals")
			population, _ := cmd.Flags().GetInt("population")
			outputDir, _ := cmd.Flags().GetString("output")

			if outputDir == "" {
				return fmt.Errorf("--output is required")
			}
			if seeds < 1 {
				return fmt.Errorf("--seeds must be at least 1")
			}
			maxTicks := cfg.Sim.DurationTicks
			if maxTicks <= 0 {
				return fmt.Errorf("tuning needs a finite sim.duration_ticks or --max-ticks")
			}
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			params, err := NewParamVector(names)
			if err != nil {
				return err
			}
			evaluator := NewFitnessEvaluator(params, maxTicks, sweepSeeds(42, seeds), cfg)
			ctx := cmd.Context()

			dim := params.Dim()
			initX := params.Normalize(params.ExtractFromConfig(cfg))

			// Population size
			popSize := population
			if popSize == 0 {
				popSize = 4 + int(3.0*float64(dim)/2.0)
			}
			method := &optimize.CmaEsChol{
				InitStepSize: 0.3,
				Population:   popSize,
			}
			settings := &optimize.Settings{
				FuncEvaluations: maxEvals,
				Concurrent:      0,
			}

			logPath := filepath.Join(outputDir, "tune_log.csv")
			logFile, err := os.Create(logPath)
			if err != nil {
				return fmt.Errorf("failed to create log file: %w", err)
			}
			defer logFile.Close()
			logWriter := csv.NewWriter(logFile)
			defer logWriter.Flush()

			header := []string{"eval", "fitness", "quality"}
			for _, spec := range params.Specs {
				header = append(header, spec.Name)
			}
			logWriter.Write(header)

			evalCount := 0
			bestFitness := 0.0
			var bestParams []float64
			startTime := time.Now()

			problem := optimize.Problem{
				Func: func(x []float64) float64 {
					clamped := params.Clamp(params.Denormalize(x))
					fitness := evaluator.Evaluate(ctx, clamped)
					quality := evaluator.LastQuality()
					evalCount++

					if bestParams == nil || fitness < bestFitness {
						bestFitness = fitness
						bestParams = clamped
					}

					row := []string{strconv.Itoa(evalCount), fmt.Sprintf("%.3f", fitness), fmt.Sprintf("%.4f", quality)}
					for _, v := range clamped {
						row = append(row, strconv.FormatFloat(v, 'g', 6, 64))
					}
					logWriter.Write(row)
					logWriter.Flush()

					elapsed := time.Since(startTime)
					remaining := time.Duration(maxEvals-evalCount) * (elapsed / time.Duration(evalCount))
					survival := -fitness / (1.0 + 0.2*quality)
					slog.Info("evaluation",
						"eval", evalCount,
						"max_evals", maxEvals,
						"coexistence_ticks", int64(survival),
						"quality", quality,
						"best_fitness", bestFitness,
						"elapsed", elapsed.Round(time.Second).String(),
						"eta", remaining.Round(time.Second).String(),
					)
					return fitness
				},
			}
			problem.Status = func() (optimize.Status, error) {
				if err := ctx.Err(); err != nil {
					return optimize.Failure, err
				}
				return optimize.NotTerminated, nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Starting CMA-ES with %d parameters, population=%d, max_evals=%d\n",
				dim, popSize, maxEvals)
			fmt.Fprintf(cmd.OutOrStdout(), "Seeds per evaluation: %d, ticks per run: %s\n", seeds, humanize.Comma(int64(maxTicks)))

			if _, err := optimize.Minimize(problem, initX, settings, method); err != nil {
				slog.Warn("optimization ended", "error", err)
			}
			if err := evaluator.Err(); err != nil {
				slog.Warn("some evaluations failed", "error", err)
			}
			if bestParams == nil {
				return fmt.Errorf("no evaluation completed")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nOptimization complete after %d evaluations in %s\n",
				evalCount, time.Since(startTime).Round(time.Second))
			fmt.Fprintf(cmd.OutOrStdout(), "Best fitness: %.0f\n\nBest parameters:\n", bestFitness)
			for i, spec := range params.Specs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-30s %g\n", spec.Path+":", bestParams[i])
			}

			bestCfg, err := cfg.Clone()
			if err != nil {
				return err
			}
			params.ApplyToConfig(bestCfg, bestParams)
			configOutPath := filepath.Join(outputDir, "best_config.yaml")
			if err := bestCfg.WriteYAML(configOutPath); err != nil {
				return fmt.Errorf("failed to write best config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nBest config saved to: %s\n", configOutPath)
			return nil
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().StringSlice("params", defaultTuneParams, "Parameters to optimize ("+strings.Join(defaultTuneParams, ", ")+" by default)")
	cmd.Flags().Int("seeds", 3, "Seeds per evaluation")
	cmd.Flags().Int("max-evals", 200, "Maximum number of evaluations")
	cmd.Flags().Int("population", 0, "CMA-ES population size (0 = auto)")
	cmd.Flags().String("output", "", "Output directory for results")
	return cmd
}
