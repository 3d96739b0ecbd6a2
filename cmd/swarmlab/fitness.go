package main

import (
	"context"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/swarmlab/components"
	"github.com/pthm-cable/swarmlab/config"
	"github.com/pthm-cable/swarmlab/sim"
	"github.com/pthm-cable/swarmlab/telemetry"
)

// FitnessEvaluator runs headless ecosystem simulations and scores how long
// prey and predators coexist.
type FitnessEvaluator struct {
	params     *ParamVector
	maxTicks   int
	seeds      []int64
	baseConfig *config.Config

	mu          sync.Mutex
	bestFitness float64
	lastQuality float64 // quality from most recent Evaluate call
	lastErr     error
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, maxTicks int, seeds []int64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		maxTicks:    maxTicks,
		seeds:       seeds,
		baseConfig:  baseCfg,
		bestFitness: math.Inf(1),
	}
}

// LastQuality returns the quality score from the most recent evaluation.
func (fe *FitnessEvaluator) LastQuality() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastQuality
}

// Err returns the last error a simulation failed with, if any.
func (fe *FitnessEvaluator) Err() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastErr
}

// Minimum viable population: if either species stays below this for
// extinctionGraceTicks consecutive ticks, it counts as functionally extinct.
const (
	minViablePop         = 3
	extinctionGraceTicks = 300
	warmupTicks          = 60
)

// runResult holds the results from a single simulation run.
type runResult struct {
	survivalTicks int                     // ticks before functional extinction (or maxTicks if survived)
	windowStats   []telemetry.WindowStats // collected via StatsCallback each window
}

// Evaluate computes fitness for raw parameter values (lower = better).
// Fitness is negative survival ticks: longer coexistence = lower fitness.
// A run that fails to start scores 0, the worst possible value.
func (fe *FitnessEvaluator) Evaluate(ctx context.Context, x []float64) float64 {
	fitness := make([]float64, len(fe.seeds))
	quality := make([]float64, len(fe.seeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, seed := range fe.seeds {
		g.Go(func() error {
			result, err := fe.runSimulation(ctx, x, seed)
			if err != nil {
				return err
			}
			quality[i] = computeQuality(result.windowStats)
			fitness[i] = -(float64(result.survivalTicks) * (1.0 + 0.2*quality[i]))
			return nil
		})
	}
	err := g.Wait()

	var totalFitness, totalQuality float64
	for i := range fe.seeds {
		totalFitness += fitness[i]
		totalQuality += quality[i]
	}
	n := float64(len(fe.seeds))
	avgFitness := totalFitness / n

	fe.mu.Lock()
	defer fe.mu.Unlock()
	if err != nil {
		fe.lastErr = err
		fe.lastQuality = 0
		return 0
	}
	if avgFitness < fe.bestFitness {
		fe.bestFitness = avgFitness
	}
	fe.lastQuality = totalQuality / n
	return avgFitness
}

// runSimulation executes a single headless run until functional extinction,
// maxTicks or cancellation.
func (fe *FitnessEvaluator) runSimulation(ctx context.Context, x []float64, seed int64) (*runResult, error) {
	cfg, err := fe.baseConfig.Clone()
	if err != nil {
		return nil, err
	}
	fe.params.ApplyToConfig(cfg, x)

	result := &runResult{}
	s, err := sim.New(cfg, sim.Options{
		Seed: seed,
		StatsCallback: func(stats telemetry.WindowStats) {
			result.windowStats = append(result.windowStats, stats)
		},
	})
	if err != nil {
		return nil, err
	}

	var preyBelow, predBelow int
	for s.Tick() < int64(fe.maxTicks) {
		if ctx.Err() != nil {
			break
		}
		if err := s.Step(); err != nil {
			return nil, err
		}

		tick := int(s.Tick())
		if tick < warmupTicks {
			continue
		}

		census := s.Census()
		prey := census.Count(components.KindPrey)
		pred := census.Count(components.KindPredator)

		// Hard extinction: either species completely gone
		if prey == 0 || pred == 0 {
			result.survivalTicks = tick
			return result, nil
		}

		if prey < minViablePop {
			preyBelow++
		} else {
			preyBelow = 0
		}
		if pred < minViablePop {
			predBelow++
		} else {
			predBelow = 0
		}
		if preyBelow >= extinctionGraceTicks || predBelow >= extinctionGraceTicks {
			result.survivalTicks = tick
			return result, nil
		}
	}

	result.survivalTicks = int(s.Tick())
	return result, nil
}

// Quality component weights.
const (
	qualityWeightRatio     = 0.5
	qualityWeightStability = 0.3
	qualityWeightShelter   = 0.2

	qualityWarmupWindows = 3 // skip first N windows (warmup)
	qualityMinPop        = 3 // exclude windows where either species < this
)

// computeQuality scores ecosystem quality in [0, 1] from window stats: a
// prey/predator ratio near 5, steady populations, and shelters that are used
// without being permanently full.
func computeQuality(windows []telemetry.WindowStats) float64 {
	if len(windows) <= qualityWarmupWindows {
		return 0
	}
	valid := windows[qualityWarmupWindows:]

	var ratioSum, shelterSum float64
	var ratioCount int
	preyCounts := make([]float64, 0, len(valid))
	predCounts := make([]float64, 0, len(valid))

	for _, w := range valid {
		if w.PreyCount < qualityMinPop || w.PredCount < qualityMinPop {
			continue
		}
		preyCounts = append(preyCounts, float64(w.PreyCount))
		predCounts = append(predCounts, float64(w.PredCount))

		ratio := float64(w.PreyCount) / float64(w.PredCount)
		logErr := math.Log(ratio / 5.0)
		ratioSum += math.Exp(-logErr * logErr)
		ratioCount++

		attempts := w.ShelterEntries + w.DeniedEntries
		if attempts > 0 {
			shelterSum += float64(w.ShelterEntries) / float64(attempts)
		}
	}

	if ratioCount == 0 {
		return 0
	}

	stabilityScore := 0.0
	if len(preyCounts) >= 2 {
		_, cvPrey := telemetry.MeanCV(preyCounts)
		_, cvPred := telemetry.MeanCV(predCounts)
		stabilityScore = math.Exp(-(cvPrey*cvPrey + cvPred*cvPred))
	}

	quality := qualityWeightRatio*ratioSum/float64(ratioCount) +
		qualityWeightStability*stabilityScore +
		qualityWeightShelter*shelterSum/float64(ratioCount)

	return clamp01(quality)
}

// clamp01 clamps x to [0, 1].
func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
