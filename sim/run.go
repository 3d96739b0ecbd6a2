package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/pthm-cable/swarmlab/components"
)

// Stop reasons reported in a Summary.
const (
	StopDuration  = "duration"
	StopWallClock = "wall_clock"
	StopCancelled = "cancelled"
	StopError     = "error"
)

// Summary describes a finished run.
type Summary struct {
	Seed             int64
	Ticks            int64
	Counts           map[string]int // live agents per kind name at the end
	CoexistenceTicks int64          // ticks that ended with prey and predators both alive
	Bookmarks        int
	Stop             string
	Elapsed          time.Duration
}

// Count returns the final live count of kind.
func (s Summary) Count(kind components.Kind) int {
	return s.Counts[kind.String()]
}

// Run steps the simulation until sim.duration_ticks is reached, the wall
// clock budget runs out or ctx is done. Limits are checked between ticks.
// A cancelled context ends the run normally; only sink errors are returned.
func (s *Simulation) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var deadline time.Time
	if s.cfg.Sim.MaxWallClock > 0 {
		deadline = start.Add(s.cfg.Sim.MaxWallClock)
	}

	slog.Info("run started",
		"scenario", s.opts.Scenario,
		"seed", s.seed,
		"duration_ticks", s.cfg.Sim.DurationTicks,
		"agents", s.reg.Total(),
	)

	stop := ""
	for stop == "" {
		switch {
		case ctx.Err() != nil:
			stop = StopCancelled
			continue
		case s.cfg.Sim.DurationTicks > 0 && s.tick >= int64(s.cfg.Sim.DurationTicks):
			stop = StopDuration
			continue
		case !deadline.IsZero() && time.Now().After(deadline):
			stop = StopWallClock
			continue
		}

		if err := s.Step(); err != nil {
			return s.summary(StopError, time.Since(start)), err
		}
	}

	sum := s.summary(stop, time.Since(start))
	slog.Info("run finished",
		"stop", sum.Stop,
		"ticks", sum.Ticks,
		"coexistence_ticks", sum.CoexistenceTicks,
		"bookmarks", sum.Bookmarks,
		"counts", sum.Counts,
		"elapsed", sum.Elapsed,
	)
	return sum, nil
}

func (s *Simulation) summary(stop string, elapsed time.Duration) Summary {
	counts := make(map[string]int, components.KindCount())
	for _, k := range components.Kinds() {
		counts[k.String()] = s.reg.Count(k)
	}
	return Summary{
		Seed:             s.seed,
		Ticks:            s.tick,
		Counts:           counts,
		CoexistenceTicks: s.coexistTicks,
		Bookmarks:        s.bookmarkCount,
		Stop:             stop,
		Elapsed:          elapsed,
	}
}

// CoexistenceTicks returns the number of ticks so far that ended with both
// prey and predators alive.
func (s *Simulation) CoexistenceTicks() int64 {
	return s.coexistTicks
}
