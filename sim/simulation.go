// Package sim drives the tick loop: it owns the registry, zones, spatial index
// and random source, and feeds the snapshot stream to telemetry sinks.
package sim

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swarmlab/components"
	"github.com/pthm-cable/swarmlab/config"
	"github.com/pthm-cable/swarmlab/systems"
	"github.com/pthm-cable/swarmlab/telemetry"
)

// Options configures a Simulation beyond what the config file holds.
type Options struct {
	Scenario string // label used in logs and run metadata
	Seed     int64  // overrides sim.rng_seed when non-zero

	// Sink receives the snapshot stream. Optional.
	Sink telemetry.Sink
	// Output additionally receives perf rows, the effective config and
	// bookmark snapshots. Optional.
	Output *telemetry.OutputManager

	LogStats      bool
	StatsCallback func(telemetry.WindowStats)
}

// Simulation is one run of the world.
type Simulation struct {
	cfg  *config.Config
	opts Options
	seed int64
	rng  *rand.Rand
	tick int64

	grid  *systems.SpatialGrid
	zones *systems.ZoneManager
	reg   *systems.Registry
	frame *systems.Frame
	env   *systems.Env

	collector *telemetry.Collector
	bookmarks *telemetry.BookmarkDetector
	perf      *telemetry.PerfCollector
	sink      telemetry.MultiSink

	records     []telemetry.Record
	recordsTick int64
	census      telemetry.Census

	coexistTicks  int64
	bookmarkCount int
}

// New validates cfg and builds a simulation with its initial population.
// The config must not be modified while the simulation runs.
func New(cfg *config.Config, opts Options) (*Simulation, error) {
	cfg.Refresh()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new simulation: %w", err)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = cfg.Sim.RNGSeed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
		slog.Info("no seed configured, using clock", "seed", seed)
	}

	s := &Simulation{
		cfg:         cfg,
		opts:        opts,
		seed:        seed,
		rng:         rand.New(rand.NewSource(seed)),
		frame:       systems.NewFrame(),
		collector:   telemetry.NewCollector(cfg.Telemetry.StatsWindow, cfg.Sim.DeltaTime),
		bookmarks:   telemetry.NewBookmarkDetector(cfg.Bookmarks, cfg.Telemetry.BookmarkHistorySize),
		perf:        telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow, stepPhases),
		recordsTick: -1,
	}
	if opts.Sink != nil {
		s.sink = append(s.sink, opts.Sink)
	}
	if opts.Output != nil {
		s.sink = append(s.sink, opts.Output)
		if err := opts.Output.WriteConfig(cfg); err != nil {
			return nil, fmt.Errorf("new simulation: %w", err)
		}
	}

	s.grid = systems.NewSpatialGrid(cfg.World.Width, cfg.World.Height, cfg.World.CellSize, cfg.World.ToroidalDistance)
	s.zones = systems.NewZonesFromConfig(cfg, s.grid.Delta)
	s.reg = systems.NewRegistry(systems.RegistryConfig{
		Width:       cfg.World.Width,
		Height:      cfg.World.Height,
		SpawnOffset: cfg.Reproduction.SpawnOffset,
		Caps:        cfg.Derived.Caps,
	})
	s.env = &systems.Env{
		Cfg:    cfg,
		Rng:    s.rng,
		Grid:   s.grid,
		Frame:  s.frame,
		Zones:  s.zones,
		Reg:    s.reg,
		Events: s.collector,
	}

	s.reg.OnKill = s.onKill
	if err := s.spawnInitialPopulation(); err != nil {
		return nil, err
	}
	// Births are counted from here on; the initial population is not.
	s.reg.OnBirth = func(_ components.AgentID, kind components.Kind) {
		s.collector.RecordBirth(kind)
	}

	s.census = s.takeCensus()
	return s, nil
}

// onKill keeps zone occupancy and telemetry in step with the registry.
func (s *Simulation) onKill(id components.AgentID, kind components.Kind) {
	s.zones.Release(id)
	var age int64
	if a, ok := s.reg.Get(id); ok {
		age = s.tick - a.Born
	}
	s.collector.RecordDeath(kind, age)
}

// spawnInitialPopulation places one shelter marker per shelter zone and then
// the configured initial counts, kind by kind in declaration order.
func (s *Simulation) spawnInitialPopulation() error {
	for _, z := range s.zones.OfKind(systems.ZoneShelter) {
		if _, err := s.reg.Spawn(components.KindShelter, systems.SpawnSpec{Pos: z.Center}); err != nil {
			return fmt.Errorf("spawning marker for %s: %w", z.Name, err)
		}
	}
	if n := s.cfg.Derived.Initial[components.KindShelter]; n > 0 {
		slog.Warn("initial shelter count ignored, markers follow ecosystem.castle_centers", "count", n)
	}

	for _, kind := range components.Kinds() {
		if kind == components.KindShelter {
			continue
		}
		n := s.cfg.Derived.Initial[kind]
		speed := s.initialSpeed(kind)
		for i := 0; i < n; i++ {
			pos := r2.Vec{X: s.rng.Float64() * s.cfg.World.Width, Y: s.rng.Float64() * s.cfg.World.Height}
			theta := s.rng.Float64() * 2 * math.Pi
			vel := r2.Vec{X: math.Cos(theta) * speed, Y: math.Sin(theta) * speed}

			if _, err := s.reg.Spawn(kind, systems.SpawnSpec{Pos: pos, Vel: vel}); err != nil {
				slog.Warn("initial population truncated", "kind", kind.String(), "requested", n, "spawned", i, "error", err)
				break
			}
		}
	}
	return nil
}

func (s *Simulation) initialSpeed(kind components.Kind) float64 {
	switch kind {
	case components.KindAttacker:
		return s.cfg.Ecosystem.AttackerSpeed
	case components.KindProtector:
		return s.cfg.Ecosystem.ProtectorSpeed
	default:
		return s.cfg.Agent.Speed
	}
}

// Step phases in execution order.
const (
	phaseSnapshot = "snapshot"
	phaseBehavior = "behavior"
	phaseZones    = "zones"
	phaseApply    = "apply"
	phaseRecord   = "record"
)

var stepPhases = []string{phaseSnapshot, phaseBehavior, phaseZones, phaseApply, phaseRecord}

// Step runs exactly one tick: snapshot, behaviors, zone tick, apply, record.
// Errors come from sinks only.
func (s *Simulation) Step() error {
	s.tick++
	s.perf.BeginTick()

	s.perf.Enter(phaseSnapshot)
	s.frame.Capture(s.tick, s.reg, s.zones)
	s.frame.IndexInto(s.grid)
	s.perf.Processed(s.frame.Len())

	s.perf.Enter(phaseBehavior)
	s.reg.BeginTick(s.tick)
	s.env.Tick = s.tick
	systems.RunBehaviors(s.env)
	s.perf.Processed(s.frame.Len())

	s.perf.Enter(phaseZones)
	systems.TickZones(s.env)
	for _, z := range s.zones.Zones() {
		s.perf.Processed(z.Occupancy())
	}

	s.perf.Enter(phaseApply)
	removed, born := s.reg.ApplyPending()
	s.perf.Processed(removed + born)

	s.perf.Enter(phaseRecord)
	written, err := s.record()
	s.perf.Processed(written)

	s.perf.EndTick()
	return err
}

// Tick returns the number of completed ticks.
func (s *Simulation) Tick() int64 {
	return s.tick
}

// Seed returns the seed the random source was created with.
func (s *Simulation) Seed() int64 {
	return s.seed
}

// Config returns the simulation's config.
func (s *Simulation) Config() *config.Config {
	return s.cfg
}

// Registry exposes the agent registry for inspection.
func (s *Simulation) Registry() *systems.Registry {
	return s.reg
}

// Zones exposes the zone manager for inspection.
func (s *Simulation) Zones() *systems.ZoneManager {
	return s.zones
}

// Census returns the population picture after the last tick.
func (s *Simulation) Census() telemetry.Census {
	return s.census
}

// Perf returns per-phase timing and throughput over the recent ticks.
func (s *Simulation) Perf() telemetry.PerfStats {
	return s.perf.Stats()
}

// Close closes the sinks passed in Options.
func (s *Simulation) Close() error {
	return s.sink.Close()
}
