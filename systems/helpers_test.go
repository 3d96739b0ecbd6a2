package systems

import (
	"math/rand"
	"testing"

	"github.com/pthm-cable/swarmlab/components"
	"github.com/pthm-cable/swarmlab/config"
)

// eventLog counts events for assertions.
type eventLog struct {
	kills   int
	starved int
	entered int
	evicted map[string]int
	denied  map[string]int
}

func newEventLog() *eventLog {
	return &eventLog{evicted: map[string]int{}, denied: map[string]int{}}
}

func (l *eventLog) Killed(killer, victim components.Kind)         { l.kills++ }
func (l *eventLog) Starved(components.Kind)                       { l.starved++ }
func (l *eventLog) Entered(components.Kind, string)               { l.entered++ }
func (l *eventLog) Evicted(_ components.Kind, _ string, r string) { l.evicted[r]++ }
func (l *eventLog) Denied(_ components.Kind, what string)         { l.denied[what]++ }

func testConfig(t *testing.T, scenario string) *config.Config {
	t.Helper()
	cfg, err := config.LoadScenario(scenario, "")
	if err != nil {
		t.Fatalf("LoadScenario(%q): %v", scenario, err)
	}
	return cfg
}

// newTestEnv wires registry, grid and zones the same way the simulation does.
func newTestEnv(t *testing.T, cfg *config.Config, seed int64) (*Env, *eventLog) {
	t.Helper()
	cfg.Refresh()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	grid := NewSpatialGrid(cfg.World.Width, cfg.World.Height, cfg.World.CellSize, cfg.World.ToroidalDistance)
	zones := NewZonesFromConfig(cfg, grid.Delta)
	reg := NewRegistry(RegistryConfig{
		Width:       cfg.World.Width,
		Height:      cfg.World.Height,
		SpawnOffset: cfg.Reproduction.SpawnOffset,
		Caps:        cfg.Derived.Caps,
	})
	reg.OnKill = func(id components.AgentID, _ components.Kind) { zones.Release(id) }

	log := newEventLog()
	return &Env{
		Cfg:    cfg,
		Rng:    rand.New(rand.NewSource(seed)),
		Grid:   grid,
		Frame:  NewFrame(),
		Zones:  zones,
		Reg:    reg,
		Events: log,
	}, log
}

// step runs one full tick: capture, index, behaviors, zones, apply.
func step(env *Env) {
	env.Tick++
	env.Frame.Capture(env.Tick, env.Reg, env.Zones)
	env.Frame.IndexInto(env.Grid)
	env.Reg.BeginTick(env.Tick)
	RunBehaviors(env)
	TickZones(env)
	env.Reg.ApplyPending()
}

func mustSpawn(t *testing.T, reg *Registry, kind components.Kind, spec SpawnSpec) components.AgentID {
	t.Helper()
	id, err := reg.Spawn(kind, spec)
	if err != nil {
		t.Fatalf("Spawn(%s): %v", kind, err)
	}
	return id
}
