package config

import (
	"errors"
	"fmt"

	"github.com/pthm-cable/swarmlab/components"
)

// validator collects every problem instead of stopping at the first one.
type validator struct {
	errs []error
}

func (v *validator) failf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf("%w: "+format, append([]any{ErrConfigInvalid}, args...)...))
}

func (v *validator) nonNegative(name string, x float64) {
	if x < 0 {
		v.failf("%s must be non-negative, got %v", name, x)
	}
}

func (v *validator) positive(name string, x float64) {
	if x <= 0 {
		v.failf("%s must be positive, got %v", name, x)
	}
}

func (v *validator) probability(name string, p float64) {
	if p < 0 || p > 1 {
		v.failf("%s must be between 0 and 1, got %v", name, p)
	}
}

func (v *validator) point(name string, p []float64) {
	if len(p) != 2 {
		v.failf("%s must have exactly two coordinates, got %d", name, len(p))
	}
}

func (v *validator) zone(name string, z ZoneConfig) {
	v.point(name+".center", z.Center)
	v.nonNegative(name+".radius", z.Radius)
	if z.Capacity < 0 {
		v.failf("%s.capacity must be non-negative, got %d", name, z.Capacity)
	}
	if z.MaxStay < 0 {
		v.failf("%s.max_stay must be non-negative, got %d", name, z.MaxStay)
	}
}

// inside rejects a zone whose circle crosses the world edge. With plain
// distances such a zone would place occupants on the far side of the world.
func (v *validator) inside(name string, z ZoneConfig, w, h float64) {
	if len(z.Center) != 2 {
		return
	}
	x, y, r := z.Center[0], z.Center[1], z.Radius
	if x-r < 0 || y-r < 0 || x+r > w || y+r > h {
		v.failf("%s (center %v, radius %v) crosses the world edge; move it inside or set world.toroidal_distance",
			name, z.Center, r)
	}
}

func (v *validator) kindCounts(name string, m map[string]int) {
	for k, n := range m {
		if _, err := components.ParseKind(k); err != nil {
			v.failf("%s: %v", name, err)
		}
		if n < 0 {
			v.failf("%s.%s must be non-negative, got %d", name, k, n)
		}
	}
}

// Validate checks that the configuration is usable. Every returned error wraps
// ErrConfigInvalid.
func (c *Config) Validate() error {
	v := &validator{}

	v.positive("world.width", c.World.Width)
	v.positive("world.height", c.World.Height)
	v.positive("world.cell_size", c.World.CellSize)

	v.positive("sim.delta_time", c.Sim.DeltaTime)
	if c.Sim.DurationTicks < 0 {
		v.failf("sim.duration_ticks must be non-negative, got %d", c.Sim.DurationTicks)
	}
	if c.Sim.SnapshotEvery < 1 {
		v.failf("sim.snapshot_every must be at least 1, got %d", c.Sim.SnapshotEvery)
	}
	if c.Sim.MaxWallClock < 0 {
		v.failf("sim.max_wall_clock must be non-negative, got %v", c.Sim.MaxWallClock)
	}

	v.nonNegative("agent.speed", c.Agent.Speed)
	v.nonNegative("agent.radius", c.Agent.Radius)
	v.nonNegative("agent.wander_angle", c.Agent.WanderAngle)

	v.positive("flocking.mass", c.Flocking.Mass)
	v.nonNegative("flocking.min_speed", c.Flocking.MinSpeed)
	v.nonNegative("flocking.max_velocity", c.Flocking.MaxVelocity)
	if c.Flocking.MaxVelocity < c.Flocking.MinSpeed {
		v.failf("flocking.max_velocity (%v) must be >= flocking.min_speed (%v)",
			c.Flocking.MaxVelocity, c.Flocking.MinSpeed)
	}

	a := c.Aggregation
	if a.Tjoin < 0 || a.Tleave < 0 || a.LeaveGrace < 0 {
		v.failf("aggregation timers must be non-negative, got Tjoin=%d Tleave=%d leave_grace=%d",
			a.Tjoin, a.Tleave, a.LeaveGrace)
	}
	v.nonNegative("aggregation.join_rate", a.JoinRate)
	v.nonNegative("aggregation.leave_rate", a.LeaveRate)
	v.probability("aggregation.join_base", a.JoinBase)
	v.probability("aggregation.join_base+join_gain", a.JoinBase+a.JoinGain)
	v.probability("aggregation.rehead_prob", a.ReheadProb)
	v.nonNegative("aggregation.join_speed_factor", a.JoinSpeedFactor)
	for i, z := range c.Derived.AggregationZones {
		v.zone(fmt.Sprintf("aggregation.zones[%d]", i), z)
	}

	e := c.Ecosystem
	v.nonNegative("ecosystem.castle_radius", e.CastleRadius)
	if e.CastleCapacity < 0 {
		v.failf("ecosystem.castle_capacity must be non-negative, got %d", e.CastleCapacity)
	}
	if e.MaxCastleStay < 0 {
		v.failf("ecosystem.max_castle_stay must be non-negative, got %d", e.MaxCastleStay)
	}
	for i, center := range e.CastleCenters {
		v.point(fmt.Sprintf("ecosystem.castle_centers[%d]", i), center)
	}
	if !c.World.ToroidalDistance {
		for i, z := range c.Derived.AggregationZones {
			v.inside(fmt.Sprintf("aggregation.zones[%d]", i), z, c.World.Width, c.World.Height)
		}
		for i, z := range c.Derived.Shelters {
			v.inside(fmt.Sprintf("ecosystem.castle_centers[%d]", i), z, c.World.Width, c.World.Height)
		}
	}
	v.nonNegative("ecosystem.detection_radius", e.DetectionRadius)
	v.nonNegative("ecosystem.eating_radius", e.EatingRadius)
	v.nonNegative("ecosystem.repel_strength", e.RepelStrength)
	v.nonNegative("ecosystem.predator_repel_factor", e.PredatorRepelFactor)
	v.nonNegative("ecosystem.evict_speed_factor", e.EvictSpeedFactor)
	v.nonNegative("ecosystem.attacker_speed", e.AttackerSpeed)
	v.nonNegative("ecosystem.protector_speed", e.ProtectorSpeed)
	v.probability("ecosystem.prey_reproduction_prob", e.PreyReproductionProb)
	v.probability("ecosystem.predator_death_prob", e.PredatorDeathProb)
	v.probability("ecosystem.predator_reproduction_chance", e.PredatorReproductionChance)

	if c.Population.PopulationCap < 0 {
		v.failf("population.population_cap must be non-negative, got %d", c.Population.PopulationCap)
	}
	v.kindCounts("population.caps", c.Population.Caps)
	v.kindCounts("population.initial", c.Population.Initial)

	v.nonNegative("reproduction.spawn_offset", c.Reproduction.SpawnOffset)

	if c.Telemetry.StatsWindow < 0 {
		v.failf("telemetry.stats_window must be non-negative, got %d", c.Telemetry.StatsWindow)
	}

	return errors.Join(v.errs...)
}
