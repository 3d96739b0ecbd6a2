package systems

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swarmlab/components"
)

func TestShelterEnterAndEvictDistances(t *testing.T) {
	cfg := testConfig(t, "ecosystem")
	cfg.Ecosystem.MaxCastleStay = 5
	cfg.Ecosystem.PreyReproductionProb = 0
	env, events := newTestEnv(t, cfg, 21)
	z := env.Zones.OfKind(ZoneShelter)[0]

	for trial := 0; trial < 20; trial++ {
		start := r2.Add(z.Center, r2.Vec{X: 10, Y: float64(trial) - 10})
		id := mustSpawn(t, env.Reg, components.KindPrey, SpawnSpec{Pos: start, Vel: r2.Vec{X: 1}})

		step(env)
		a, _ := env.Reg.Get(id)
		if a.Mind.State != components.StateSheltered {
			t.Fatalf("trial %d: prey inside shelter radius did not enter (state %v)", trial, a.Mind.State)
		}
		if d := r2.Norm(r2.Sub(a.Pos.Vec(), z.Center)); d >= z.Radius {
			t.Fatalf("trial %d: sheltered prey at distance %v, want < %v", trial, d, z.Radius)
		}
		if a.Vel.X != 0 || a.Vel.Y != 0 {
			t.Errorf("trial %d: sheltered prey still moving", trial)
		}

		for i := 0; i < cfg.Ecosystem.MaxCastleStay+1 && env.Zones.ZoneOf(id) != NoZone; i++ {
			step(env)
		}
		a, _ = env.Reg.Get(id)
		if env.Zones.ZoneOf(id) != NoZone {
			t.Fatalf("trial %d: prey never evicted", trial)
		}
		if a.Mind.State != components.StateFree {
			t.Errorf("trial %d: evicted prey state = %v, want FREE", trial, a.Mind.State)
		}
		if d := r2.Norm(r2.Sub(a.Pos.Vec(), z.Center)); d < z.Radius {
			t.Fatalf("trial %d: evicted prey at distance %v, want >= %v", trial, d, z.Radius)
		}
		wantSpeed := cfg.Agent.Speed * cfg.Ecosystem.EvictSpeedFactor
		if s := r2.Norm(a.Vel.Vec()); math.Abs(s-wantSpeed) > 1e-9 {
			t.Errorf("trial %d: eviction speed = %v, want %v", trial, s, wantSpeed)
		}

		// clear the stage for the next trial
		env.Reg.BeginTick(env.Tick)
		if err := env.Reg.Kill(id); err != nil {
			t.Fatal(err)
		}
		env.Reg.ApplyPending()
	}

	if events.evicted["timeout"] != 20 {
		t.Errorf("timeout evictions = %d, want 20", events.evicted["timeout"])
	}
}

func TestShelterEntryAtWorldEdge(t *testing.T) {
	cfg := testConfig(t, "ecosystem")
	cfg.World.ToroidalDistance = true
	cfg.Ecosystem.CastleCenters = [][]float64{{10, 500}}
	cfg.Ecosystem.PreyReproductionProb = 0
	env, _ := newTestEnv(t, cfg, 5)
	z := env.Zones.OfKind(ZoneShelter)[0]

	for trial := 0; trial < 40; trial++ {
		id := mustSpawn(t, env.Reg, components.KindPrey, SpawnSpec{
			Pos: r2.Vec{X: 12, Y: 500 + float64(trial%20)},
			Vel: r2.Vec{X: -1},
		})
		step(env)

		a, _ := env.Reg.Get(id)
		if a.Mind.State != components.StateSheltered {
			t.Fatalf("trial %d: prey next to an edge shelter did not enter (state %v)", trial, a.Mind.State)
		}
		p := a.Pos.Vec()
		if p.X < 0 || p.X >= cfg.World.Width || p.Y < 0 || p.Y >= cfg.World.Height {
			t.Fatalf("trial %d: sheltered prey outside the world at %v", trial, p)
		}
		if d := env.Zones.Distance(z.Center, p); d >= z.Radius {
			t.Fatalf("trial %d: sheltered prey at wrapped distance %v, want < %v", trial, d, z.Radius)
		}

		env.Reg.BeginTick(env.Tick)
		if err := env.Reg.Kill(id); err != nil {
			t.Fatal(err)
		}
		env.Reg.ApplyPending()
	}
}

func TestShelterCapacityRespected(t *testing.T) {
	cfg := testConfig(t, "ecosystem")
	cfg.Ecosystem.CastleCapacity = 3
	cfg.Ecosystem.PreyReproductionProb = 0
	env, events := newTestEnv(t, cfg, 4)
	z := env.Zones.OfKind(ZoneShelter)[0]

	for i := 0; i < 8; i++ {
		mustSpawn(t, env.Reg, components.KindPrey, SpawnSpec{
			Pos: r2.Add(z.Center, r2.Vec{X: float64(i) * 4, Y: 1}),
			Vel: r2.Vec{Y: 1},
		})
	}
	for tick := 0; tick < 10; tick++ {
		step(env)
		if z.Occupancy() > z.Capacity {
			t.Fatalf("tick %d: occupancy %d exceeds capacity %d", tick, z.Occupancy(), z.Capacity)
		}
	}
	if events.denied["shelter_entry"] == 0 {
		t.Error("expected denied shelter entries")
	}
}

func TestPredatorEatOrStarveExclusive(t *testing.T) {
	cfg := testConfig(t, "ecosystem")
	cfg.Ecosystem.CastleCenters = nil
	cfg.Ecosystem.PredatorDeathProb = 1 // starve whenever it did not eat
	cfg.Ecosystem.PredatorReproductionChance = 0
	cfg.Ecosystem.PreyReproductionProb = 0
	env, events := newTestEnv(t, cfg, 3)

	hunter := mustSpawn(t, env.Reg, components.KindPredator, SpawnSpec{Pos: r2.Vec{X: 100, Y: 100}, Vel: r2.Vec{X: 1}})
	mustSpawn(t, env.Reg, components.KindPrey, SpawnSpec{Pos: r2.Vec{X: 105, Y: 100}, Vel: r2.Vec{X: 1}})
	hungry := mustSpawn(t, env.Reg, components.KindPredator, SpawnSpec{Pos: r2.Vec{X: 800, Y: 800}, Vel: r2.Vec{X: 1}})

	step(env)

	if !env.Reg.IsAlive(hunter) {
		t.Error("predator that ate died of starvation in the same tick")
	}
	if env.Reg.IsAlive(hungry) {
		t.Error("predator with nothing to eat should starve with death probability 1")
	}
	if env.Reg.Count(components.KindPrey) != 0 {
		t.Errorf("prey count = %d, want 0", env.Reg.Count(components.KindPrey))
	}
	if events.kills != 1 || events.starved != 1 {
		t.Errorf("kills=%d starved=%d, want 1/1", events.kills, events.starved)
	}
}

func TestPredatorIgnoresShelteredPrey(t *testing.T) {
	cfg := testConfig(t, "ecosystem")
	cfg.Ecosystem.PredatorDeathProb = 0
	cfg.Ecosystem.PreyReproductionProb = 0
	cfg.Ecosystem.RepelStrength = 0
	env, _ := newTestEnv(t, cfg, 8)
	z := env.Zones.OfKind(ZoneShelter)[0]

	prey := mustSpawn(t, env.Reg, components.KindPrey, SpawnSpec{Pos: z.Center, Vel: r2.Vec{X: 1}})
	step(env) // prey enters

	p, _ := env.Reg.Get(prey)
	mustSpawn(t, env.Reg, components.KindPredator, SpawnSpec{Pos: p.Pos.Vec(), Vel: r2.Vec{X: 0.001}})
	step(env)

	if !env.Reg.IsAlive(prey) {
		t.Error("predator ate a sheltered prey")
	}
}

func TestAttackerIgnoresShelter(t *testing.T) {
	cfg := testConfig(t, "attacker")
	cfg.Ecosystem.PreyReproductionProb = 0
	env, events := newTestEnv(t, cfg, 8)
	z := env.Zones.OfKind(ZoneShelter)[0]

	prey := mustSpawn(t, env.Reg, components.KindPrey, SpawnSpec{Pos: z.Center, Vel: r2.Vec{X: 1}})
	step(env)
	if env.Zones.ZoneOf(prey) == NoZone {
		t.Fatal("prey did not enter shelter")
	}

	p, _ := env.Reg.Get(prey)
	mustSpawn(t, env.Reg, components.KindAttacker, SpawnSpec{Pos: r2.Add(p.Pos.Vec(), r2.Vec{X: 5}), Vel: r2.Vec{X: 1}})
	step(env)

	if env.Reg.IsAlive(prey) {
		t.Error("attacker did not consume sheltered prey")
	}
	if z.Occupancy() != 0 {
		t.Error("eaten prey still occupies the shelter")
	}
	if events.kills != 1 {
		t.Errorf("kills = %d, want 1", events.kills)
	}
}

func TestProtectorRemovesNearbyPredators(t *testing.T) {
	cfg := testConfig(t, "protector")
	cfg.Ecosystem.CastleCenters = nil
	cfg.Ecosystem.PredatorDeathProb = 0
	env, _ := newTestEnv(t, cfg, 2)

	mustSpawn(t, env.Reg, components.KindProtector, SpawnSpec{Pos: r2.Vec{X: 200, Y: 200}, Vel: r2.Vec{X: 1}})
	near1 := mustSpawn(t, env.Reg, components.KindPredator, SpawnSpec{Pos: r2.Vec{X: 210, Y: 200}, Vel: r2.Vec{X: 1}})
	near2 := mustSpawn(t, env.Reg, components.KindPredator, SpawnSpec{Pos: r2.Vec{X: 200, Y: 215}, Vel: r2.Vec{X: 1}})
	far := mustSpawn(t, env.Reg, components.KindPredator, SpawnSpec{Pos: r2.Vec{X: 600, Y: 600}, Vel: r2.Vec{X: 1}})

	step(env)

	if env.Reg.IsAlive(near1) || env.Reg.IsAlive(near2) {
		t.Error("protector left a nearby predator alive")
	}
	if !env.Reg.IsAlive(far) {
		t.Error("protector killed a distant predator")
	}
}

func TestPreyPopulationCap(t *testing.T) {
	cfg := testConfig(t, "ecosystem")
	cfg.Ecosystem.PreyReproductionProb = 0.5
	cfg.Population.Caps = map[string]int{"prey": 400}
	env, events := newTestEnv(t, cfg, 99)

	for i := 0; i < 100; i++ {
		mustSpawn(t, env.Reg, components.KindPrey, SpawnSpec{
			Pos: r2.Vec{X: env.Rng.Float64() * 1000, Y: env.Rng.Float64() * 1000},
		})
	}
	for tick := 0; tick < 50; tick++ {
		step(env)
		if n := env.Reg.Count(components.KindPrey); n > 400 {
			t.Fatalf("tick %d: live prey %d exceeds cap 400", tick, n)
		}
	}
	if env.Reg.Count(components.KindPrey) != 400 {
		t.Errorf("prey = %d, expected the cap to be reached", env.Reg.Count(components.KindPrey))
	}
	if events.denied["reproduction"] == 0 {
		t.Error("expected denied reproductions once the cap was reached")
	}
}

func TestShelterRepulsion(t *testing.T) {
	cfg := testConfig(t, "ecosystem")
	env, _ := newTestEnv(t, cfg, 1)
	z := env.Zones.OfKind(ZoneShelter)[0]
	detection := cfg.Ecosystem.DetectionRadius

	tests := []struct {
		name string
		d    float64
		want float64
	}{
		{"at edge of detection", detection, 0},
		{"halfway", detection / 2, cfg.Ecosystem.RepelStrength * 0.5},
		{"outside", detection + 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := r2.Add(z.Center, r2.Vec{X: tt.d})
			push := shelterRepulsion(env, pos, cfg.Ecosystem.RepelStrength)
			if math.Abs(r2.Norm(push)-tt.want) > 1e-9 {
				t.Errorf("push = %v, want magnitude %v", push, tt.want)
			}
			if tt.want > 0 && push.X <= 0 {
				t.Errorf("push %v does not point away from the shelter", push)
			}
		})
	}
}
