package systems

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swarmlab/components"
)

// shelterRepulsion sums the push away from every shelter whose center lies
// within the detection radius. The push grows linearly with penetration,
// (detection - d) / detection, and is scaled by strength.
func shelterRepulsion(env *Env, pos r2.Vec, strength float64) r2.Vec {
	detection := env.Cfg.Ecosystem.DetectionRadius
	var push r2.Vec
	if detection <= 0 {
		return push
	}
	for _, z := range env.Zones.OfKind(ZoneShelter) {
		away := env.Zones.Delta(z.Center, pos)
		d := r2.Norm(away)
		if d >= detection {
			continue
		}
		penetration := (detection - d) / detection
		push = r2.Add(push, r2.Scale(strength*penetration, unit(away)))
	}
	return push
}

// jitter rotates vel by U(-spread, spread) and gives it the requested speed,
// picking a random heading when vel is zero.
func jitter(env *Env, vel r2.Vec, spread, speed float64) r2.Vec {
	if r2.Norm(vel) == 0 {
		return randomHeading(env.Rng, speed)
	}
	return withLength(rotate(vel, uniform(env.Rng, -spread, spread)), speed)
}

// reproduce asks the registry for an offspring of a and reports denials.
func reproduce(env *Env, a Agent) {
	if _, err := env.Reg.Reproduce(a.ID, env.Rng); err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			env.events().Denied(a.Kind, "reproduction")
		}
	}
}

func updatePrey(env *Env, a Agent) {
	if a.Mind.State == components.StateSheltered {
		// the shelter's zone tick decides when the occupant leaves
		a.Mind.Timer++
		return
	}
	cfg := env.Cfg
	eco := cfg.Ecosystem
	speed := cfg.Agent.Speed
	pos := a.Pos.Vec()

	vel := jitter(env, a.Vel.Vec(), cfg.Agent.WanderAngle, speed)

	for _, z := range env.Zones.OfKind(ZoneShelter) {
		d := env.Zones.Distance(z.Center, pos)
		if d >= eco.DetectionRadius || d >= z.Radius {
			continue
		}
		if err := enterShelter(env, a, z); err == nil {
			return
		}
		env.events().Denied(a.Kind, "shelter_entry")
	}

	vel = r2.Add(vel, shelterRepulsion(env, pos, eco.RepelStrength))
	if r2.Norm(vel) == 0 {
		vel = randomHeading(env.Rng, speed)
	}
	a.Vel.Set(withLength(vel, speed))
	env.move(a, cfg.Sim.DeltaTime)

	if bernoulli(env.Rng, eco.PreyReproductionProb) {
		reproduce(env, a)
	}
}

// enterShelter registers a as an occupant of z and relocates it to a random
// point at distance U(r, R - r/0.7) from the center, kept strictly inside R.
func enterShelter(env *Env, a Agent, z *Zone) error {
	if err := env.Zones.Enter(z, a.ID); err != nil {
		return err
	}
	r := env.Cfg.Agent.Radius
	d := uniform(env.Rng, r, z.Radius-r/0.7)
	if d < 0 {
		d = -d
	}
	if d >= z.Radius {
		d = z.Radius * env.Rng.Float64()
	}
	offset := randomHeading(env.Rng, d)
	// edge-crossing shelters require wrapped distances, so the wrapped
	// point stays within R of the center
	a.Pos.Set(Wrap(r2.Add(z.Center, offset), env.Cfg.World.Width, env.Cfg.World.Height))
	a.Vel.Set(r2.Vec{})
	setState(a, components.StateSheltered)
	env.events().Entered(a.Kind, z.Name)
	return nil
}

// evictPrey places a prey whose stay ran out just outside the shelter,
// moving outward at evict_speed_factor times its speed.
func evictPrey(env *Env, a Agent, z *Zone, reason EvictReason) {
	setState(a, components.StateFree)
	if reason != EvictTimeout {
		return
	}
	cfg := env.Cfg
	out := unit(env.Zones.Delta(z.Center, a.Pos.Vec()))
	if r2.Norm(out) == 0 {
		out = r2.Vec{X: 1}
	}
	p := r2.Add(z.Center, r2.Scale(z.Radius+cfg.Agent.Radius, out))
	a.Pos.Set(Wrap(p, cfg.World.Width, cfg.World.Height))
	a.Vel.Set(r2.Scale(cfg.Agent.Speed*cfg.Ecosystem.EvictSpeedFactor, out))
}

// isSheltered reports whether the prey is currently inside a shelter.
func isSheltered(env *Env, id components.AgentID) bool {
	return env.Zones.ZoneOf(id) != NoZone
}

func updatePredator(env *Env, a Agent) {
	cfg := env.Cfg
	eco := cfg.Ecosystem
	speed := cfg.Agent.Speed

	vel := a.Vel.Vec()
	if r2.Norm(vel) == 0 {
		vel = randomHeading(env.Rng, speed)
	}
	vel = r2.Add(vel, shelterRepulsion(env, a.Pos.Vec(), eco.RepelStrength*eco.PredatorRepelFactor))
	if r2.Norm(vel) == 0 {
		vel = randomHeading(env.Rng, speed)
	}
	a.Vel.Set(withLength(vel, speed))
	env.move(a, cfg.Sim.DeltaTime)

	a.Mind.HasEaten = false
	for _, n := range env.NeighborsOfKind(a, eco.EatingRadius, components.KindPrey) {
		if isSheltered(env, n.ID) {
			continue
		}
		if err := env.Reg.Kill(n.ID); err != nil {
			// already eaten by an agent updated earlier this tick
			continue
		}
		a.Mind.HasEaten = true
		env.events().Killed(a.Kind, components.KindPrey)
		if bernoulli(env.Rng, eco.PredatorReproductionChance) {
			reproduce(env, a)
		}
		break
	}

	if !a.Mind.HasEaten && bernoulli(env.Rng, eco.PredatorDeathProb) {
		if err := env.Reg.Kill(a.ID); err == nil {
			env.events().Starved(a.Kind)
		}
	}
}

// updateShelter keeps the marker agent pinned at its zone center.
func updateShelter(env *Env, a Agent) {
	a.Vel.Set(r2.Vec{})
}

func updateAttacker(env *Env, a Agent) {
	cfg := env.Cfg
	speed := cfg.Ecosystem.AttackerSpeed

	for _, n := range env.NeighborsOfKind(a, cfg.Agent.Radius, components.KindPrey) {
		if err := env.Reg.Kill(n.ID); err != nil {
			continue
		}
		env.events().Killed(a.Kind, components.KindPrey)
		dir := unit(env.Grid.Delta(a.Pos.Vec(), n.Pos))
		if r2.Norm(dir) == 0 {
			dir = unit(a.Vel.Vec())
		}
		a.Vel.Set(r2.Scale(speed, dir))
		env.move(a, cfg.Sim.DeltaTime)
		return
	}

	a.Vel.Set(jitter(env, a.Vel.Vec(), cfg.Agent.WanderAngle, speed))
	env.move(a, cfg.Sim.DeltaTime)
}

func updateProtector(env *Env, a Agent) {
	cfg := env.Cfg
	a.Vel.Set(jitter(env, a.Vel.Vec(), cfg.Agent.WanderAngle, cfg.Ecosystem.ProtectorSpeed))
	env.move(a, cfg.Sim.DeltaTime)

	for _, n := range env.NeighborsOfKind(a, cfg.Agent.Radius, components.KindPredator) {
		if err := env.Reg.Kill(n.ID); err == nil {
			env.events().Killed(a.Kind, components.KindPredator)
		}
	}
}
