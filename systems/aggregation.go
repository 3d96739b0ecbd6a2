package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swarmlab/components"
	"github.com/pthm-cable/swarmlab/config"
)

// PJoin is the probability of joining an aggregate with n neighbors inside the
// zone: base + gain*(1 - exp(-rate*n)) when inZone, 0 otherwise.
func PJoin(ac config.AggregationConfig, n int, inZone bool) float64 {
	if !inZone {
		return 0
	}
	return ac.JoinBase + ac.JoinGain*(1-math.Exp(-ac.JoinRate*float64(n)))
}

// PLeave is the probability of leaving an aggregate with n neighbors inside
// the zone: exp(-rate*n) when inZone, 1 otherwise.
func PLeave(ac config.AggregationConfig, n int, inZone bool) float64 {
	if !inZone {
		return 1
	}
	return math.Exp(-ac.LeaveRate * float64(n))
}

// aggregationSite resolves the zone the agent measures density against: the
// zone it is resident in, else the nearest aggregation zone containing it.
// n counts aggregators within perception radius that are also inside the zone.
func aggregationSite(env *Env, a Agent) (z *Zone, inZone bool, n int) {
	pos := a.Pos.Vec()
	if zid := env.Zones.ZoneOf(a.ID); zid != NoZone {
		z = env.Zones.Zone(zid)
	}
	if z == nil {
		z = env.Zones.Containing(pos, ZoneAggregation)
	}
	if z == nil {
		return nil, false, 0
	}
	inZone = z.Contains(pos, env.Zones.Distance)
	if !inZone {
		return z, false, 0
	}
	for _, nb := range env.NeighborsOfKind(a, env.Cfg.Agent.Radius, components.KindAggregator) {
		if z.Contains(nb.Pos, env.Zones.Distance) {
			n++
		}
	}
	return z, true, n
}

func updateAggregator(env *Env, a Agent) {
	cfg := env.Cfg
	ac := cfg.Aggregation
	speed := cfg.Agent.Speed

	z, inZone, n := aggregationSite(env, a)

	switch a.Mind.State {
	case components.StateWandering:
		vel := a.Vel.Vec()
		if r2.Norm(vel) == 0 {
			vel = randomHeading(env.Rng, speed)
		}
		if bernoulli(env.Rng, ac.ReheadProb) {
			vel = rotate(vel, uniform(env.Rng, -cfg.Derived.ReheadRadians, cfg.Derived.ReheadRadians))
		}
		a.Vel.Set(withLength(vel, speed))

		if inZone && bernoulli(env.Rng, PJoin(ac, n, inZone)) {
			if err := env.Zones.Enter(z, a.ID); err != nil {
				env.events().Denied(a.Kind, "zone_entry")
			} else {
				setState(a, components.StateJoin)
				env.events().Entered(a.Kind, z.Name)
			}
		}
		env.move(a, cfg.Sim.DeltaTime)

	case components.StateJoin:
		a.Mind.Timer++
		if a.Mind.Timer > ac.Tjoin {
			// stops on the spot; skips the last slow JOIN step
			setState(a, components.StateStill)
			a.Vel.Set(r2.Vec{})
			return
		}
		vel := a.Vel.Vec()
		if r2.Norm(vel) == 0 {
			vel = randomHeading(env.Rng, 1)
		}
		a.Vel.Set(withLength(vel, speed*ac.JoinSpeedFactor))
		env.move(a, cfg.Sim.DeltaTime)

	case components.StateStill:
		a.Vel.Set(r2.Vec{})
		a.Mind.Timer++
		if a.Mind.Timer > ac.Tleave && bernoulli(env.Rng, PLeave(ac, n, inZone)) {
			setState(a, components.StateLeave)
			env.Zones.Release(a.ID)
		}

	case components.StateLeave:
		vel := a.Vel.Vec()
		if r2.Norm(vel) < 0.01 {
			vel = randomHeading(env.Rng, speed)
		}
		a.Vel.Set(withLength(vel, speed))
		a.Mind.Timer++
		if a.Mind.Timer > ac.LeaveGrace {
			setState(a, components.StateWandering)
		}
		env.move(a, cfg.Sim.DeltaTime)

	default:
		setState(a, components.StateWandering)
	}
}

// evictAggregator sends an agent that overstayed its zone into LEAVE, heading
// away from the zone center.
func evictAggregator(env *Env, a Agent, z *Zone, _ EvictReason) {
	out := unit(env.Zones.Delta(z.Center, a.Pos.Vec()))
	if r2.Norm(out) == 0 {
		out = randomHeading(env.Rng, 1)
	}
	a.Vel.Set(r2.Scale(env.Cfg.Agent.Speed, out))
	setState(a, components.StateLeave)
}
