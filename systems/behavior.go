package systems

import (
	"math/rand"

	"github.com/pthm-cable/swarmlab/components"
	"github.com/pthm-cable/swarmlab/config"
)

// Events receives the notable outcomes of behavior and zone updates.
// The telemetry collector implements it.
type Events interface {
	Killed(killer, victim components.Kind)
	Starved(kind components.Kind)
	Entered(kind components.Kind, zone string)
	Evicted(kind components.Kind, zone string, reason string)
	Denied(kind components.Kind, what string)
}

// NopEvents discards every event.
type NopEvents struct{}

func (NopEvents) Killed(killer, victim components.Kind)   {}
func (NopEvents) Starved(components.Kind)                 {}
func (NopEvents) Entered(components.Kind, string)         {}
func (NopEvents) Evicted(components.Kind, string, string) {}
func (NopEvents) Denied(components.Kind, string)          {}

// Env is everything a behavior may read or act on during a tick. The frame
// and grid hold pre-tick state; writes go to the agent's own components or
// through the registry and zone manager.
type Env struct {
	Cfg    *config.Config
	Rng    *rand.Rand
	Tick   int64
	Grid   *SpatialGrid
	Frame  *Frame
	Zones  *ZoneManager
	Reg    *Registry
	Events Events

	scratch []Neighbor
}

// Neighbors returns the agents strictly within radius of a, excluding a,
// sorted by distance then id. The slice is reused by the next call.
func (env *Env) Neighbors(a Agent, radius float64) []Neighbor {
	env.scratch = env.Grid.QueryRadiusInto(env.scratch[:0], a.Pos.Vec(), radius, a.ID)
	SortNeighbors(env.scratch)
	return env.scratch
}

// NeighborsOfKind is Neighbors filtered to kind using pre-tick views.
func (env *Env) NeighborsOfKind(a Agent, radius float64, kind components.Kind) []Neighbor {
	all := env.Neighbors(a, radius)
	out := all[:0]
	for _, n := range all {
		if v, ok := env.Frame.View(n.ID); ok && v.Kind == kind {
			out = append(out, n)
		}
	}
	env.scratch = out
	return out
}

func (env *Env) events() Events {
	if env.Events == nil {
		return NopEvents{}
	}
	return env.Events
}

// move advances the agent by its velocity times dt and wraps it into the world.
func (env *Env) move(a Agent, dt float64) {
	p := a.Pos.Vec()
	p.X += a.Vel.X * dt
	p.Y += a.Vel.Y * dt
	a.Pos.Set(Wrap(p, env.Cfg.World.Width, env.Cfg.World.Height))
}

// setState changes the agent's state and restarts its timer.
func setState(a Agent, s components.State) {
	a.Mind.State = s
	a.Mind.Timer = 0
}

// Behavior is the per-kind rule set. Update runs once per tick for every live
// agent of the kind; Evict, when set, runs after the zone tick forced the
// agent out of a zone.
type Behavior struct {
	Update func(env *Env, a Agent)
	Evict  func(env *Env, a Agent, z *Zone, reason EvictReason)
}

// Behaviors is the dispatch table from kind to rules.
var Behaviors = map[components.Kind]Behavior{
	components.KindFlocker:    {Update: updateFlocker},
	components.KindAggregator: {Update: updateAggregator, Evict: evictAggregator},
	components.KindPrey:       {Update: updatePrey, Evict: evictPrey},
	components.KindPredator:   {Update: updatePredator},
	components.KindShelter:    {Update: updateShelter},
	components.KindAttacker:   {Update: updateAttacker},
	components.KindProtector:  {Update: updateProtector},
}

// RunBehaviors updates every agent in the frame in ascending id order. Agents
// killed earlier in the same tick are skipped.
func RunBehaviors(env *Env) {
	for _, v := range env.Frame.Views {
		a, ok := env.Reg.Get(v.ID)
		if !ok || !a.Alive() {
			continue
		}
		b, ok := Behaviors[a.Kind]
		if !ok || b.Update == nil {
			continue
		}
		b.Update(env, a)
	}
}

// TickZones advances zone dwell counters and hands forced evictions of live
// agents to their kind's Evict rule.
func TickZones(env *Env) []Eviction {
	evs := env.Zones.Tick(env.Reg.IsAlive)
	for _, ev := range evs {
		a, ok := env.Reg.Get(ev.Agent)
		if !ok {
			continue
		}
		env.events().Evicted(a.Kind, ev.Zone.Name, ev.Reason.String())
		if !a.Alive() {
			continue
		}
		if b := Behaviors[a.Kind]; b.Evict != nil {
			b.Evict(env, a, ev.Zone, ev.Reason)
		}
	}
	return evs
}
