package systems

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// FlockForces holds the three boid steering terms for one agent.
type FlockForces struct {
	Alignment  r2.Vec
	Separation r2.Vec
	Cohesion   r2.Vec
}

// ComputeFlockForces derives alignment, separation and cohesion from the
// pre-tick neighbor views. It returns false when there are no neighbors.
//
//	alignment  = mean(neighbor velocity) - velocity
//	separation = mean(position - neighbor position)
//	cohesion   = (mean neighbor position - position) - velocity
//
// Offsets come from delta so the toroidal metric, when enabled, also shapes
// the forces.
func ComputeFlockForces(pos, vel r2.Vec, neighbors []AgentView, delta func(a, b r2.Vec) r2.Vec) (FlockForces, bool) {
	if len(neighbors) == 0 {
		return FlockForces{}, false
	}

	var sumVel, sumOffset r2.Vec
	for _, n := range neighbors {
		sumVel = r2.Add(sumVel, n.Vel)
		sumOffset = r2.Add(sumOffset, delta(pos, n.Pos))
	}
	inv := 1 / float64(len(neighbors))
	avgVel := r2.Scale(inv, sumVel)
	avgOffset := r2.Scale(inv, sumOffset) // mean(neighbor - pos)

	return FlockForces{
		Alignment:  r2.Sub(avgVel, vel),
		Separation: r2.Scale(-1, avgOffset),
		Cohesion:   r2.Sub(avgOffset, vel),
	}, true
}

func updateFlocker(env *Env, a Agent) {
	cfg := env.Cfg
	fc := cfg.Flocking

	ns := env.NeighborsOfKind(a, cfg.Agent.Radius, a.Kind)
	views := make([]AgentView, 0, len(ns))
	for _, n := range ns {
		if v, ok := env.Frame.View(n.ID); ok {
			views = append(views, v)
		}
	}

	vel := a.Vel.Vec()
	f, ok := ComputeFlockForces(a.Pos.Vec(), vel, views, env.Grid.Delta)
	if !ok {
		// Lone boid: small random heading change
		angle := uniform(env.Rng, -cfg.Agent.WanderAngle, cfg.Agent.WanderAngle)
		vel = rotate(vel, angle)
		if r2.Norm(vel) == 0 {
			vel = randomHeading(env.Rng, cfg.Agent.Speed)
		}
	} else {
		steer := r2.Add(r2.Add(
			r2.Scale(fc.AlignmentWeight, f.Alignment),
			r2.Scale(fc.SeparationWeight, f.Separation)),
			r2.Scale(fc.CohesionWeight, f.Cohesion))
		vel = r2.Add(vel, r2.Scale(1/fc.Mass, steer))
	}

	vel = clampLength(vel, fc.MinSpeed, fc.MaxVelocity)
	a.Vel.Set(vel)
	env.move(a, cfg.Sim.DeltaTime)
}
