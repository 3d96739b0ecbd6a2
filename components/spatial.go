package components

import "gonum.org/v1/gonum/spatial/r2"

// Position represents an agent's world position, always inside [0,W)x[0,H).
type Position struct {
	X, Y float64
}

// Vec returns the position as a gonum vector.
func (p Position) Vec() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// Set stores v into the position.
func (p *Position) Set(v r2.Vec) { p.X, p.Y = v.X, v.Y }

// Velocity represents an agent's displacement per tick.
type Velocity struct {
	X, Y float64
}

// Vec returns the velocity as a gonum vector.
func (v Velocity) Vec() r2.Vec { return r2.Vec{X: v.X, Y: v.Y} }

// Set stores u into the velocity.
func (v *Velocity) Set(u r2.Vec) { v.X, v.Y = u.X, u.Y }
