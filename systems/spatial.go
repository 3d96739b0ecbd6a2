// Package systems provides the per-tick systems of the simulation: spatial
// indexing, the agent registry, zones and the behavior rules for every kind.
package systems

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swarmlab/components"
)

// Neighbor holds a nearby agent with its distance from the query origin.
type Neighbor struct {
	ID   components.AgentID
	Pos  r2.Vec
	Dist float64
}

type gridEntry struct {
	id  components.AgentID
	pos r2.Vec
}

// SpatialGrid provides neighbor lookups using a cell-based grid.
type SpatialGrid struct {
	cellSize float64
	cols     int
	rows     int
	width    float64
	height   float64
	toroidal bool
	cells    [][]gridEntry              // flat grid of entry lists
	where    map[components.AgentID]int // agent -> cell index
}

// NewSpatialGrid creates a spatial grid covering the given world size. When
// toroidal is false, distances are plain Euclidean and never cross the edges.
func NewSpatialGrid(width, height, cellSize float64, toroidal bool) *SpatialGrid {
	cols := max(int(math.Ceil(width/cellSize)), 1)
	rows := max(int(math.Ceil(height/cellSize)), 1)

	cells := make([][]gridEntry, cols*rows)
	for i := range cells {
		cells[i] = make([]gridEntry, 0, 8)
	}

	return &SpatialGrid{
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		width:    width,
		height:   height,
		toroidal: toroidal,
		cells:    cells,
		where:    make(map[components.AgentID]int),
	}
}

// Clear removes all agents from the grid.
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
	clear(g.where)
}

// Len returns the number of indexed agents.
func (g *SpatialGrid) Len() int {
	return len(g.where)
}

// Insert adds an agent to the grid at the given position. Re-inserting an
// indexed agent moves it.
func (g *SpatialGrid) Insert(id components.AgentID, pos r2.Vec) {
	if _, ok := g.where[id]; ok {
		g.Remove(id)
	}
	idx := g.cellIndex(pos)
	g.cells[idx] = append(g.cells[idx], gridEntry{id: id, pos: pos})
	g.where[id] = idx
}

// Remove drops an agent from the grid. It reports whether the agent was indexed.
func (g *SpatialGrid) Remove(id components.AgentID) bool {
	idx, ok := g.where[id]
	if !ok {
		return false
	}
	cell := g.cells[idx]
	for i, e := range cell {
		if e.id == id {
			cell[i] = cell[len(cell)-1]
			g.cells[idx] = cell[:len(cell)-1]
			break
		}
	}
	delete(g.where, id)
	return true
}

// Contains reports whether the agent is indexed.
func (g *SpatialGrid) Contains(id components.AgentID) bool {
	_, ok := g.where[id]
	return ok
}

// QueryRadiusInto appends every agent strictly closer than radius to origin and
// returns the updated slice. Results are unordered; see SortNeighbors.
// Reuse dst across calls to avoid allocations.
func (g *SpatialGrid) QueryRadiusInto(dst []Neighbor, origin r2.Vec, radius float64, exclude components.AgentID) []Neighbor {
	if radius <= 0 {
		return dst
	}
	cellRadius := int(radius/g.cellSize) + 1
	if g.toroidal {
		// the last column/row may be narrower than cellSize
		cellRadius++
	}

	centerCol := int(origin.X / g.cellSize)
	centerRow := int(origin.Y / g.cellSize)

	cols := g.axisCells(centerCol, cellRadius, g.cols)
	rows := g.axisCells(centerRow, cellRadius, g.rows)

	for _, col := range cols {
		for _, row := range rows {
			for _, e := range g.cells[row*g.cols+col] {
				if e.id == exclude {
					continue
				}
				d := g.Distance(origin, e.pos)
				if d < radius {
					dst = append(dst, Neighbor{ID: e.id, Pos: e.pos, Dist: d})
				}
			}
		}
	}

	return dst
}

// axisCells lists the cell coordinates within span of center along one axis.
// Toroidal grids wrap and never repeat a cell; bounded grids clip.
func (g *SpatialGrid) axisCells(center, span, n int) []int {
	if g.toroidal {
		count := min(2*span+1, n)
		out := make([]int, count)
		for i := range out {
			c := center - span + i
			out[i] = (c%n + n) % n
		}
		return out
	}
	lo := max(center-span, 0)
	hi := min(center+span, n-1)
	out := make([]int, 0, hi-lo+1)
	for c := lo; c <= hi; c++ {
		out = append(out, c)
	}
	return out
}

// Distance returns the metric the grid uses for membership tests.
func (g *SpatialGrid) Distance(a, b r2.Vec) float64 {
	return r2.Norm(g.Delta(a, b))
}

// Delta returns the displacement from a to b under the grid's metric.
func (g *SpatialGrid) Delta(a, b r2.Vec) r2.Vec {
	if g.toroidal {
		return ToroidalDelta(a, b, g.width, g.height)
	}
	return r2.Sub(b, a)
}

// cellIndex returns the flat index for a world position.
func (g *SpatialGrid) cellIndex(p r2.Vec) int {
	col := int(p.X / g.cellSize)
	row := int(p.Y / g.cellSize)

	// Clamp to valid range
	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}

	return row*g.cols + col
}

// SortNeighbors orders neighbors by distance, breaking ties by id.
func SortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Dist != ns[j].Dist {
			return ns[i].Dist < ns[j].Dist
		}
		return ns[i].ID < ns[j].ID
	})
}

// ToroidalDelta returns the shortest path delta from a to b.
func ToroidalDelta(a, b r2.Vec, w, h float64) r2.Vec {
	dx := b.X - a.X
	dy := b.Y - a.Y

	if dx > w/2 {
		dx -= w
	} else if dx < -w/2 {
		dx += w
	}
	if dy > h/2 {
		dy -= h
	} else if dy < -h/2 {
		dy += h
	}

	return r2.Vec{X: dx, Y: dy}
}

// Wrap reduces p into [0,w)x[0,h) on both axes independently.
func Wrap(p r2.Vec, w, h float64) r2.Vec {
	return r2.Vec{X: mod(p.X, w), Y: mod(p.Y, h)}
}

// mod returns the positive remainder of x/m.
func mod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	// -tiny + m rounds to m in floating point
	if r >= m {
		r = 0
	}
	return r
}
