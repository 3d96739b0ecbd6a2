package systems

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swarmlab/components"
)

// AgentView is a read-only copy of an agent's pre-tick state.
type AgentView struct {
	ID    components.AgentID
	Kind  components.Kind
	Pos   r2.Vec
	Vel   r2.Vec
	State components.State
	Zone  ZoneID // NoZone when not resident
}

// Frame is the consistent pre-tick picture every behavior reads from.
// Views are sorted by id.
type Frame struct {
	Tick  int64
	Views []AgentView
	index map[components.AgentID]int
}

// NewFrame returns an empty frame.
func NewFrame() *Frame {
	return &Frame{index: make(map[components.AgentID]int)}
}

// Reset empties the frame for a new tick, keeping its storage.
func (f *Frame) Reset(tick int64) {
	f.Tick = tick
	f.Views = f.Views[:0]
	clear(f.index)
}

// Add appends a view. Call Seal once all views are added.
func (f *Frame) Add(v AgentView) {
	f.Views = append(f.Views, v)
}

// Seal sorts views by id and builds the id index.
func (f *Frame) Seal() {
	sort.Slice(f.Views, func(i, j int) bool { return f.Views[i].ID < f.Views[j].ID })
	for i, v := range f.Views {
		f.index[v.ID] = i
	}
}

// View returns the pre-tick view for id.
func (f *Frame) View(id components.AgentID) (AgentView, bool) {
	i, ok := f.index[id]
	if !ok {
		return AgentView{}, false
	}
	return f.Views[i], true
}

// Len returns the number of views.
func (f *Frame) Len() int {
	return len(f.Views)
}

// IndexInto rebuilds the grid from the frame.
func (f *Frame) IndexInto(g *SpatialGrid) {
	g.Clear()
	for _, v := range f.Views {
		g.Insert(v.ID, v.Pos)
	}
}

// Capture fills the frame with every live agent in reg.
func (f *Frame) Capture(tick int64, reg *Registry, zones *ZoneManager) {
	f.Reset(tick)
	reg.Each(func(a Agent) {
		if !a.Alive() {
			return
		}
		f.Add(AgentView{
			ID:    a.ID,
			Kind:  a.Kind,
			Pos:   a.Pos.Vec(),
			Vel:   a.Vel.Vec(),
			State: a.Mind.State,
			Zone:  zones.ZoneOf(a.ID),
		})
	})
	f.Seal()
}
