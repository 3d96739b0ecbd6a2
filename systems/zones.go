package systems

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swarmlab/components"
	"github.com/pthm-cable/swarmlab/config"
)

// ZoneID identifies a zone. Zone ids start at 1.
type ZoneID uint16

// NoZone marks an agent that is not resident anywhere.
const NoZone ZoneID = 0

// ZoneKind distinguishes aggregation sites from shelters.
type ZoneKind uint8

const (
	ZoneAggregation ZoneKind = iota
	ZoneShelter
)

func (k ZoneKind) String() string {
	switch k {
	case ZoneAggregation:
		return "aggregation"
	case ZoneShelter:
		return "shelter"
	default:
		return fmt.Sprintf("zonekind(%d)", uint8(k))
	}
}

// Zone is a circular region with optional capacity and dwell limit.
// Geometry is fixed at construction; only occupancy changes.
type Zone struct {
	ID       ZoneID
	Name     string
	Kind     ZoneKind
	Center   r2.Vec
	Radius   float64
	Capacity int // 0 = unbounded
	MaxStay  int // 0 = unlimited

	occupants map[components.AgentID]int // agent -> dwell ticks
}

// Contains reports whether p lies strictly inside the zone, measured with dist.
func (z *Zone) Contains(p r2.Vec, dist func(a, b r2.Vec) float64) bool {
	return dist(z.Center, p) < z.Radius
}

// Occupancy returns the number of resident agents.
func (z *Zone) Occupancy() int {
	return len(z.occupants)
}

// Dwell returns how many ticks id has been resident.
func (z *Zone) Dwell(id components.AgentID) (int, bool) {
	d, ok := z.occupants[id]
	return d, ok
}

// AllowEntry reports whether one more occupant fits.
func (z *Zone) AllowEntry() bool {
	return z.Capacity <= 0 || len(z.occupants) < z.Capacity
}

// Occupants returns resident ids in ascending order.
func (z *Zone) Occupants() []components.AgentID {
	ids := make([]components.AgentID, 0, len(z.occupants))
	for id := range z.occupants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EvictReason says why an occupant was removed by the zone tick.
type EvictReason uint8

const (
	EvictTimeout EvictReason = iota
	EvictDead
)

func (r EvictReason) String() string {
	if r == EvictDead {
		return "dead"
	}
	return "timeout"
}

// Eviction is one forced removal reported by ZoneManager.Tick.
type Eviction struct {
	Zone   *Zone
	Agent  components.AgentID
	Reason EvictReason
	Dwell  int
}

// ZoneManager owns all zones and the agent -> zone membership.
type ZoneManager struct {
	zones  []*Zone
	member map[components.AgentID]ZoneID
	delta  func(a, b r2.Vec) r2.Vec
}

// NewZoneManager creates an empty manager. delta gives the displacement used
// for containment tests and outward directions, normally SpatialGrid.Delta.
// A nil delta means plain Euclidean.
func NewZoneManager(delta func(a, b r2.Vec) r2.Vec) *ZoneManager {
	if delta == nil {
		delta = func(a, b r2.Vec) r2.Vec { return r2.Sub(b, a) }
	}
	return &ZoneManager{
		member: make(map[components.AgentID]ZoneID),
		delta:  delta,
	}
}

// Add registers a zone and returns it with its id assigned.
func (m *ZoneManager) Add(name string, kind ZoneKind, center r2.Vec, radius float64, capacity, maxStay int) *Zone {
	z := &Zone{
		ID:        ZoneID(len(m.zones) + 1),
		Name:      name,
		Kind:      kind,
		Center:    center,
		Radius:    radius,
		Capacity:  capacity,
		MaxStay:   maxStay,
		occupants: make(map[components.AgentID]int),
	}
	m.zones = append(m.zones, z)
	return z
}

// Zones returns every zone in id order.
func (m *ZoneManager) Zones() []*Zone {
	return m.zones
}

// Zone returns the zone with the given id, or nil.
func (m *ZoneManager) Zone(id ZoneID) *Zone {
	if id == NoZone || int(id) > len(m.zones) {
		return nil
	}
	return m.zones[id-1]
}

// OfKind returns the zones of one kind in id order.
func (m *ZoneManager) OfKind(kind ZoneKind) []*Zone {
	var out []*Zone
	for _, z := range m.zones {
		if z.Kind == kind {
			out = append(out, z)
		}
	}
	return out
}

// ZoneOf returns the zone id is resident in, or NoZone.
func (m *ZoneManager) ZoneOf(id components.AgentID) ZoneID {
	return m.member[id]
}

// Distance exposes the containment metric.
func (m *ZoneManager) Distance(a, b r2.Vec) float64 {
	return r2.Norm(m.delta(a, b))
}

// Delta returns the displacement from a to b under the containment metric.
func (m *ZoneManager) Delta(a, b r2.Vec) r2.Vec {
	return m.delta(a, b)
}

// Containing returns the zone of the given kind whose center is nearest to p
// among those containing p, or nil. Ties go to the lower id.
func (m *ZoneManager) Containing(p r2.Vec, kind ZoneKind) *Zone {
	var best *Zone
	bestD := 0.0
	for _, z := range m.zones {
		if z.Kind != kind {
			continue
		}
		d := m.Distance(z.Center, p)
		if d >= z.Radius {
			continue
		}
		if best == nil || d < bestD {
			best, bestD = z, d
		}
	}
	return best
}

// Nearest returns the zone of the given kind whose center is nearest to p, or nil.
func (m *ZoneManager) Nearest(p r2.Vec, kind ZoneKind) *Zone {
	var best *Zone
	bestD := 0.0
	for _, z := range m.zones {
		if z.Kind != kind {
			continue
		}
		d := m.Distance(z.Center, p)
		if best == nil || d < bestD {
			best, bestD = z, d
		}
	}
	return best
}

// Enter makes id a resident of z with dwell 0. It fails with
// ErrAlreadyResident if id lives in another zone and with ErrCapacityExceeded
// if z is full. Re-entering the same zone is a no-op.
func (m *ZoneManager) Enter(z *Zone, id components.AgentID) error {
	if cur := m.member[id]; cur != NoZone {
		if cur == z.ID {
			return nil
		}
		return fmt.Errorf("enter %s: agent %d: %w", z.Name, id, ErrAlreadyResident)
	}
	if !z.AllowEntry() {
		return fmt.Errorf("enter %s: %w (capacity %d)", z.Name, ErrCapacityExceeded, z.Capacity)
	}
	z.occupants[id] = 0
	m.member[id] = z.ID
	return nil
}

// Release removes id from whatever zone it occupies. It returns the zone it
// left, or nil if it was not resident.
func (m *ZoneManager) Release(id components.AgentID) *Zone {
	zid, ok := m.member[id]
	if !ok {
		return nil
	}
	delete(m.member, id)
	z := m.Zone(zid)
	if z != nil {
		delete(z.occupants, id)
	}
	return z
}

// Tick advances dwell counters. Occupants that died, or whose dwell reached
// the zone's MaxStay, are released and reported. Zones are visited in id
// order and occupants in ascending agent id, so results are deterministic.
func (m *ZoneManager) Tick(alive func(components.AgentID) bool) []Eviction {
	var out []Eviction
	for _, z := range m.zones {
		for _, id := range z.Occupants() {
			dwell := z.occupants[id]
			switch {
			case !alive(id):
				out = append(out, Eviction{Zone: z, Agent: id, Reason: EvictDead, Dwell: dwell})
			case z.MaxStay > 0 && dwell >= z.MaxStay:
				out = append(out, Eviction{Zone: z, Agent: id, Reason: EvictTimeout, Dwell: dwell})
			default:
				z.occupants[id] = dwell + 1
				continue
			}
			delete(z.occupants, id)
			delete(m.member, id)
		}
	}
	return out
}

// NewZonesFromConfig builds the aggregation zones and then the shelters
// described by cfg's derived zone lists.
func NewZonesFromConfig(cfg *config.Config, delta func(a, b r2.Vec) r2.Vec) *ZoneManager {
	m := NewZoneManager(delta)
	for _, z := range cfg.Derived.AggregationZones {
		m.Add(z.Name, ZoneAggregation, centerOf(z), z.Radius, z.Capacity, z.MaxStay)
	}
	for _, z := range cfg.Derived.Shelters {
		m.Add(z.Name, ZoneShelter, centerOf(z), z.Radius, z.Capacity, z.MaxStay)
	}
	return m
}

func centerOf(z config.ZoneConfig) r2.Vec {
	if len(z.Center) < 2 {
		return r2.Vec{}
	}
	return r2.Vec{X: z.Center[0], Y: z.Center[1]}
}
