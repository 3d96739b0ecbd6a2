package systems

import (
	"fmt"
	"math/rand"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swarmlab/components"
)

// Agent gives a behavior write access to one agent's live components.
// The pointers are only valid until the registry applies pending mutations.
type Agent struct {
	ID   components.AgentID
	Kind components.Kind
	Born int64
	Pos  *components.Position
	Vel  *components.Velocity
	Life *components.Life
	Mind *components.Mind
}

// Alive reports whether the agent has not been killed.
func (a Agent) Alive() bool {
	return a.Life != nil && a.Life.Alive
}

// SpawnSpec is the initial state of a new agent.
type SpawnSpec struct {
	Pos   r2.Vec
	Vel   r2.Vec
	State components.State // StateNone selects components.InitialState(kind)
}

// RegistryConfig holds the registry's world bounds and population limits.
type RegistryConfig struct {
	Width, Height float64
	SpawnOffset   float64                 // max per-axis offset of offspring from the parent
	Caps          map[components.Kind]int // live cap per kind, 0 or absent = unbounded
}

type pendingSpawn struct {
	id   components.AgentID
	kind components.Kind
	spec SpawnSpec
}

// Registry owns every agent. Spawns and kills requested during a tick are
// buffered and applied together by ApplyPending, so no agent disappears or
// appears while behaviors are iterating.
type Registry struct {
	world *ecs.World

	mapper *ecs.Map5[
		components.Identity,
		components.Position,
		components.Velocity,
		components.Life,
		components.Mind,
	]
	filter *ecs.Filter5[
		components.Identity,
		components.Position,
		components.Velocity,
		components.Life,
		components.Mind,
	]

	cfg  RegistryConfig
	caps []int
	live []int // live agents per kind, including queued births

	byID   map[components.AgentID]ecs.Entity
	nextID components.AgentID

	tick         int64
	inTick       bool
	pendingSpawn []pendingSpawn
	pendingKill  []ecs.Entity

	// OnKill runs synchronously inside Kill, after the agent is flagged dead.
	OnKill func(id components.AgentID, kind components.Kind)
	// OnBirth runs when a new agent's entity is created.
	OnBirth func(id components.AgentID, kind components.Kind)
}

// NewRegistry creates an empty registry backed by its own ECS world.
func NewRegistry(cfg RegistryConfig) *Registry {
	world := ecs.NewWorld()
	r := &Registry{
		world: world,
		mapper: ecs.NewMap5[
			components.Identity,
			components.Position,
			components.Velocity,
			components.Life,
			components.Mind,
		](world),
		filter: ecs.NewFilter5[
			components.Identity,
			components.Position,
			components.Velocity,
			components.Life,
			components.Mind,
		](world),
		cfg:    cfg,
		caps:   make([]int, components.KindCount()),
		live:   make([]int, components.KindCount()),
		byID:   make(map[components.AgentID]ecs.Entity),
		nextID: 1,
	}
	for k, n := range cfg.Caps {
		r.caps[k] = n
	}
	return r
}

// BeginTick switches the registry into deferred mode for the given tick.
func (r *Registry) BeginTick(tick int64) {
	r.tick = tick
	r.inTick = true
}

// Tick returns the tick passed to the last BeginTick.
func (r *Registry) Tick() int64 {
	return r.tick
}

// Cap returns the live cap for kind (0 = unbounded).
func (r *Registry) Cap(kind components.Kind) int {
	return r.caps[kind]
}

// Count returns the number of live agents of kind, including queued births.
func (r *Registry) Count(kind components.Kind) int {
	return r.live[kind]
}

// Counts returns a copy of the per-kind live counts indexed by kind.
func (r *Registry) Counts() []int {
	out := make([]int, len(r.live))
	copy(out, r.live)
	return out
}

// Total returns the number of live agents over all kinds.
func (r *Registry) Total() int {
	n := 0
	for _, c := range r.live {
		n += c
	}
	return n
}

// Pending returns the number of queued spawns and kills.
func (r *Registry) Pending() (spawns, kills int) {
	return len(r.pendingSpawn), len(r.pendingKill)
}

func (r *Registry) full(kind components.Kind) bool {
	c := r.caps[kind]
	return c > 0 && r.live[kind] >= c
}

// Spawn creates an agent. Outside a tick the entity exists on return; inside a
// tick it is queued until ApplyPending. The id is assigned immediately either way.
func (r *Registry) Spawn(kind components.Kind, spec SpawnSpec) (components.AgentID, error) {
	if int(kind) >= len(r.live) {
		return components.NoAgent, fmt.Errorf("spawn %s: unknown kind", kind)
	}
	if r.full(kind) {
		return components.NoAgent, fmt.Errorf("spawn %s: %w (cap %d)", kind, ErrCapacityExceeded, r.caps[kind])
	}
	if spec.State == components.StateNone {
		spec.State = components.InitialState(kind)
	}
	spec.Pos = Wrap(spec.Pos, r.cfg.Width, r.cfg.Height)

	id := r.nextID
	r.nextID++
	r.live[kind]++

	if r.inTick {
		r.pendingSpawn = append(r.pendingSpawn, pendingSpawn{id: id, kind: kind, spec: spec})
		return id, nil
	}
	r.create(id, kind, spec)
	return id, nil
}

// create adds the entity. Must not be called while a query is open.
func (r *Registry) create(id components.AgentID, kind components.Kind, spec SpawnSpec) {
	ident := components.Identity{ID: id, Kind: kind, Born: r.tick}
	pos := components.Position{X: spec.Pos.X, Y: spec.Pos.Y}
	vel := components.Velocity{X: spec.Vel.X, Y: spec.Vel.Y}
	life := components.Life{Alive: true}
	mind := components.Mind{State: spec.State}

	e := r.mapper.NewEntity(&ident, &pos, &vel, &life, &mind)
	r.byID[id] = e

	if r.OnBirth != nil {
		r.OnBirth(id, kind)
	}
}

// Get returns the live components of an agent. Killed agents are still
// returned until their removal is applied; check Agent.Alive.
func (r *Registry) Get(id components.AgentID) (Agent, bool) {
	e, ok := r.byID[id]
	if !ok || !r.world.Alive(e) {
		return Agent{}, false
	}
	ident, pos, vel, life, mind := r.mapper.Get(e)
	return Agent{
		ID:   ident.ID,
		Kind: ident.Kind,
		Born: ident.Born,
		Pos:  pos,
		Vel:  vel,
		Life: life,
		Mind: mind,
	}, true
}

// IsAlive reports whether id names a live agent.
func (r *Registry) IsAlive(id components.AgentID) bool {
	a, ok := r.Get(id)
	return ok && a.Alive()
}

// Kill flags the agent dead and queues its removal. Killing an unknown or
// already-dead agent returns ErrAgentNotFound and changes nothing.
func (r *Registry) Kill(id components.AgentID) error {
	e, ok := r.byID[id]
	if !ok || !r.world.Alive(e) {
		return fmt.Errorf("kill %d: %w", id, ErrAgentNotFound)
	}
	ident, _, _, life, _ := r.mapper.Get(e)
	if !life.Alive {
		return fmt.Errorf("kill %d: %w", id, ErrAgentNotFound)
	}

	life.Alive = false
	r.live[ident.Kind]--
	r.pendingKill = append(r.pendingKill, e)

	if r.OnKill != nil {
		r.OnKill(id, ident.Kind)
	}
	return nil
}

// Reproduce queues a copy of parent: same kind and velocity, a fresh id, and a
// position within SpawnOffset of the parent on each axis. When the kind is at
// its cap nothing happens and ErrCapacityExceeded is returned.
func (r *Registry) Reproduce(parent components.AgentID, rng *rand.Rand) (components.AgentID, error) {
	p, ok := r.Get(parent)
	if !ok || !p.Alive() {
		return components.NoAgent, fmt.Errorf("reproduce %d: %w", parent, ErrAgentNotFound)
	}
	if r.full(p.Kind) {
		return components.NoAgent, fmt.Errorf("reproduce %s: %w (cap %d)", p.Kind, ErrCapacityExceeded, r.caps[p.Kind])
	}

	off := r.cfg.SpawnOffset
	offset := r2.Vec{X: uniform(rng, -off, off), Y: uniform(rng, -off, off)}
	return r.Spawn(p.Kind, SpawnSpec{
		Pos: r2.Add(p.Pos.Vec(), offset),
		Vel: p.Vel.Vec(),
	})
}

// ApplyPending removes killed agents and then creates queued births in request
// order. It ends deferred mode; call it once per tick after every behavior ran.
func (r *Registry) ApplyPending() (removed, born int) {
	for _, e := range r.pendingKill {
		if !r.world.Alive(e) {
			continue
		}
		ident, _, _, _, _ := r.mapper.Get(e)
		delete(r.byID, ident.ID)
		r.world.RemoveEntity(e)
		removed++
	}
	r.pendingKill = r.pendingKill[:0]

	for _, s := range r.pendingSpawn {
		r.create(s.id, s.kind, s.spec)
		born++
	}
	r.pendingSpawn = r.pendingSpawn[:0]

	r.inTick = false
	return removed, born
}

// Each calls fn for every agent entity, dead or alive, in storage order.
// fn must not spawn, kill or apply pending mutations.
func (r *Registry) Each(fn func(a Agent)) {
	query := r.filter.Query()
	for query.Next() {
		ident, pos, vel, life, mind := query.Get()
		fn(Agent{
			ID:   ident.ID,
			Kind: ident.Kind,
			Born: ident.Born,
			Pos:  pos,
			Vel:  vel,
			Life: life,
			Mind: mind,
		})
	}
}
