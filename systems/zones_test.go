package systems

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swarmlab/components"
)

func TestZoneCapacity(t *testing.T) {
	m := NewZoneManager(nil)
	z := m.Add("castle", ZoneShelter, r2.Vec{X: 500, Y: 500}, 50, 2, 0)

	for id := components.AgentID(1); id <= 2; id++ {
		if err := m.Enter(z, id); err != nil {
			t.Fatalf("Enter(%d): %v", id, err)
		}
	}
	if z.AllowEntry() {
		t.Error("full zone should not allow entry")
	}
	err := m.Enter(z, 3)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("third entry: got %v, want ErrCapacityExceeded", err)
	}
	if z.Occupancy() != 2 {
		t.Errorf("occupancy = %d, want 2", z.Occupancy())
	}
	if m.ZoneOf(3) != NoZone {
		t.Error("denied agent recorded as member")
	}
}

func TestZoneSingleMembership(t *testing.T) {
	m := NewZoneManager(nil)
	a := m.Add("a", ZoneAggregation, r2.Vec{X: 100, Y: 100}, 50, 0, 0)
	b := m.Add("b", ZoneAggregation, r2.Vec{X: 300, Y: 300}, 50, 0, 0)

	if err := m.Enter(a, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Enter(a, 1); err != nil {
		t.Errorf("re-entering same zone should be a no-op, got %v", err)
	}
	if err := m.Enter(b, 1); !errors.Is(err, ErrAlreadyResident) {
		t.Errorf("entering second zone: got %v, want ErrAlreadyResident", err)
	}
	if left := m.Release(1); left != a {
		t.Errorf("Release returned %v, want zone a", left)
	}
	if err := m.Enter(b, 1); err != nil {
		t.Errorf("enter after release: %v", err)
	}
}

func TestZoneTickEvictsAtMaxStay(t *testing.T) {
	m := NewZoneManager(nil)
	z := m.Add("castle", ZoneShelter, r2.Vec{X: 500, Y: 500}, 50, 10, 3)
	if err := m.Enter(z, 1); err != nil {
		t.Fatal(err)
	}
	alive := func(components.AgentID) bool { return true }

	for tick := 1; tick <= 3; tick++ {
		if evs := m.Tick(alive); len(evs) != 0 {
			t.Fatalf("tick %d: unexpected eviction %+v", tick, evs)
		}
		if d, _ := z.Dwell(1); d > z.MaxStay {
			t.Fatalf("dwell %d exceeds max stay %d", d, z.MaxStay)
		}
	}

	evs := m.Tick(alive)
	if len(evs) != 1 {
		t.Fatalf("expected one eviction, got %d", len(evs))
	}
	if evs[0].Reason != EvictTimeout || evs[0].Agent != 1 || evs[0].Dwell != 3 {
		t.Errorf("eviction = %+v, want agent 1 timeout at dwell 3", evs[0])
	}
	if z.Occupancy() != 0 || m.ZoneOf(1) != NoZone {
		t.Error("evicted agent still resident")
	}
}

func TestZoneTickEvictsDead(t *testing.T) {
	m := NewZoneManager(nil)
	z := m.Add("castle", ZoneShelter, r2.Vec{X: 500, Y: 500}, 50, 10, 0)
	for id := components.AgentID(1); id <= 3; id++ {
		if err := m.Enter(z, id); err != nil {
			t.Fatal(err)
		}
	}

	evs := m.Tick(func(id components.AgentID) bool { return id != 2 })
	if len(evs) != 1 || evs[0].Agent != 2 || evs[0].Reason != EvictDead {
		t.Fatalf("evictions = %+v, want agent 2 dead", evs)
	}
	if z.Occupancy() != 2 {
		t.Errorf("occupancy = %d, want 2", z.Occupancy())
	}
}

func TestZoneContaining(t *testing.T) {
	m := NewZoneManager(nil)
	m.Add("far", ZoneAggregation, r2.Vec{X: 600, Y: 500}, 200, 0, 0)
	near := m.Add("near", ZoneAggregation, r2.Vec{X: 510, Y: 500}, 50, 0, 0)
	m.Add("shelter", ZoneShelter, r2.Vec{X: 500, Y: 500}, 50, 0, 0)

	if got := m.Containing(r2.Vec{X: 500, Y: 500}, ZoneAggregation); got != near {
		t.Errorf("Containing = %v, want nearest-center zone", got)
	}
	if got := m.Containing(r2.Vec{X: 10, Y: 10}, ZoneAggregation); got != nil {
		t.Errorf("Containing outside every zone = %v, want nil", got)
	}
	if got := m.Nearest(r2.Vec{X: 10, Y: 10}, ZoneShelter); got == nil || got.Name != "shelter" {
		t.Errorf("Nearest shelter = %v", got)
	}
}

func TestKillReleasesOccupancy(t *testing.T) {
	env, _ := newTestEnv(t, testConfig(t, "ecosystem"), 1)
	z := env.Zones.OfKind(ZoneShelter)[0]
	id := mustSpawn(t, env.Reg, components.KindPrey, SpawnSpec{Pos: z.Center})
	if err := env.Zones.Enter(z, id); err != nil {
		t.Fatal(err)
	}

	if err := env.Reg.Kill(id); err != nil {
		t.Fatal(err)
	}
	if z.Occupancy() != 0 || env.Zones.ZoneOf(id) != NoZone {
		t.Error("killed agent still occupies the shelter")
	}
}
