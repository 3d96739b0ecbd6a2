package telemetry

import (
	"math"
	"testing"
	"time"
)

// stepClock advances by a fixed amount each time it is read.
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestPerf(window int, phases ...string) (*PerfCollector, *stepClock) {
	clock := &stepClock{t: time.Unix(0, 0), step: time.Millisecond}
	pc := NewPerfCollector(window, phases)
	pc.now = clock.now
	return pc, clock
}

func TestPerfCollectorThroughput(t *testing.T) {
	pc, _ := newTestPerf(10, "sense", "act")

	// Each clock read moves 1ms: sense runs 1ms, act runs 1ms, so a tick
	// spans 3ms from BeginTick to EndTick.
	for range 4 {
		pc.BeginTick()
		pc.Enter("sense")
		pc.Processed(100)
		pc.Enter("act")
		pc.Processed(50)
		pc.EndTick()
	}

	s := pc.Stats()
	if s.Samples != 4 {
		t.Fatalf("samples = %d, want 4", s.Samples)
	}
	if s.MeanTick != 3*time.Millisecond {
		t.Errorf("mean tick = %v, want 3ms", s.MeanTick)
	}
	if math.Abs(s.TicksPerSecond-1000.0/3) > 1e-6 {
		t.Errorf("ticks/s = %v, want %v", s.TicksPerSecond, 1000.0/3)
	}

	tests := []struct {
		phase        string
		perTick      float64
		perSecond    float64
		share        float64
		wantPosition int
	}{
		{"sense", 100, 100_000, 1.0 / 3, 0},
		{"act", 50, 50_000, 1.0 / 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.phase, func(t *testing.T) {
			ph, ok := s.Phase(tt.phase)
			if !ok {
				t.Fatalf("phase %q missing", tt.phase)
			}
			if s.Phases[tt.wantPosition].Name != tt.phase {
				t.Errorf("phase order: position %d is %q", tt.wantPosition, s.Phases[tt.wantPosition].Name)
			}
			if ph.Mean != time.Millisecond {
				t.Errorf("mean = %v, want 1ms", ph.Mean)
			}
			if ph.ItemsPerTick != tt.perTick {
				t.Errorf("items/tick = %v, want %v", ph.ItemsPerTick, tt.perTick)
			}
			if math.Abs(ph.ItemsPerSecond-tt.perSecond) > 1e-6 {
				t.Errorf("items/s = %v, want %v", ph.ItemsPerSecond, tt.perSecond)
			}
			if math.Abs(ph.Share-tt.share) > 1e-9 {
				t.Errorf("share = %v, want %v", ph.Share, tt.share)
			}
		})
	}
}

func TestPerfCollectorWindowDropsOldTicks(t *testing.T) {
	pc, clock := newTestPerf(3, "work")

	run := func(items int) {
		pc.BeginTick()
		pc.Enter("work")
		pc.Processed(items)
		pc.EndTick()
	}
	for range 3 {
		run(1000)
	}
	clock.step = 2 * time.Millisecond
	for range 3 {
		run(10)
	}

	s := pc.Stats()
	if s.Samples != 3 {
		t.Errorf("samples = %d, want 3", s.Samples)
	}
	ph, _ := s.Phase("work")
	if ph.ItemsPerTick != 10 {
		t.Errorf("items/tick = %v, want 10 once the old ticks rotated out", ph.ItemsPerTick)
	}
	if ph.Mean != 2*time.Millisecond {
		t.Errorf("mean = %v, want 2ms", ph.Mean)
	}
}

func TestPerfCollectorPhaseReentry(t *testing.T) {
	pc, _ := newTestPerf(5, "a", "b")
	pc.BeginTick()
	pc.Enter("a")
	pc.Processed(1)
	pc.Enter("b")
	pc.Enter("a")
	pc.Processed(2)
	pc.EndTick()

	s := pc.Stats()
	a, _ := s.Phase("a")
	b, _ := s.Phase("b")
	if a.Mean != 2*time.Millisecond || a.ItemsPerTick != 3 {
		t.Errorf("a = %v/%v items, want 2ms/3", a.Mean, a.ItemsPerTick)
	}
	if b.Mean != time.Millisecond || b.ItemsPerSecond != 0 {
		t.Errorf("b = %v/%v items/s, want 1ms/0", b.Mean, b.ItemsPerSecond)
	}
}

func TestPerfCollectorP95(t *testing.T) {
	pc, clock := newTestPerf(40, "work")
	for i := range 40 {
		clock.step = time.Millisecond
		if i == 39 {
			clock.step = 10 * time.Millisecond
		}
		pc.BeginTick()
		pc.Enter("work")
		pc.EndTick()
	}

	s := pc.Stats()
	if s.MaxTick != 20*time.Millisecond {
		t.Errorf("max tick = %v, want 20ms", s.MaxTick)
	}
	if s.P95Tick != 2*time.Millisecond {
		t.Errorf("p95 tick = %v, want 2ms with a single outlier", s.P95Tick)
	}
}

func TestPerfCollectorEmpty(t *testing.T) {
	pc, _ := newTestPerf(10, "work")
	s := pc.Stats()
	if s.Samples != 0 || s.MeanTick != 0 || len(s.Phases) != 0 {
		t.Errorf("empty stats = %+v", s)
	}
	if _, ok := s.Phase("work"); ok {
		t.Error("empty stats reported a phase")
	}
}

func TestPerfCollectorUnknownPhasePanics(t *testing.T) {
	pc, _ := newTestPerf(10, "work")
	defer func() {
		if recover() == nil {
			t.Error("Enter with an unknown phase did not panic")
		}
	}()
	pc.BeginTick()
	pc.Enter("nope")
}

func TestPerfRows(t *testing.T) {
	pc, _ := newTestPerf(4, "sense", "act")
	pc.BeginTick()
	pc.Enter("sense")
	pc.Processed(8)
	pc.Enter("act")
	pc.EndTick()

	rows := pc.Stats().Rows(120)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want tick + 2 phases", len(rows))
	}
	for i, want := range []string{"tick", "sense", "act"} {
		if rows[i].Phase != want || rows[i].WindowEnd != 120 {
			t.Errorf("row %d = %s@%d, want %s@120", i, rows[i].Phase, rows[i].WindowEnd, want)
		}
	}
	if rows[1].ItemsPerTick != 8 || rows[1].MeanUS != 1000 {
		t.Errorf("sense row = %+v", rows[1])
	}
	if math.Abs(rows[1].SharePct+rows[2].SharePct-200.0/3) > 1e-9 {
		t.Errorf("phase shares sum to %v%%, want 66.7%%", rows[1].SharePct+rows[2].SharePct)
	}
}
