package telemetry

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// PerfCollector profiles a stepped loop whose ticks are split into named
// phases. Each phase records how long it ran and how many items (agents,
// records, mutations) it handled, so throughput can be reported per phase.
// The last window ticks are kept in a ring.
type PerfCollector struct {
	phases []string
	index  map[string]int
	now    func() time.Time

	tick  []time.Duration   // [slot]
	spent [][]time.Duration // [slot][phase]
	items [][]int           // [slot][phase]
	slot  int
	count int

	cur        int
	tickStart  time.Time
	phaseStart time.Time
}

// NewPerfCollector profiles ticks made of the given phases, averaging over the
// last window ticks.
func NewPerfCollector(window int, phases []string) *PerfCollector {
	if window < 1 {
		window = 60
	}
	p := &PerfCollector{
		phases: slices.Clone(phases),
		index:  make(map[string]int, len(phases)),
		now:    time.Now,
		tick:   make([]time.Duration, window),
		spent:  make([][]time.Duration, window),
		items:  make([][]int, window),
		cur:    -1,
	}
	for i, name := range phases {
		p.index[name] = i
	}
	for i := range window {
		p.spent[i] = make([]time.Duration, len(phases))
		p.items[i] = make([]int, len(phases))
	}
	return p
}

// BeginTick starts a tick, overwriting the oldest slot once the ring is full.
func (p *PerfCollector) BeginTick() {
	clear(p.spent[p.slot])
	clear(p.items[p.slot])
	p.tickStart = p.now()
	p.cur = -1
}

// Enter closes the running phase, if any, and starts phase. Entering a phase
// twice in one tick accumulates.
func (p *PerfCollector) Enter(phase string) {
	i, ok := p.index[phase]
	if !ok {
		panic(fmt.Sprintf("perf: unknown phase %q", phase))
	}
	now := p.now()
	p.closePhase(now)
	p.cur = i
	p.phaseStart = now
}

// Processed adds n items to the running phase.
func (p *PerfCollector) Processed(n int) {
	if p.cur >= 0 {
		p.items[p.slot][p.cur] += n
	}
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.cur >= 0 {
		p.spent[p.slot][p.cur] += now.Sub(p.phaseStart)
	}
}

// EndTick closes the running phase and commits the tick.
func (p *PerfCollector) EndTick() {
	now := p.now()
	p.closePhase(now)
	p.cur = -1
	p.tick[p.slot] = now.Sub(p.tickStart)
	p.slot = (p.slot + 1) % len(p.tick)
	if p.count < len(p.tick) {
		p.count++
	}
}

// PhaseStats summarises one phase over the window.
type PhaseStats struct {
	Name string
	Mean time.Duration
	P95  time.Duration
	// Share is the fraction of total tick time spent in the phase.
	Share          float64
	ItemsPerTick   float64
	ItemsPerSecond float64
}

// PerfStats summarises the window. Phases follow the collector's phase order.
type PerfStats struct {
	Samples        int
	MeanTick       time.Duration
	P95Tick        time.Duration
	MaxTick        time.Duration
	TicksPerSecond float64
	Phases         []PhaseStats
}

// Phase looks up a phase by name.
func (s PerfStats) Phase(name string) (PhaseStats, bool) {
	for _, ph := range s.Phases {
		if ph.Name == name {
			return ph, true
		}
	}
	return PhaseStats{}, false
}

// Stats summarises the ticks currently in the window.
func (p *PerfCollector) Stats() PerfStats {
	s := PerfStats{Samples: p.count}
	if p.count == 0 {
		return s
	}

	ticks := make([]float64, p.count)
	for i := range ticks {
		ticks[i] = float64(p.tick[i])
	}
	s.MeanTick, s.P95Tick = meanP95(ticks)
	s.MaxTick = time.Duration(slices.Max(ticks))
	var total float64
	for _, d := range ticks {
		total += d
	}
	if total > 0 {
		s.TicksPerSecond = float64(p.count) / time.Duration(total).Seconds()
	}

	durs := make([]float64, p.count)
	for j, name := range p.phases {
		var spent float64
		var items int
		for i := range p.count {
			durs[i] = float64(p.spent[i][j])
			spent += durs[i]
			items += p.items[i][j]
		}
		ph := PhaseStats{Name: name, ItemsPerTick: float64(items) / float64(p.count)}
		ph.Mean, ph.P95 = meanP95(durs)
		if total > 0 {
			ph.Share = spent / total
		}
		if spent > 0 {
			ph.ItemsPerSecond = float64(items) / time.Duration(spent).Seconds()
		}
		s.Phases = append(s.Phases, ph)
	}
	return s
}

// meanP95 sorts xs in place.
func meanP95(xs []float64) (mean, p95 time.Duration) {
	slices.Sort(xs)
	return time.Duration(stat.Mean(xs, nil)), time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil))
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("samples", s.Samples),
		slog.Int64("mean_tick_us", s.MeanTick.Microseconds()),
		slog.Int64("p95_tick_us", s.P95Tick.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
	}
	for _, ph := range s.Phases {
		attrs = append(attrs, slog.Group(ph.Name,
			slog.Int64("mean_us", ph.Mean.Microseconds()),
			slog.Float64("share", ph.Share),
			slog.Float64("items_per_sec", ph.ItemsPerSecond),
		))
	}
	return slog.GroupValue(attrs...)
}

// PerfRow is one perf.csv line. Each window yields a "tick" row followed by
// one row per phase.
type PerfRow struct {
	WindowEnd    int64   `csv:"window_end"`
	Phase        string  `csv:"phase"`
	MeanUS       int64   `csv:"mean_us"`
	P95US        int64   `csv:"p95_us"`
	SharePct     float64 `csv:"share_pct"`
	ItemsPerTick float64 `csv:"items_per_tick"`
	ItemsPerSec  float64 `csv:"items_per_sec"`
}

// Rows flattens the stats for CSV export.
func (s PerfStats) Rows(windowEnd int64) []PerfRow {
	rows := make([]PerfRow, 0, len(s.Phases)+1)
	rows = append(rows, PerfRow{
		WindowEnd:    windowEnd,
		Phase:        "tick",
		MeanUS:       s.MeanTick.Microseconds(),
		P95US:        s.P95Tick.Microseconds(),
		SharePct:     100,
		ItemsPerTick: 1,
		ItemsPerSec:  s.TicksPerSecond,
	})
	for _, ph := range s.Phases {
		rows = append(rows, PerfRow{
			WindowEnd:    windowEnd,
			Phase:        ph.Name,
			MeanUS:       ph.Mean.Microseconds(),
			P95US:        ph.P95.Microseconds(),
			SharePct:     ph.Share * 100,
			ItemsPerTick: ph.ItemsPerTick,
			ItemsPerSec:  ph.ItemsPerSecond,
		})
	}
	return rows
}
