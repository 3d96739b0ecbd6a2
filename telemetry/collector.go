package telemetry

import "github.com/pthm-cable/swarmlab/components"

// Census is the population picture at the end of a tick.
type Census struct {
	Counts    []int // live agents per kind, indexed by components.Kind
	Sheltered int   // prey currently inside a shelter
	Still     int   // aggregators in the STILL state
}

// Count returns the live count of kind.
func (c Census) Count(kind components.Kind) int {
	if int(kind) >= len(c.Counts) {
		return 0
	}
	return c.Counts[kind]
}

// Collector accumulates events within windows of ticks and produces WindowStats.
// It receives behavior outcomes through the same methods the behavior engine
// reports them with.
type Collector struct {
	windowTicks int64
	dt          float64

	// Current window tracking
	windowStart int64

	// Event counters for current window
	births         []int
	deaths         []int
	kills          int
	starved        int
	shelterEntries int
	zoneEntries    int
	evictions      int
	deniedEntries  int
	deniedRepro    int
	lifespans      []float64

	// Per-tick population samples for the current window
	preySeries []float64
	predSeries []float64
}

// NewCollector creates a collector flushing every windowTicks ticks.
// dt is the simulated time per tick.
func NewCollector(windowTicks int, dt float64) *Collector {
	if windowTicks < 1 {
		windowTicks = 1
	}
	return &Collector{
		windowTicks: int64(windowTicks),
		dt:          dt,
		births:      make([]int, components.KindCount()),
		deaths:      make([]int, components.KindCount()),
	}
}

// RecordBirth records a birth event.
func (c *Collector) RecordBirth(kind components.Kind) {
	c.births[kind]++
}

// RecordDeath records a death and the agent's age in ticks.
func (c *Collector) RecordDeath(kind components.Kind, lifespan int64) {
	c.deaths[kind]++
	c.lifespans = append(c.lifespans, float64(lifespan))
}

// Killed records a kill.
func (c *Collector) Killed(killer, victim components.Kind) {
	c.kills++
}

// Starved records a starvation death.
func (c *Collector) Starved(kind components.Kind) {
	c.starved++
}

// Entered records a zone or shelter entry.
func (c *Collector) Entered(kind components.Kind, zone string) {
	if kind == components.KindPrey {
		c.shelterEntries++
	} else {
		c.zoneEntries++
	}
}

// Evicted records a forced zone exit.
func (c *Collector) Evicted(kind components.Kind, zone, reason string) {
	c.evictions++
}

// Denied records a refused zone entry or reproduction.
func (c *Collector) Denied(kind components.Kind, what string) {
	if what == "reproduction" {
		c.deniedRepro++
	} else {
		c.deniedEntries++
	}
}

// Observe samples the population once per tick.
func (c *Collector) Observe(census Census) {
	c.preySeries = append(c.preySeries, float64(census.Count(components.KindPrey)))
	c.predSeries = append(c.predSeries, float64(census.Count(components.KindPredator)))
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int64) bool {
	return currentTick-c.windowStart >= c.windowTicks
}

// Flush produces a WindowStats and resets counters for the next window.
func (c *Collector) Flush(currentTick int64, census Census) WindowStats {
	preyMean, preyCV := MeanCV(c.preySeries)
	predMean, predCV := MeanCV(c.predSeries)
	lifeMean, lifeP50, lifeP90 := ComputeLifespanStats(c.lifespans)

	var stillFrac float64
	if n := census.Count(components.KindAggregator); n > 0 {
		stillFrac = float64(census.Still) / float64(n)
	}

	stats := WindowStats{
		WindowStartTick: c.windowStart,
		WindowEndTick:   currentTick,
		SimTime:         float64(currentTick) * c.dt,

		Flockers:    census.Count(components.KindFlocker),
		Aggregators: census.Count(components.KindAggregator),
		PreyCount:   census.Count(components.KindPrey),
		PredCount:   census.Count(components.KindPredator),
		Attackers:   census.Count(components.KindAttacker),
		Protectors:  census.Count(components.KindProtector),

		PreyMean: preyMean,
		PreyCV:   preyCV,
		PredMean: predMean,
		PredCV:   predCV,

		PreyBirths: c.births[components.KindPrey],
		PredBirths: c.births[components.KindPredator],
		PreyDeaths: c.deaths[components.KindPrey],
		PredDeaths: c.deaths[components.KindPredator],
		Kills:      c.kills,
		Starved:    c.starved,

		ShelterEntries:      c.shelterEntries,
		ZoneEntries:         c.zoneEntries,
		Evictions:           c.evictions,
		DeniedEntries:       c.deniedEntries,
		DeniedReproductions: c.deniedRepro,
		Sheltered:           census.Sheltered,
		StillFraction:       stillFrac,

		LifespanMean: lifeMean,
		LifespanP50:  lifeP50,
		LifespanP90:  lifeP90,
	}

	// Reset for next window
	c.windowStart = currentTick
	clear(c.births)
	clear(c.deaths)
	c.kills = 0
	c.starved = 0
	c.shelterEntries = 0
	c.zoneEntries = 0
	c.evictions = 0
	c.deniedEntries = 0
	c.deniedRepro = 0
	c.lifespans = c.lifespans[:0]
	c.preySeries = c.preySeries[:0]
	c.predSeries = c.predSeries[:0]

	return stats
}

// WindowTicks returns the number of ticks per window.
func (c *Collector) WindowTicks() int64 {
	return c.windowTicks
}
