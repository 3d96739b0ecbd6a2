package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a window of ticks.
type WindowStats struct {
	WindowStartTick int64   `csv:"-" db:"window_start"`
	WindowEndTick   int64   `csv:"window_end" db:"window_end"`
	SimTime         float64 `csv:"sim_time" db:"sim_time"`

	// Population counts at window end
	Flockers    int `csv:"flockers" db:"flockers"`
	Aggregators int `csv:"aggregators" db:"aggregators"`
	PreyCount   int `csv:"prey" db:"prey"`
	PredCount   int `csv:"pred" db:"pred"`
	Attackers   int `csv:"attackers" db:"attackers"`
	Protectors  int `csv:"protectors" db:"protectors"`

	// Population over the ticks of the window
	PreyMean float64 `csv:"prey_mean" db:"prey_mean"`
	PreyCV   float64 `csv:"prey_cv" db:"prey_cv"`
	PredMean float64 `csv:"pred_mean" db:"pred_mean"`
	PredCV   float64 `csv:"pred_cv" db:"pred_cv"`

	// Events during window
	PreyBirths int `csv:"prey_births" db:"prey_births"`
	PredBirths int `csv:"pred_births" db:"pred_births"`
	PreyDeaths int `csv:"prey_deaths" db:"prey_deaths"`
	PredDeaths int `csv:"pred_deaths" db:"pred_deaths"`
	Kills      int `csv:"kills" db:"kills"`
	Starved    int `csv:"starved" db:"starved"`

	// Zones
	ShelterEntries      int     `csv:"shelter_entries" db:"shelter_entries"`
	ZoneEntries         int     `csv:"zone_entries" db:"zone_entries"`
	Evictions           int     `csv:"evictions" db:"evictions"`
	DeniedEntries       int     `csv:"denied_entries" db:"denied_entries"`
	DeniedReproductions int     `csv:"denied_reproductions" db:"denied_reproductions"`
	Sheltered           int     `csv:"sheltered" db:"sheltered"`
	StillFraction       float64 `csv:"still_fraction" db:"still_fraction"`

	// Lifespan in ticks of agents that died during the window
	LifespanMean float64 `csv:"lifespan_mean" db:"lifespan_mean"`
	LifespanP50  float64 `csv:"lifespan_p50" db:"lifespan_p50"`
	LifespanP90  float64 `csv:"lifespan_p90" db:"lifespan_p90"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeLifespanStats calculates mean and percentiles of lifespans.
func ComputeLifespanStats(values []float64) (mean, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return stat.Mean(sorted, nil), Percentile(sorted, 0.50), Percentile(sorted, 0.90)
}

// MeanCV returns the mean and the coefficient of variation (population standard
// deviation over mean). CV is 0 when the mean is 0.
func MeanCV(values []float64) (mean, cv float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if mean == 0 {
		return 0, 0
	}
	return mean, std / mean
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("window_start", s.WindowStartTick),
		slog.Int64("window_end", s.WindowEndTick),
		slog.Float64("sim_time", s.SimTime),
		slog.Int("flockers", s.Flockers),
		slog.Int("aggregators", s.Aggregators),
		slog.Int("prey", s.PreyCount),
		slog.Int("pred", s.PredCount),
		slog.Int("attackers", s.Attackers),
		slog.Int("protectors", s.Protectors),
		slog.Float64("prey_mean", s.PreyMean),
		slog.Float64("prey_cv", s.PreyCV),
		slog.Float64("pred_mean", s.PredMean),
		slog.Float64("pred_cv", s.PredCV),
		slog.Int("prey_births", s.PreyBirths),
		slog.Int("pred_births", s.PredBirths),
		slog.Int("prey_deaths", s.PreyDeaths),
		slog.Int("pred_deaths", s.PredDeaths),
		slog.Int("kills", s.Kills),
		slog.Int("starved", s.Starved),
		slog.Int("shelter_entries", s.ShelterEntries),
		slog.Int("zone_entries", s.ZoneEntries),
		slog.Int("evictions", s.Evictions),
		slog.Int("denied_entries", s.DeniedEntries),
		slog.Int("denied_reproductions", s.DeniedReproductions),
		slog.Int("sheltered", s.Sheltered),
		slog.Float64("still_fraction", s.StillFraction),
		slog.Float64("lifespan_mean", s.LifespanMean),
		slog.Float64("lifespan_p50", s.LifespanP50),
		slog.Float64("lifespan_p90", s.LifespanP90),
	)
}

// LogStats logs the headline numbers of the window using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndTick,
		"sim_time", s.SimTime,
		"flockers", s.Flockers,
		"aggregators", s.Aggregators,
		"prey", s.PreyCount,
		"pred", s.PredCount,
		"prey_births", s.PreyBirths,
		"pred_births", s.PredBirths,
		"kills", s.Kills,
		"starved", s.Starved,
		"sheltered", s.Sheltered,
		"evictions", s.Evictions,
		"still_fraction", s.StillFraction,
		"lifespan_mean", s.LifespanMean,
	)
}
