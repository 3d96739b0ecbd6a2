package main

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pthm-cable/swarmlab/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
	Integer bool    // rounded before it is applied

	set func(cfg *config.Config, v float64)
	get func(cfg *config.Config) float64
}

// knownParams lists every parameter sweep and tune can vary.
var knownParams = []ParamSpec{
	{
		Name: "prey_reproduction_prob", Path: "ecosystem.prey_reproduction_prob", Min: 0.0001, Max: 0.01, Default: 0.0005,
		set: func(c *config.Config, v float64) { c.Ecosystem.PreyReproductionProb = v },
		get: func(c *config.Config) float64 { return c.Ecosystem.PreyReproductionProb },
	},
	{
		Name: "predator_death_prob", Path: "ecosystem.predator_death_prob", Min: 0.0005, Max: 0.01, Default: 0.0025,
		set: func(c *config.Config, v float64) { c.Ecosystem.PredatorDeathProb = v },
		get: func(c *config.Config) float64 { return c.Ecosystem.PredatorDeathProb },
	},
	{
		Name: "predator_reproduction_chance", Path: "ecosystem.predator_reproduction_chance", Min: 0.05, Max: 1.0, Default: 1.0,
		set: func(c *config.Config, v float64) { c.Ecosystem.PredatorReproductionChance = v },
		get: func(c *config.Config) float64 { return c.Ecosystem.PredatorReproductionChance },
	},
	{
		Name: "castle_capacity", Path: "ecosystem.castle_capacity", Min: 1, Max: 60, Default: 10, Integer: true,
		set: func(c *config.Config, v float64) { c.Ecosystem.CastleCapacity = int(v) },
		get: func(c *config.Config) float64 { return float64(c.Ecosystem.CastleCapacity) },
	},
	{
		Name: "max_castle_stay", Path: "ecosystem.max_castle_stay", Min: 10, Max: 900, Default: 180, Integer: true,
		set: func(c *config.Config, v float64) { c.Ecosystem.MaxCastleStay = int(v) },
		get: func(c *config.Config) float64 { return float64(c.Ecosystem.MaxCastleStay) },
	},
	{
		Name: "castle_radius", Path: "ecosystem.castle_radius", Min: 20, Max: 200, Default: 50,
		set: func(c *config.Config, v float64) { c.Ecosystem.CastleRadius = v },
		get: func(c *config.Config) float64 { return c.Ecosystem.CastleRadius },
	},
	{
		Name: "detection_radius", Path: "ecosystem.detection_radius", Min: 20, Max: 300, Default: 100,
		set: func(c *config.Config, v float64) { c.Ecosystem.DetectionRadius = v },
		get: func(c *config.Config) float64 { return c.Ecosystem.DetectionRadius },
	},
	{
		Name: "eating_radius", Path: "ecosystem.eating_radius", Min: 2, Max: 50, Default: 15,
		set: func(c *config.Config, v float64) { c.Ecosystem.EatingRadius = v },
		get: func(c *config.Config) float64 { return c.Ecosystem.EatingRadius },
	},
	{
		Name: "speed", Path: "agent.speed", Min: 0.1, Max: 5, Default: 1,
		set: func(c *config.Config, v float64) { c.Agent.Speed = v },
		get: func(c *config.Config) float64 { return c.Agent.Speed },
	},
	{
		Name: "radius", Path: "agent.radius", Min: 5, Max: 100, Default: 30,
		set: func(c *config.Config, v float64) { c.Agent.Radius = v },
		get: func(c *config.Config) float64 { return c.Agent.Radius },
	},
	{
		Name: "aggregation_zone_radius", Path: "aggregation.aggregation_zone_radius", Min: 20, Max: 400, Default: 120,
		set: func(c *config.Config, v float64) { c.Aggregation.ZoneRadius = v },
		get: func(c *config.Config) float64 { return c.Aggregation.ZoneRadius },
	},
}

// lookupParam finds a parameter by name.
func lookupParam(name string) (ParamSpec, error) {
	for _, p := range knownParams {
		if p.Name == name {
			return p, nil
		}
	}
	names := make([]string, len(knownParams))
	for i, p := range knownParams {
		names[i] = p.Name
	}
	sort.Strings(names)
	return ParamSpec{}, fmt.Errorf("unknown parameter %q (known: %s)", name, strings.Join(names, ", "))
}

// Apply sets the parameter on cfg. Bounds only constrain tuning; config
// validation still rejects values that make no sense.
func (p ParamSpec) Apply(cfg *config.Config, v float64) {
	if p.Integer {
		v = math.Round(v)
	}
	p.set(cfg, v)
}

// Value reads the parameter from cfg.
func (p ParamSpec) Value(cfg *config.Config) float64 {
	return p.get(cfg)
}

// ParamVector holds the set of parameters being optimized.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector builds a vector from parameter names.
func NewParamVector(names []string) (*ParamVector, error) {
	pv := &ParamVector{}
	for _, name := range names {
		p, err := lookupParam(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		pv.Specs = append(pv.Specs, p)
	}
	if len(pv.Specs) == 0 {
		return nil, fmt.Errorf("no parameters to optimize")
	}
	return pv, nil
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = math.Max(spec.Min, math.Min(spec.Max, v[i]))
		if spec.Integer {
			clamped[i] = math.Round(clamped[i])
		}
	}
	return clamped
}

// ApplyToConfig applies parameter values to cfg in Specs order, clamped to bounds.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	for i, v := range pv.Clamp(values) {
		pv.Specs[i].Apply(cfg, v)
	}
	cfg.Refresh()
}

// ExtractFromConfig reads the current parameter values from cfg, clamped to bounds.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Value(cfg)
	}
	return pv.Clamp(v)
}

// ParamGrid is one parameter with the values a sweep visits.
type ParamGrid struct {
	Spec   ParamSpec
	Values []float64
}

// parseGrid parses "name=v1,v2,v3".
func parseGrid(s string) (ParamGrid, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok {
		return ParamGrid{}, fmt.Errorf("invalid --param %q: want name=v1,v2", s)
	}
	spec, err := lookupParam(strings.TrimSpace(name))
	if err != nil {
		return ParamGrid{}, err
	}
	g := ParamGrid{Spec: spec}
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return ParamGrid{}, fmt.Errorf("invalid value %q for %s: %w", field, spec.Name, err)
		}
		g.Values = append(g.Values, v)
	}
	if len(g.Values) == 0 {
		return ParamGrid{}, fmt.Errorf("no values for %s", spec.Name)
	}
	return g, nil
}

// combinations expands grids into their cartesian product. The last grid
// varies fastest.
func combinations(grids []ParamGrid) [][]float64 {
	out := [][]float64{{}}
	for _, g := range grids {
		next := make([][]float64, 0, len(out)*len(g.Values))
		for _, prefix := range out {
			for _, v := range g.Values {
				combo := append(append([]float64(nil), prefix...), v)
				next = append(next, combo)
			}
		}
		out = next
	}
	return out
}
