// Package config provides configuration loading and validation for the simulation.
package config

import (
	"embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/swarmlab/components"
)

//go:embed defaults.yaml
var defaultsYAML []byte

//go:embed scenarios/*.yaml
var scenarioFS embed.FS

// ErrConfigInvalid is wrapped by every validation failure. A simulation refuses to
// start with a config that fails validation.
var ErrConfigInvalid = errors.New("config invalid")

// Config holds all simulation configuration parameters.
type Config struct {
	World        WorldConfig        `yaml:"world"`
	Sim          SimConfig          `yaml:"sim"`
	Agent        AgentConfig        `yaml:"agent"`
	Flocking     FlockingConfig     `yaml:"flocking"`
	Aggregation  AggregationConfig  `yaml:"aggregation"`
	Ecosystem    EcosystemConfig    `yaml:"ecosystem"`
	Population   PopulationConfig   `yaml:"population"`
	Reproduction ReproductionConfig `yaml:"reproduction"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bookmarks    BookmarksConfig    `yaml:"bookmarks"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// WorldConfig holds the world bounds and spatial index settings.
type WorldConfig struct {
	Width            float64 `yaml:"width"`
	Height           float64 `yaml:"height"`
	ToroidalDistance bool    `yaml:"toroidal_distance"` // shortest wrapped distance for proximity queries
	CellSize         float64 `yaml:"cell_size"`         // spatial grid cell size
}

// SimConfig holds clock parameters.
type SimConfig struct {
	DeltaTime     float64       `yaml:"delta_time"`
	DurationTicks int           `yaml:"duration_ticks"` // 0 = until cancelled
	RNGSeed       int64         `yaml:"rng_seed"`       // 0 = time-based
	MaxWallClock  time.Duration `yaml:"max_wall_clock"` // 0 = unlimited
	SnapshotEvery int           `yaml:"snapshot_every"` // stream every Nth tick, at least 1
}

// AgentConfig holds parameters shared by every mobile kind.
type AgentConfig struct {
	Speed       float64 `yaml:"speed"`
	Radius      float64 `yaml:"radius"`       // perception radius, also the body radius for shelter placement
	WanderAngle float64 `yaml:"wander_angle"` // max heading jitter per tick (radians)
}

// FlockingConfig holds the boid force model parameters.
type FlockingConfig struct {
	AlignmentWeight  float64 `yaml:"alignment_weight"`
	CohesionWeight   float64 `yaml:"cohesion_weight"`
	SeparationWeight float64 `yaml:"separation_weight"`
	Mass             float64 `yaml:"mass"`
	MinSpeed         float64 `yaml:"min_speed"`
	MaxVelocity      float64 `yaml:"max_velocity"`
}

// ZoneConfig describes one circular zone.
type ZoneConfig struct {
	Name     string    `yaml:"name"`
	Center   []float64 `yaml:"center"`
	Radius   float64   `yaml:"radius"`
	Capacity int       `yaml:"capacity"` // 0 = unbounded
	MaxStay  int       `yaml:"max_stay"` // 0 = unlimited
}

// AggregationConfig holds the join/leave state machine parameters.
type AggregationConfig struct {
	Tjoin      int       `yaml:"Tjoin"`
	Tleave     int       `yaml:"Tleave"`
	ZoneRadius float64   `yaml:"aggregation_zone_radius"`
	ZoneCenter []float64 `yaml:"aggregation_zone_center"`

	// Probability model: P_join = JoinBase + JoinGain*(1-exp(-JoinRate*n)), P_leave = exp(-LeaveRate*n)
	JoinBase  float64 `yaml:"join_base"`
	JoinGain  float64 `yaml:"join_gain"`
	JoinRate  float64 `yaml:"join_rate"`
	LeaveRate float64 `yaml:"leave_rate"`

	ReheadProb      float64 `yaml:"rehead_prob"`
	ReheadAngle     float64 `yaml:"rehead_angle"` // degrees, symmetric
	JoinSpeedFactor float64 `yaml:"join_speed_factor"`
	LeaveGrace      int     `yaml:"leave_grace"`

	// Optional explicit zone list; when empty a single zone is built from
	// aggregation_zone_center / aggregation_zone_radius.
	Zones []ZoneConfig `yaml:"zones"`
}

// EcosystemConfig holds predator/prey/shelter parameters.
type EcosystemConfig struct {
	CastleRadius   float64     `yaml:"castle_radius"`
	CastleCapacity int         `yaml:"castle_capacity"`
	MaxCastleStay  int         `yaml:"max_castle_stay"`
	CastleCenters  [][]float64 `yaml:"castle_centers"`

	DetectionRadius float64 `yaml:"detection_radius"`
	EatingRadius    float64 `yaml:"eating_radius"`
	RepelStrength   float64 `yaml:"repel_strength"`

	PreyReproductionProb       float64 `yaml:"prey_reproduction_prob"`
	PredatorDeathProb          float64 `yaml:"predator_death_prob"`
	PredatorReproductionChance float64 `yaml:"predator_reproduction_chance"`

	PredatorRepelFactor float64 `yaml:"predator_repel_factor"` // predators are pushed harder than prey
	EvictSpeedFactor    float64 `yaml:"evict_speed_factor"`
	AttackerSpeed       float64 `yaml:"attacker_speed"`
	ProtectorSpeed      float64 `yaml:"protector_speed"`
}

// PopulationConfig holds initial counts and caps, keyed by kind name.
type PopulationConfig struct {
	PopulationCap int            `yaml:"population_cap"` // per-kind live cap, 0 = unbounded
	Caps          map[string]int `yaml:"caps"`           // per-kind overrides
	Initial       map[string]int `yaml:"initial"`
}

// ReproductionConfig holds offspring placement parameters.
type ReproductionConfig struct {
	SpawnOffset float64 `yaml:"spawn_offset"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int `yaml:"stats_window"` // ticks per stats window, 0 = disabled
	BookmarkHistorySize int `yaml:"bookmark_history_size"`
	PerfCollectorWindow int `yaml:"perf_collector_window"`
}

// BookmarksConfig holds bookmark detection thresholds.
type BookmarksConfig struct {
	PreyCrash          PreyCrashConfig          `yaml:"prey_crash"`
	PredatorExtinction PredatorExtinctionConfig `yaml:"predator_extinction"`
	StableEcosystem    StableEcosystemConfig    `yaml:"stable_ecosystem"`
	AggregationFormed  AggregationFormedConfig  `yaml:"aggregation_formed"`
}

// PreyCrashConfig holds prey crash detection parameters.
type PreyCrashConfig struct {
	DropPercent float64 `yaml:"drop_percent"`
	MinDrop     int     `yaml:"min_drop"`
}

// PredatorExtinctionConfig holds predator extinction detection parameters.
type PredatorExtinctionConfig struct {
	MinPeak int `yaml:"min_peak"`
}

// StableEcosystemConfig holds stable ecosystem detection parameters.
type StableEcosystemConfig struct {
	MinPrey       int     `yaml:"min_prey"`
	MinPred       int     `yaml:"min_pred"`
	CVThreshold   float64 `yaml:"cv_threshold"`
	StableWindows int     `yaml:"stable_windows"`
}

// AggregationFormedConfig holds aggregate detection parameters.
type AggregationFormedConfig struct {
	StillFraction float64 `yaml:"still_fraction"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	AggregationZones []ZoneConfig            // resolved aggregation zones
	Shelters         []ZoneConfig            // resolved shelter zones
	ReheadRadians    float64                 // Aggregation.ReheadAngle in radians
	Caps             map[components.Kind]int // resolved per-kind caps
	Initial          map[components.Kind]int // resolved initial counts
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	return LoadScenario("", path)
}

// LoadScenario layers embedded defaults, the named scenario preset (if any) and
// the user file (if any), in that order.
func LoadScenario(scenario, path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if scenario != "" {
		data, err := scenarioFS.ReadFile("scenarios/" + scenario + ".yaml")
		if err != nil {
			return nil, fmt.Errorf("%w: unknown scenario %q (available: %s)",
				ErrConfigInvalid, scenario, strings.Join(Scenarios(), ", "))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing scenario %s: %w", scenario, err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()
	return cfg, nil
}

// MustLoad is like Load but panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: failed to load: %v", err))
	}
	return cfg
}

// Scenarios returns the names of the embedded scenario presets.
func Scenarios() []string {
	entries, err := scenarioFS.ReadDir("scenarios")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the config. Sweeps and tuning runs mutate clones
// so concurrent simulations never share maps or slices.
func (c *Config) Clone() (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	out := &Config{}
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	out.computeDerived()
	return out, nil
}

// Refresh recomputes derived values after fields were changed in code.
func (c *Config) Refresh() {
	c.computeDerived()
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.ReheadRadians = c.Aggregation.ReheadAngle * math.Pi / 180

	c.Derived.AggregationZones = c.Derived.AggregationZones[:0]
	if len(c.Aggregation.Zones) > 0 {
		for i, z := range c.Aggregation.Zones {
			if z.Name == "" {
				z.Name = fmt.Sprintf("aggregation-%d", i)
			}
			c.Derived.AggregationZones = append(c.Derived.AggregationZones, z)
		}
	} else {
		c.Derived.AggregationZones = append(c.Derived.AggregationZones, ZoneConfig{
			Name:   "aggregation-0",
			Center: c.Aggregation.ZoneCenter,
			Radius: c.Aggregation.ZoneRadius,
		})
	}

	c.Derived.Shelters = c.Derived.Shelters[:0]
	for i, center := range c.Ecosystem.CastleCenters {
		c.Derived.Shelters = append(c.Derived.Shelters, ZoneConfig{
			Name:     fmt.Sprintf("castle-%d", i),
			Center:   center,
			Radius:   c.Ecosystem.CastleRadius,
			Capacity: c.Ecosystem.CastleCapacity,
			MaxStay:  c.Ecosystem.MaxCastleStay,
		})
	}

	// Unknown kind names are reported by Validate; they are skipped here.
	c.Derived.Caps = make(map[components.Kind]int, components.KindCount())
	for _, k := range components.Kinds() {
		c.Derived.Caps[k] = c.Population.PopulationCap
	}
	for name, n := range c.Population.Caps {
		if k, err := components.ParseKind(name); err == nil {
			c.Derived.Caps[k] = n
		}
	}
	c.Derived.Initial = make(map[components.Kind]int, len(c.Population.Initial))
	for name, n := range c.Population.Initial {
		if k, err := components.ParseKind(name); err == nil {
			c.Derived.Initial[k] += n
		}
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// YAML returns the config as it would be written by WriteYAML.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}
