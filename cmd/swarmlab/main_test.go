package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/swarmlab/config"
	"github.com/pthm-cable/swarmlab/telemetry"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("swarmlab %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestParseGrid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []float64
		wantErr bool
	}{
		{"single", "castle_capacity=10", []float64{10}, false},
		{"list with spaces", "prey_reproduction_prob= 0.001, 0.002 ,0.004", []float64{0.001, 0.002, 0.004}, false},
		{"missing equals", "castle_capacity", nil, true},
		{"unknown name", "energy=1,2", nil, true},
		{"bad number", "castle_capacity=ten", nil, true},
		{"no values", "castle_capacity=", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := parseGrid(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseGrid(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(g.Values) != len(tt.want) {
				t.Fatalf("values = %v, want %v", g.Values, tt.want)
			}
			for i := range tt.want {
				if g.Values[i] != tt.want[i] {
					t.Errorf("values = %v, want %v", g.Values, tt.want)
				}
			}
		})
	}
}

func TestCombinations(t *testing.T) {
	a, _ := parseGrid("castle_capacity=1,2")
	b, _ := parseGrid("max_castle_stay=10,20,30")

	got := combinations([]ParamGrid{a, b})
	if len(got) != 6 {
		t.Fatalf("got %d combinations, want 6", len(got))
	}
	if got[0][0] != 1 || got[0][1] != 10 || got[1][1] != 20 || got[5][0] != 2 || got[5][1] != 30 {
		t.Errorf("unexpected order: %v", got)
	}

	if base := combinations(nil); len(base) != 1 || len(base[0]) != 0 {
		t.Errorf("combinations(nil) = %v, want one empty combination", base)
	}
}

func TestParamVectorRoundTrip(t *testing.T) {
	pv, err := NewParamVector(defaultTuneParams)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadScenario("ecosystem", "")
	if err != nil {
		t.Fatal(err)
	}

	raw := pv.ExtractFromConfig(cfg)
	back := pv.Denormalize(pv.Normalize(raw))
	for i := range raw {
		if math.Abs(back[i]-raw[i]) > 1e-9 {
			t.Errorf("%s: round trip %v -> %v", pv.Specs[i].Name, raw[i], back[i])
		}
	}

	// Values outside the bounds are clamped and integers rounded.
	out := make([]float64, pv.Dim())
	for i, spec := range pv.Specs {
		out[i] = spec.Max * 10
	}
	out[3] = 7.6 // castle_capacity
	pv.ApplyToConfig(cfg, out)
	if cfg.Ecosystem.PreyReproductionProb != pv.Specs[0].Max {
		t.Errorf("prey_reproduction_prob = %v, want clamped to %v", cfg.Ecosystem.PreyReproductionProb, pv.Specs[0].Max)
	}
	if cfg.Ecosystem.CastleCapacity != 8 {
		t.Errorf("castle_capacity = %d, want 8", cfg.Ecosystem.CastleCapacity)
	}
	if cfg.Derived.Shelters[0].Capacity != 8 {
		t.Errorf("derived shelter capacity = %d, want 8", cfg.Derived.Shelters[0].Capacity)
	}
}

func TestMeanStd(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		mean   float64
		std    float64
	}{
		{"empty", nil, 0, 0},
		{"single", []float64{4}, 4, 0},
		{"sample std", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 5, math.Sqrt(32.0 / 7.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, std := meanStd(tt.values)
			if math.Abs(mean-tt.mean) > 1e-9 || math.Abs(std-tt.std) > 1e-9 {
				t.Errorf("meanStd = (%v, %v), want (%v, %v)", mean, std, tt.mean, tt.std)
			}
		})
	}
}

func TestAggregateRuns(t *testing.T) {
	runs := []SweepRun{
		{Combo: 0, Params: "castle_capacity=5", Prey: 100, Predators: 10, Coexistence: 500},
		{Combo: 0, Params: "castle_capacity=5", Prey: 200, Predators: 0, Coexistence: 300},
		{Combo: 1, Params: "castle_capacity=10", Prey: 50, Predators: 5, Coexistence: 900},
	}
	rows := aggregateRuns("sweep", runs)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].PreyMean != 150 || rows[0].CoexistenceMean != 400 || rows[0].Survived != 1 || rows[0].Seeds != 2 {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].PredStd != 0 || rows[1].Survived != 1 {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

func TestComputeQuality(t *testing.T) {
	steady := make([]telemetry.WindowStats, 10)
	for i := range steady {
		steady[i] = telemetry.WindowStats{PreyCount: 100, PredCount: 20, ShelterEntries: 4}
	}
	swinging := make([]telemetry.WindowStats, 10)
	for i := range swinging {
		prey := 100
		if i%2 == 0 {
			prey = 400
		}
		swinging[i] = telemetry.WindowStats{PreyCount: prey, PredCount: 20, ShelterEntries: 1, DeniedEntries: 3}
	}

	tests := []struct {
		name    string
		windows []telemetry.WindowStats
		min     float64
		max     float64
	}{
		{"too short", steady[:3], 0, 0},
		{"steady at ratio 5", steady, 0.99, 1},
		{"swinging", swinging, 0, 0.8},
		{"predators gone", []telemetry.WindowStats{{}, {}, {}, {PreyCount: 50}}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := computeQuality(tt.windows)
			if q < tt.min || q > tt.max {
				t.Errorf("quality = %v, want in [%v, %v]", q, tt.min, tt.max)
			}
		})
	}
}

func TestRunCommandWritesOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	db := filepath.Join(t.TempDir(), "runs.db")

	out := execute(t, "run", "--scenario", "ecosystem", "--seed", "5", "--max-ticks", "120",
		"--output-dir", dir, "--sqlite", db)
	if !strings.Contains(out, "Run finished (duration) after 120 ticks") {
		t.Errorf("unexpected output:\n%s", out)
	}

	var stats []telemetry.WindowStats
	if err := gocsv.UnmarshalFile(mustOpen(t, filepath.Join(dir, "telemetry.csv")), &stats); err != nil {
		t.Fatalf("reading telemetry.csv: %v", err)
	}
	if len(stats) != 2 {
		t.Errorf("telemetry rows = %d, want 2", len(stats))
	}
	if _, err := os.Stat(db); err != nil {
		t.Errorf("sqlite database missing: %v", err)
	}
}

func TestSweepCommand(t *testing.T) {
	dir := t.TempDir()
	out := execute(t, "sweep", "--scenario", "ecosystem", "--max-ticks", "30", "--seeds", "2",
		"--workers", "2", "--param", "castle_capacity=5,10", "--output", dir)
	if !strings.Contains(out, "castle_capacity=5") || !strings.Contains(out, "castle_capacity=10") {
		t.Errorf("summary missing combinations:\n%s", out)
	}

	var rows []SweepRow
	if err := gocsv.UnmarshalFile(mustOpen(t, filepath.Join(dir, "sweep_summary.csv")), &rows); err != nil {
		t.Fatalf("reading sweep_summary.csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("summary rows = %d, want 2", len(rows))
	}
	for _, r := range rows {
		if r.Seeds != 2 {
			t.Errorf("combo %d: seeds = %d, want 2", r.Combo, r.Seeds)
		}
	}

	var runs []SweepRun
	if err := gocsv.UnmarshalFile(mustOpen(t, filepath.Join(dir, "sweep_runs.csv")), &runs); err != nil {
		t.Fatalf("reading sweep_runs.csv: %v", err)
	}
	if len(runs) != 4 {
		t.Errorf("run rows = %d, want 4", len(runs))
	}
	for _, r := range runs {
		if r.Ticks != 30 {
			t.Errorf("run %+v did not reach 30 ticks", r)
		}
	}
}

func TestScenariosCommand(t *testing.T) {
	out := execute(t, "scenarios")
	for _, name := range []string{"aggregation", "attacker", "ecosystem", "flocking", "protector"} {
		if !strings.Contains(out, name) {
			t.Errorf("scenario %s missing from:\n%s", name, out)
		}
	}
	if !strings.Contains(out, "60 prey, 20 predator") {
		t.Errorf("ecosystem population missing from:\n%s", out)
	}
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}
