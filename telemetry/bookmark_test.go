package telemetry

import (
	"testing"

	"github.com/pthm-cable/swarmlab/config"
)

func newTestDetector(t *testing.T) *BookmarkDetector {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	return NewBookmarkDetector(cfg.Bookmarks, cfg.Telemetry.BookmarkHistorySize)
}

func hasBookmark(bookmarks []Bookmark, typ BookmarkType) bool {
	for _, bm := range bookmarks {
		if bm.Type == typ {
			return true
		}
	}
	return false
}

func TestBookmarkDetector_PreyCrash(t *testing.T) {
	bd := newTestDetector(t)

	// Build up prey population
	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{
			WindowEndTick: int64(i * 60),
			PreyCount:     100,
			PredCount:     10,
		})
	}

	bookmarks := bd.Check(WindowStats{
		WindowEndTick: 300,
		PreyCount:     50, // 50% drop
		PredCount:     10,
	})
	if !hasBookmark(bookmarks, BookmarkPreyCrash) {
		t.Error("expected prey_crash bookmark")
	}

	// Peak resets to the crash level, so holding steady does not retrigger
	bookmarks = bd.Check(WindowStats{WindowEndTick: 360, PreyCount: 50, PredCount: 10})
	if hasBookmark(bookmarks, BookmarkPreyCrash) {
		t.Error("prey_crash retriggered without a new drop")
	}
}

func TestBookmarkDetector_SmallDropIgnored(t *testing.T) {
	bd := newTestDetector(t)
	bd.Check(WindowStats{WindowEndTick: 60, PreyCount: 20})

	// 40% drop but only 8 agents, below the minimum absolute drop
	if bookmarks := bd.Check(WindowStats{WindowEndTick: 120, PreyCount: 12}); hasBookmark(bookmarks, BookmarkPreyCrash) {
		t.Error("prey_crash fired for a drop smaller than min_drop")
	}
}

func TestBookmarkDetector_PredatorExtinction(t *testing.T) {
	tests := []struct {
		name   string
		counts []int
		want   []bool
	}{
		{"after peak", []int{5, 4, 0, 0}, []bool{false, false, true, false}},
		{"peak too small", []int{2, 1, 0}, []bool{false, false, false}},
		{"never present", []int{0, 0}, []bool{false, false}},
		{"recover and die again", []int{6, 0, 4, 0}, []bool{false, true, false, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bd := newTestDetector(t)
			for i, n := range tt.counts {
				got := hasBookmark(bd.Check(WindowStats{WindowEndTick: int64(i * 60), PreyCount: 100, PredCount: n}), BookmarkPredatorExtinction)
				if got != tt.want[i] {
					t.Errorf("window %d (pred=%d): extinction = %v, want %v", i, n, got, tt.want[i])
				}
			}
		})
	}
}

func TestBookmarkDetector_StableEcosystem(t *testing.T) {
	bd := newTestDetector(t)

	fired := -1
	for i := 0; i < 12; i++ {
		bookmarks := bd.Check(WindowStats{
			WindowEndTick: int64(i * 60),
			PreyCount:     100,
			PredCount:     20,
		})
		if hasBookmark(bookmarks, BookmarkStableEcosystem) {
			if fired >= 0 {
				t.Fatalf("stable_ecosystem fired twice (windows %d and %d)", fired, i)
			}
			fired = i
		}
	}

	// Four windows of history are needed, then five stable windows in a row.
	if fired != 8 {
		t.Errorf("stable_ecosystem fired at window %d, want 8", fired)
	}
}

func TestBookmarkDetector_StableResetsOnSwing(t *testing.T) {
	bd := newTestDetector(t)
	for i := 0; i < 12; i++ {
		prey := 100
		if i%2 == 1 {
			prey = 200
		}
		if hasBookmark(bd.Check(WindowStats{WindowEndTick: int64(i * 60), PreyCount: prey, PredCount: 20}), BookmarkStableEcosystem) {
			t.Fatalf("stable_ecosystem fired at window %d for oscillating prey", i)
		}
	}
}

func TestBookmarkDetector_AggregationFormed(t *testing.T) {
	bd := newTestDetector(t)
	fractions := []float64{0.2, 0.6, 0.7, 0.1, 0.6}
	want := []bool{false, true, false, false, true}

	for i, f := range fractions {
		got := hasBookmark(bd.Check(WindowStats{
			WindowEndTick: int64(i * 60),
			Aggregators:   100,
			StillFraction: f,
		}), BookmarkAggregationFormed)
		if got != want[i] {
			t.Errorf("window %d (still=%v): aggregation_formed = %v, want %v", i, f, got, want[i])
		}
	}
}
