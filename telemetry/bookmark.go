package telemetry

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/swarmlab/config"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkPreyCrash          BookmarkType = "prey_crash"
	BookmarkPredatorExtinction BookmarkType = "predator_extinction"
	BookmarkStableEcosystem    BookmarkType = "stable_ecosystem"
	BookmarkAggregationFormed  BookmarkType = "aggregation_formed"
)

// stableLookback is the number of past windows the stability check looks at.
const stableLookback = 4

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type" db:"type" json:"type"`
	Tick        int64        `csv:"tick" db:"tick" json:"tick"`
	Description string       `csv:"description" db:"description" json:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"tick", b.Tick,
		"description", b.Description,
	)
}

// BookmarkDetector detects interesting moments in the simulation.
type BookmarkDetector struct {
	cfg config.BookmarksConfig

	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	// State tracking
	recentPreyPeak     int  // peak prey count since the last crash
	predPeak           int  // peak predator count since the last extinction
	stableWindowsCount int  // consecutive windows with stable populations
	aggregated         bool // aggregation bookmark already raised
}

// NewBookmarkDetector creates a detector with the given thresholds and history size.
func NewBookmarkDetector(cfg config.BookmarksConfig, historySize int) *BookmarkDetector {
	if historySize < stableLookback+1 {
		historySize = stableLookback + 1
	}
	return &BookmarkDetector{
		cfg:         cfg,
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if bd.historyFull || bd.historyIdx > 0 {
		// Prey crash: dropped sharply from recent peak
		if b := bd.checkPreyCrash(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Stable ecosystem: both populations present with low variation
		if b := bd.checkStableEcosystem(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	if b := bd.checkPredatorExtinction(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkAggregationFormed(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)

	if stats.PreyCount > bd.recentPreyPeak {
		bd.recentPreyPeak = stats.PreyCount
	}
	if stats.PredCount > bd.predPeak {
		bd.predPeak = stats.PredCount
	}

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

// recent returns up to n of the latest windows, oldest first.
func (bd *BookmarkDetector) recent(n int) []WindowStats {
	size := bd.historyIdx
	if bd.historyFull {
		size = bd.historySize
	}
	if n > size {
		n = size
	}
	out := make([]WindowStats, 0, n)
	for i := n; i > 0; i-- {
		idx := (bd.historyIdx - i + bd.historySize) % bd.historySize
		out = append(out, bd.history[idx])
	}
	return out
}

func (bd *BookmarkDetector) checkPreyCrash(stats WindowStats) *Bookmark {
	if bd.recentPreyPeak == 0 {
		return nil
	}

	c := bd.cfg.PreyCrash
	dropPercent := 1.0 - float64(stats.PreyCount)/float64(bd.recentPreyPeak)
	if dropPercent > c.DropPercent && stats.PreyCount <= bd.recentPreyPeak-c.MinDrop {
		// Reset peak after crash
		oldPeak := bd.recentPreyPeak
		bd.recentPreyPeak = stats.PreyCount

		return &Bookmark{
			Type:        BookmarkPreyCrash,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Prey crashed %.0f%% from peak %d to %d", dropPercent*100, oldPeak, stats.PreyCount),
		}
	}

	return nil
}

func (bd *BookmarkDetector) checkPredatorExtinction(stats WindowStats) *Bookmark {
	if stats.PredCount > 0 || bd.predPeak < bd.cfg.PredatorExtinction.MinPeak || bd.predPeak == 0 {
		return nil
	}

	oldPeak := bd.predPeak
	bd.predPeak = 0
	return &Bookmark{
		Type:        BookmarkPredatorExtinction,
		Tick:        stats.WindowEndTick,
		Description: fmt.Sprintf("Predators went extinct after peaking at %d", oldPeak),
	}
}

func (bd *BookmarkDetector) checkStableEcosystem(stats WindowStats) *Bookmark {
	c := bd.cfg.StableEcosystem

	// Need both populations present
	if stats.PreyCount < c.MinPrey || stats.PredCount < c.MinPred {
		bd.stableWindowsCount = 0
		return nil
	}

	history := bd.recent(stableLookback)
	if len(history) < stableLookback {
		return nil
	}

	prey := make([]float64, len(history))
	pred := make([]float64, len(history))
	for i, h := range history {
		prey[i] = float64(h.PreyCount)
		pred[i] = float64(h.PredCount)
	}
	_, preyCV := MeanCV(prey)
	_, predCV := MeanCV(pred)

	if preyCV < c.CVThreshold && predCV < c.CVThreshold {
		bd.stableWindowsCount++
	} else {
		bd.stableWindowsCount = 0
	}

	if bd.stableWindowsCount == c.StableWindows { // trigger exactly once per stable run
		return &Bookmark{
			Type:        BookmarkStableEcosystem,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Stable ecosystem with %d prey, %d predators over %d windows", stats.PreyCount, stats.PredCount, c.StableWindows),
		}
	}

	return nil
}

func (bd *BookmarkDetector) checkAggregationFormed(stats WindowStats) *Bookmark {
	threshold := bd.cfg.AggregationFormed.StillFraction
	if stats.Aggregators == 0 {
		return nil
	}
	if bd.aggregated {
		// Re-arm once the aggregate has mostly dissolved
		if stats.StillFraction < threshold/2 {
			bd.aggregated = false
		}
		return nil
	}
	if stats.StillFraction < threshold {
		return nil
	}

	bd.aggregated = true
	return &Bookmark{
		Type:        BookmarkAggregationFormed,
		Tick:        stats.WindowEndTick,
		Description: fmt.Sprintf("%.0f%% of %d aggregators are still", stats.StillFraction*100, stats.Aggregators),
	}
}
