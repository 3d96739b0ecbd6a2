// Package telemetry provides the snapshot stream, window statistics, bookmarks
// and tick timing for a simulation run.
package telemetry

import (
	"errors"
	"slices"
)

// Record is one agent's state at the end of a tick.
type Record struct {
	Tick  int64   `csv:"tick" db:"tick" json:"tick"`
	ID    uint32  `csv:"id" db:"agent_id" json:"id"`
	Kind  string  `csv:"kind" db:"kind" json:"kind"`
	X     float64 `csv:"x" db:"x" json:"x"`
	Y     float64 `csv:"y" db:"y" json:"y"`
	State string  `csv:"state" db:"state" json:"state"`
	Zone  string  `csv:"zone" db:"zone" json:"zone,omitempty"`
}

// Sink consumes the snapshot stream. WriteTick receives the records of one
// tick sorted by agent id; the slice may be reused after the call returns.
type Sink interface {
	WriteTick(tick int64, recs []Record) error
	Close() error
}

// Reporter is implemented by sinks that also persist window-level output.
type Reporter interface {
	WriteStats(stats WindowStats) error
	WriteBookmark(b Bookmark) error
}

// Recorder keeps the whole stream in memory.
type Recorder struct {
	ticks   []int64
	records [][]Record

	Stats     []WindowStats
	Bookmarks []Bookmark
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// WriteTick stores a copy of recs.
func (r *Recorder) WriteTick(tick int64, recs []Record) error {
	r.ticks = append(r.ticks, tick)
	r.records = append(r.records, slices.Clone(recs))
	return nil
}

// WriteStats stores a window.
func (r *Recorder) WriteStats(stats WindowStats) error {
	r.Stats = append(r.Stats, stats)
	return nil
}

// WriteBookmark stores a bookmark.
func (r *Recorder) WriteBookmark(b Bookmark) error {
	r.Bookmarks = append(r.Bookmarks, b)
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

// Ticks returns the recorded tick numbers in order.
func (r *Recorder) Ticks() []int64 {
	return r.ticks
}

// At returns the records of the i-th recorded tick.
func (r *Recorder) At(i int) []Record {
	return r.records[i]
}

// Last returns the records of the most recent tick, or nil.
func (r *Recorder) Last() []Record {
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

// Len returns the number of recorded ticks.
func (r *Recorder) Len() int {
	return len(r.ticks)
}

// MultiSink fans the stream out to several sinks in order.
type MultiSink []Sink

// WriteTick forwards to every sink and stops at the first error.
func (m MultiSink) WriteTick(tick int64, recs []Record) error {
	for _, s := range m {
		if err := s.WriteTick(tick, recs); err != nil {
			return err
		}
	}
	return nil
}

// WriteStats forwards to every member that is a Reporter.
func (m MultiSink) WriteStats(stats WindowStats) error {
	for _, s := range m {
		if r, ok := s.(Reporter); ok {
			if err := r.WriteStats(stats); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteBookmark forwards to every member that is a Reporter.
func (m MultiSink) WriteBookmark(b Bookmark) error {
	for _, s := range m {
		if r, ok := s.(Reporter); ok {
			if err := r.WriteBookmark(b); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
