package telemetry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/swarmlab/config"
)

// csvTable is one CSV file that gets its header on the first write.
type csvTable struct {
	name          string
	file          *os.File
	buf           *bufio.Writer
	headerWritten bool
}

func createTable(dir, name string) (*csvTable, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &csvTable{name: name, file: f, buf: bufio.NewWriter(f)}, nil
}

// write appends records, a slice of csv-tagged structs.
func (t *csvTable) write(records any) error {
	var err error
	if !t.headerWritten {
		// First write includes headers
		err = gocsv.Marshal(records, t.buf)
		t.headerWritten = true
	} else {
		err = gocsv.MarshalWithoutHeaders(records, t.buf)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", t.name, err)
	}
	return nil
}

func (t *csvTable) close() error {
	if err := t.buf.Flush(); err != nil {
		t.file.Close()
		return fmt.Errorf("flushing %s: %w", t.name, err)
	}
	return t.file.Close()
}

// OutputManager handles structured experiment output with CSV logging.
// It writes snapshots.csv, telemetry.csv, perf.csv and bookmarks.csv into dir.
type OutputManager struct {
	dir       string
	snapshots *csvTable
	telemetry *csvTable
	perf      *csvTable
	bookmarks *csvTable
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	for _, spec := range []struct {
		name string
		dst  **csvTable
	}{
		{"snapshots.csv", &om.snapshots},
		{"telemetry.csv", &om.telemetry},
		{"perf.csv", &om.perf},
		{"bookmarks.csv", &om.bookmarks},
	} {
		t, err := createTable(dir, spec.name)
		if err != nil {
			om.Close()
			return nil, err
		}
		*spec.dst = t
	}

	return om, nil
}

// WriteConfig saves the effective configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTick appends one tick of the snapshot stream to snapshots.csv.
func (om *OutputManager) WriteTick(tick int64, recs []Record) error {
	if om == nil || len(recs) == 0 {
		return nil
	}
	return om.snapshots.write(recs)
}

// WriteStats writes a window stats record to telemetry.csv.
func (om *OutputManager) WriteStats(stats WindowStats) error {
	if om == nil {
		return nil
	}
	return om.telemetry.write([]WindowStats{stats})
}

// WritePerf appends one window of step profiling to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int64) error {
	if om == nil || stats.Samples == 0 {
		return nil
	}
	return om.perf.write(stats.Rows(windowEnd))
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	return om.bookmarks.write([]Bookmark{b})
}

// WriteSnapshot saves a JSON frame under the snapshots/ subdirectory.
func (om *OutputManager) WriteSnapshot(s *Snapshot) (string, error) {
	if om == nil {
		return "", nil
	}
	return SaveSnapshot(s, filepath.Join(om.dir, "snapshots"))
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, t := range []*csvTable{om.snapshots, om.telemetry, om.perf, om.bookmarks} {
		if t == nil {
			continue
		}
		if err := t.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
