package telemetry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// RunInfo describes a run in the runs table.
type RunInfo struct {
	ID        string    `db:"run_id"`
	Scenario  string    `db:"scenario"`
	Seed      int64     `db:"seed"`
	StartedAt time.Time `db:"started_at"`
	Config    string    `db:"config_yaml"`
}

// SQLiteSink stores the snapshot stream, window stats and bookmarks of one run
// in a SQLite database. Several runs may share a file; rows carry the run id.
type SQLiteSink struct {
	db    *sqlx.DB
	runID string
}

// OpenSQLite opens or creates the database at path and registers a new run.
// An empty run.ID gets a fresh uuid.
func OpenSQLite(path string, run RunInfo) (*SQLiteSink, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err = db.NamedExec(`INSERT INTO runs (run_id, scenario, seed, started_at, config_yaml)
		VALUES (:run_id, :scenario, :seed, :started_at, :config_yaml)`, run)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	s.runID = run.ID

	return s, nil
}

func (s *SQLiteSink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		seed INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		config_yaml TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		state TEXT NOT NULL,
		zone TEXT NOT NULL,
		PRIMARY KEY (run_id, tick, agent_id)
	);

	CREATE TABLE IF NOT EXISTS window_stats (
		run_id TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		sim_time REAL NOT NULL,
		flockers INTEGER NOT NULL,
		aggregators INTEGER NOT NULL,
		prey INTEGER NOT NULL,
		pred INTEGER NOT NULL,
		attackers INTEGER NOT NULL,
		protectors INTEGER NOT NULL,
		prey_mean REAL NOT NULL,
		prey_cv REAL NOT NULL,
		pred_mean REAL NOT NULL,
		pred_cv REAL NOT NULL,
		prey_births INTEGER NOT NULL,
		pred_births INTEGER NOT NULL,
		prey_deaths INTEGER NOT NULL,
		pred_deaths INTEGER NOT NULL,
		kills INTEGER NOT NULL,
		starved INTEGER NOT NULL,
		shelter_entries INTEGER NOT NULL,
		zone_entries INTEGER NOT NULL,
		evictions INTEGER NOT NULL,
		denied_entries INTEGER NOT NULL,
		denied_reproductions INTEGER NOT NULL,
		sheltered INTEGER NOT NULL,
		still_fraction REAL NOT NULL,
		lifespan_mean REAL NOT NULL,
		lifespan_p50 REAL NOT NULL,
		lifespan_p90 REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookmarks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		type TEXT NOT NULL,
		tick INTEGER NOT NULL,
		description TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_kind ON snapshots(run_id, kind);
	CREATE INDEX IF NOT EXISTS idx_window_stats_run ON window_stats(run_id, window_end);
	CREATE INDEX IF NOT EXISTS idx_bookmarks_run ON bookmarks(run_id, tick);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RunID returns the id rows of this run are stored under.
func (s *SQLiteSink) RunID() string {
	return s.runID
}

// WriteTick inserts one tick of records in a single transaction.
func (s *SQLiteSink) WriteTick(tick int64, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO snapshots
		(run_id, tick, agent_id, kind, x, y, state, zone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.Exec(s.runID, r.Tick, r.ID, r.Kind, r.X, r.Y, r.State, r.Zone); err != nil {
			return fmt.Errorf("insert snapshot tick %d agent %d: %w", tick, r.ID, err)
		}
	}

	return tx.Commit()
}

// windowRow is a WindowStats tagged with its run.
type windowRow struct {
	RunID string `db:"run_id"`
	WindowStats
}

// WriteStats appends a window.
func (s *SQLiteSink) WriteStats(stats WindowStats) error {
	_, err := s.db.NamedExec(`INSERT INTO window_stats
		(run_id, window_start, window_end, sim_time, flockers, aggregators, prey, pred,
		 attackers, protectors, prey_mean, prey_cv, pred_mean, pred_cv, prey_births,
		 pred_births, prey_deaths, pred_deaths, kills, starved, shelter_entries,
		 zone_entries, evictions, denied_entries, denied_reproductions, sheltered,
		 still_fraction, lifespan_mean, lifespan_p50, lifespan_p90)
		VALUES
		(:run_id, :window_start, :window_end, :sim_time, :flockers, :aggregators, :prey, :pred,
		 :attackers, :protectors, :prey_mean, :prey_cv, :pred_mean, :pred_cv, :prey_births,
		 :pred_births, :prey_deaths, :pred_deaths, :kills, :starved, :shelter_entries,
		 :zone_entries, :evictions, :denied_entries, :denied_reproductions, :sheltered,
		 :still_fraction, :lifespan_mean, :lifespan_p50, :lifespan_p90)`,
		windowRow{RunID: s.runID, WindowStats: stats})
	if err != nil {
		return fmt.Errorf("insert window %d: %w", stats.WindowEndTick, err)
	}
	return nil
}

// WriteBookmark appends a bookmark.
func (s *SQLiteSink) WriteBookmark(b Bookmark) error {
	_, err := s.db.Exec(`INSERT INTO bookmarks (run_id, type, tick, description) VALUES (?, ?, ?, ?)`,
		s.runID, string(b.Type), b.Tick, b.Description)
	if err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	return nil
}

// Snapshot loads the records of one tick of this run ordered by agent id.
func (s *SQLiteSink) Snapshot(tick int64) ([]Record, error) {
	var recs []Record
	err := s.db.Select(&recs, `SELECT tick, agent_id, kind, x, y, state, zone
		FROM snapshots WHERE run_id = ? AND tick = ? ORDER BY agent_id`, s.runID, tick)
	if err != nil {
		return nil, fmt.Errorf("select tick %d: %w", tick, err)
	}
	return recs, nil
}

// Windows loads every window of this run in order.
func (s *SQLiteSink) Windows() ([]WindowStats, error) {
	var out []WindowStats
	err := s.db.Select(&out, `SELECT window_start, window_end, sim_time, flockers, aggregators,
		prey, pred, attackers, protectors, prey_mean, prey_cv, pred_mean, pred_cv, prey_births,
		pred_births, prey_deaths, pred_deaths, kills, starved, shelter_entries, zone_entries,
		evictions, denied_entries, denied_reproductions, sheltered, still_fraction,
		lifespan_mean, lifespan_p50, lifespan_p90
		FROM window_stats WHERE run_id = ? ORDER BY window_end`, s.runID)
	if err != nil {
		return nil, fmt.Errorf("select windows: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
