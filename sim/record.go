package sim

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/pthm-cable/swarmlab/components"
	"github.com/pthm-cable/swarmlab/systems"
	"github.com/pthm-cable/swarmlab/telemetry"
)

// record closes out a tick: census, snapshot stream and window flush. It
// returns the number of records streamed.
func (s *Simulation) record() (int, error) {
	s.census = s.takeCensus()
	s.collector.Observe(s.census)
	if s.census.Count(components.KindPrey) > 0 && s.census.Count(components.KindPredator) > 0 {
		s.coexistTicks++
	}

	written := 0
	if len(s.sink) > 0 && s.tick%int64(s.cfg.Sim.SnapshotEvery) == 0 {
		recs := s.Records()
		if err := s.sink.WriteTick(s.tick, recs); err != nil {
			return 0, fmt.Errorf("tick %d: %w", s.tick, err)
		}
		written = len(recs)
	}

	if s.collector.ShouldFlush(s.tick) {
		if err := s.flushTelemetry(); err != nil {
			return written, fmt.Errorf("tick %d: %w", s.tick, err)
		}
	}
	return written, nil
}

// takeCensus counts live agents, sheltered prey and still aggregators.
func (s *Simulation) takeCensus() telemetry.Census {
	c := telemetry.Census{Counts: s.reg.Counts()}
	s.reg.Each(func(a systems.Agent) {
		if !a.Alive() {
			return
		}
		switch a.Mind.State {
		case components.StateSheltered:
			c.Sheltered++
		case components.StateStill:
			c.Still++
		}
	})
	return c
}

// Records returns the current state of every live agent sorted by id. The
// slice is reused by the next call.
func (s *Simulation) Records() []telemetry.Record {
	if s.recordsTick == s.tick && s.records != nil {
		return s.records
	}
	recs := s.records[:0]
	s.reg.Each(func(a systems.Agent) {
		if !a.Alive() {
			return
		}
		var zone string
		if z := s.zones.Zone(s.zones.ZoneOf(a.ID)); z != nil {
			zone = z.Name
		}
		recs = append(recs, telemetry.Record{
			Tick:  s.tick,
			ID:    uint32(a.ID),
			Kind:  a.Kind.String(),
			X:     a.Pos.X,
			Y:     a.Pos.Y,
			State: a.Mind.State.String(),
			Zone:  zone,
		})
	})
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	s.records = recs
	s.recordsTick = s.tick
	return recs
}

// flushTelemetry closes the current window, reports it and checks bookmarks.
func (s *Simulation) flushTelemetry() error {
	stats := s.collector.Flush(s.tick, s.census)

	if s.opts.StatsCallback != nil {
		s.opts.StatsCallback(stats)
	}
	if s.opts.LogStats {
		stats.LogStats()
	}

	if err := s.sink.WriteStats(stats); err != nil {
		return err
	}
	perf := s.perf.Stats()
	if s.opts.LogStats {
		slog.Debug("perf", "tick", s.tick, "stats", perf)
	}
	if err := s.opts.Output.WritePerf(perf, s.tick); err != nil {
		return err
	}

	for _, bm := range s.bookmarks.Check(stats) {
		s.bookmarkCount++
		bm.LogBookmark()
		if err := s.sink.WriteBookmark(bm); err != nil {
			return err
		}
		if s.opts.Output == nil {
			continue
		}

		recs := s.Records()
		snap := &telemetry.Snapshot{
			Version:     telemetry.SnapshotVersion,
			Scenario:    s.opts.Scenario,
			RNGSeed:     s.seed,
			WorldWidth:  s.cfg.World.Width,
			WorldHeight: s.cfg.World.Height,
			Tick:        s.tick,
			Counts:      telemetry.CountKinds(recs),
			Agents:      append([]telemetry.Record(nil), recs...),
			Bookmark:    &bm,
		}
		path, err := s.opts.Output.WriteSnapshot(snap)
		if err != nil {
			return err
		}
		slog.Info("snapshot saved", "path", path, "bookmark", string(bm.Type))
	}
	return nil
}
