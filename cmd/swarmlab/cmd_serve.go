package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/swarmlab/feed"
	"github.com/pthm-cable/swarmlab/sim"
)

const progressEvery = 600

// feedInfo is sent to websocket clients on connect and served at /.
type feedInfo struct {
	Scenario    string  `json:"scenario"`
	Seed        int64   `json:"seed"`
	WorldWidth  float64 `json:"world_width"`
	WorldHeight float64 `json:"world_height"`
	TicksPerSec float64 `json:"ticks_per_sec"`
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a simulation in real time and stream it over websocket",
		Long: `Run a simulation paced at --tps ticks per second and broadcast every
recorded tick as JSON to websocket clients connected at /ws.

Slow clients lose their oldest queued ticks; the simulation never waits.

Examples:
  swarmlab serve --scenario aggregation --addr :8080
  swarmlab serve --scenario attacker --tps 60 --max-ticks 100000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, scenario, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			seed, _ := cmd.Flags().GetInt64("seed")
			tps, _ := cmd.Flags().GetFloat64("tps")
			buffer, _ := cmd.Flags().GetInt("buffer")
			if tps <= 0 {
				return fmt.Errorf("--tps must be positive")
			}

			// The hub is built before the simulation, so the hello message gets
			// its seed once the simulation resolved it.
			info := &feedInfo{
				Scenario:    scenario,
				WorldWidth:  cfg.World.Width,
				WorldHeight: cfg.World.Height,
				TicksPerSec: tps,
			}
			hub := feed.NewHub(buffer, info)

			s, err := sim.New(cfg, sim.Options{Scenario: scenario, Seed: seed, Sink: hub})
			if err != nil {
				return err
			}
			defer s.Close()
			info.Seed = s.Seed()

			var tick atomic.Int64
			mux := http.NewServeMux()
			mux.Handle("/ws", hub)
			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(struct {
					*feedInfo
					Tick    int64 `json:"tick"`
					Clients int   `json:"clients"`
				}{info, tick.Load(), hub.Clients()})
			})
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			slog.Info("serving feed", "addr", addr, "scenario", scenario, "seed", s.Seed(), "tps", tps)

			runErr := pace(cmd.Context(), s, tps, &tick, errCh)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("feed shutdown", "error", err)
			}
			return runErr
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().Int64("seed", 0, "RNG seed (0 = sim.rng_seed, then time-based)")
	cmd.Flags().Float64("tps", 30, "Simulation ticks per second")
	cmd.Flags().Int("buffer", 8, "Ticks queued per client before the oldest is dropped")
	return cmd
}

// pace steps s at tps until the configured duration, ctx ends or the server fails.
func pace(ctx context.Context, s *sim.Simulation, tps float64, tick *atomic.Int64, serverErr <-chan error) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / tps))
	defer ticker.Stop()

	limit := int64(s.Config().Sim.DurationTicks)
	for limit <= 0 || s.Tick() < limit {
		select {
		case <-ctx.Done():
			slog.Info("feed stopped", "tick", s.Tick())
			return nil
		case err := <-serverErr:
			return fmt.Errorf("feed server: %w", err)
		case <-ticker.C:
			if err := s.Step(); err != nil {
				return err
			}
			tick.Store(s.Tick())
			if s.Tick()%progressEvery == 0 {
				slog.Info("feed progress", "tick", s.Tick(), "counts", s.Census().Counts)
			}
		}
	}
	slog.Info("simulation finished", "tick", s.Tick())
	return nil
}
