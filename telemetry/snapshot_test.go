package telemetry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()

	agents := []Record{
		{Tick: 1000, ID: 1, Kind: "prey", X: 150, Y: 250, State: "SHELTERED", Zone: "castle_0"},
		{Tick: 1000, ID: 2, Kind: "predator", X: 400, Y: 20, State: "ACTIVE"},
		{Tick: 1000, ID: 3, Kind: "prey", X: 10, Y: 990, State: "FREE"},
	}
	snapshot := &Snapshot{
		Version:     SnapshotVersion,
		Scenario:    "ecosystem",
		RNGSeed:     42,
		WorldWidth:  1000,
		WorldHeight: 1000,
		Tick:        1000,
		Counts:      CountKinds(agents),
		Agents:      agents,
		Bookmark: &Bookmark{
			Type:        BookmarkPreyCrash,
			Tick:        1000,
			Description: "Test bookmark",
		},
	}

	path, err := SaveSnapshot(snapshot, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Snapshot file not created at %s", path)
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	if loaded.RNGSeed != snapshot.RNGSeed {
		t.Errorf("RNGSeed mismatch: got %d, want %d", loaded.RNGSeed, snapshot.RNGSeed)
	}
	if loaded.Tick != snapshot.Tick {
		t.Errorf("Tick mismatch: got %d, want %d", loaded.Tick, snapshot.Tick)
	}
	if len(loaded.Agents) != len(agents) {
		t.Fatalf("Agents count mismatch: got %d, want %d", len(loaded.Agents), len(agents))
	}
	if loaded.Agents[0] != agents[0] {
		t.Errorf("agent mismatch: got %+v, want %+v", loaded.Agents[0], agents[0])
	}
	if loaded.Counts["prey"] != 2 || loaded.Counts["predator"] != 1 {
		t.Errorf("counts = %v, want 2 prey 1 predator", loaded.Counts)
	}
	if loaded.Bookmark == nil {
		t.Error("Bookmark not loaded")
	} else if loaded.Bookmark.Type != snapshot.Bookmark.Type {
		t.Errorf("Bookmark type mismatch: got %s, want %s", loaded.Bookmark.Type, snapshot.Bookmark.Type)
	}
}

func TestSnapshotFilename(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		snapshot *Snapshot
		want     string
	}{
		{
			name: "with bookmark",
			snapshot: &Snapshot{
				Version:  SnapshotVersion,
				Tick:     5000,
				Bookmark: &Bookmark{Type: BookmarkPreyCrash, Tick: 5000},
			},
			want: "snapshot_5000_prey_crash.json",
		},
		{
			name:     "without bookmark",
			snapshot: &Snapshot{Version: SnapshotVersion, Tick: 3000},
			want:     "snapshot_3000.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := SaveSnapshot(tt.snapshot, tmpDir)
			if err != nil {
				t.Fatalf("SaveSnapshot failed: %v", err)
			}
			if want := filepath.Join(tmpDir, tt.want); path != want {
				t.Errorf("Path mismatch: got %s, want %s", path, want)
			}
		})
	}
}

func TestLoadSnapshotRejectsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.json")
	if err := os.WriteFile(path, []byte(`{"version": 99, "tick": 1}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(path); err == nil {
		t.Error("expected error for unsupported version")
	}
}
