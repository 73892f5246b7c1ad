package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPlaceRelocatesArtifactWithRoverID(t *testing.T) {
	root := t.TempDir()
	data := []byte(`{"rover_id":"r1","battery":0.8}`)

	path, roverID, err := Place(root, "telemetry_r1_1000.json", data)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if roverID != "r1" {
		t.Errorf("roverID = %q, want %q", roverID, "r1")
	}
	want := filepath.Join(root, "r1", "telemetry_r1_1000.json")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("artifact not found at %q: %v", want, err)
	}
	if _, err := os.Stat(filepath.Join(root, "telemetry_r1_1000.json")); !os.IsNotExist(err) {
		t.Error("artifact was not removed from root after relocation")
	}
}

func TestPlaceLeavesArtifactAtRootWithoutRoverID(t *testing.T) {
	root := t.TempDir()
	data := []byte(`not json`)

	path, roverID, err := Place(root, "mystery.json", data)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if roverID != "" {
		t.Errorf("roverID = %q, want empty", roverID)
	}
	want := filepath.Join(root, "mystery.json")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}

func TestListRecentFiltersByRoverAndLimit(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"telemetry_r1_1000.json", "telemetry_r1_2000.json", "telemetry_r1_3000.json"} {
		if _, _, err := Place(root, name, []byte(`{"rover_id":"r1"}`)); err != nil {
			t.Fatalf("Place failed: %v", err)
		}
	}
	if _, _, err := Place(root, "telemetry_r2_1500.json", []byte(`{"rover_id":"r2"}`)); err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	got, err := ListRecent(root, "r1", 2)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListRecent returned %d paths, want 2: %v", len(got), got)
	}
	if filepath.Base(got[0]) != "telemetry_r1_3000.json" {
		t.Errorf("newest path = %q, want telemetry_r1_3000.json", filepath.Base(got[0]))
	}

	all, err := ListRecent(root, "", 0)
	if err != nil {
		t.Fatalf("ListRecent(all) failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListRecent(all) returned %d paths, want 4", len(all))
	}
}

func TestArtifactName(t *testing.T) {
	got := ArtifactName("r1", 1700000000)
	want := "telemetry_r1_1700000000.json"
	if got != want {
		t.Errorf("ArtifactName = %q, want %q", got, want)
	}
}
