// Package storage lays out telemetry artifacts on disk under a root
// directory, keyed by rover identity.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// roverIDProbe extracts only the rover_id field from a telemetry
// payload, without validating the rest of its shape.
type roverIDProbe struct {
	RoverID string `json:"rover_id"`
}

// Place writes data to <root>/<filename>, then, if data parses as
// JSON carrying a non-empty rover_id field, relocates it to
// <root>/<rover-id>/<filename>. It returns the final path the
// artifact was written to and the rover id it was filed under, which
// is empty when the artifact could not be attributed to a rover.
//
// This mirrors TelemetryStream.py's `_handle_client`: write first,
// classify second, log and leave the file at the root on any
// classification failure rather than losing the upload.
func Place(root, filename string, data []byte) (path string, roverID string, err error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", "", fmt.Errorf("storage: create root %q: %w", root, err)
	}

	rootPath := filepath.Join(root, filename)
	if err := os.WriteFile(rootPath, data, 0644); err != nil {
		return "", "", fmt.Errorf("storage: write artifact: %w", err)
	}

	var probe roverIDProbe
	if err := json.Unmarshal(data, &probe); err != nil || probe.RoverID == "" {
		log.WithField("filename", filename).Debug("storage: artifact has no rover_id, leaving at root")
		return rootPath, "", nil
	}

	roverDir := filepath.Join(root, probe.RoverID)
	if err := os.MkdirAll(roverDir, 0755); err != nil {
		log.WithError(err).WithField("rover", probe.RoverID).Warn("storage: failed to create rover directory, leaving artifact at root")
		return rootPath, "", nil
	}

	finalPath := filepath.Join(roverDir, filename)
	if err := os.Rename(rootPath, finalPath); err != nil {
		log.WithError(err).WithField("rover", probe.RoverID).Warn("storage: failed to relocate artifact, leaving it at root")
		return rootPath, "", nil
	}
	return finalPath, probe.RoverID, nil
}

// ArtifactName builds the canonical telemetry filename for a rover's
// upload at the given Unix epoch second.
func ArtifactName(roverID string, epochSeconds int64) string {
	return fmt.Sprintf("telemetry_%s_%d.json", roverID, epochSeconds)
}

// ParseArtifactEpoch extracts the Unix epoch second embedded in a
// telemetry_<rover-id>_<epoch>.json filename. ok is false if the text
// between the last underscore and the .json suffix is not an integer;
// the rest of the name is not checked.
func ParseArtifactEpoch(filename string) (epochSeconds int64, ok bool) {
	name := strings.TrimSuffix(filepath.Base(filename), ".json")
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return 0, false
	}
	epoch, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return epoch, true
}

// ListRecent returns up to limit telemetry artifact paths under
// <root>/<roverID> (or every rover's directory when roverID is
// empty), newest first by the epoch second embedded in each filename.
func ListRecent(root, roverID string, limit int) ([]string, error) {
	var dirs []string
	if roverID != "" {
		dirs = []string{filepath.Join(root, roverID)}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("storage: list root: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(root, e.Name()))
			}
		}
	}

	var paths []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("storage: list %q: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
	}

	sortDescending(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

// sortDescending sorts paths newest first by the epoch second embedded
// in each filename, so artifacts from different rover directories
// interleave by time. Equal epochs, and names without one (treated as
// epoch 0), fall back to descending path order.
func sortDescending(paths []string) {
	newer := func(a, b string) bool {
		ea, _ := ParseArtifactEpoch(a)
		eb, _ := ParseArtifactEpoch(b)
		if ea != eb {
			return ea > eb
		}
		return a > b
	}
	for i := 1; i < len(paths); i++ {
		for j := i; j > 0 && newer(paths[j], paths[j-1]); j-- {
			paths[j], paths[j-1] = paths[j-1], paths[j]
		}
	}
}
