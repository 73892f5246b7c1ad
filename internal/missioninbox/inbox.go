// Package missioninbox watches a directory for mission files dropped
// by an operator and queues the missions they contain for delivery.
package missioninbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/roverfleet/missioncontrol/internal/mission"
	"github.com/roverfleet/missioncontrol/internal/missionstore"
)

// Inbox watches a directory for newly created mission files. Each
// file may contain a single mission object or an array of mission
// objects, matching the operator's mission-file convention.
type Inbox struct {
	dir     string
	store   *missionstore.Store
	onReady func(mission.Mission)

	watcher    *fsnotify.Watcher
	knownFiles sync.Map
}

// New creates an Inbox watching dir. onReady is invoked once per
// validated mission after it has been persisted, so the dispatcher can
// attempt immediate delivery to a registered rover.
func New(dir string, store *missionstore.Store, onReady func(mission.Mission)) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return &Inbox{dir: dir, store: store, onReady: onReady, watcher: watcher}, nil
}

// Close stops watching the directory.
func (ix *Inbox) Close() error {
	return ix.watcher.Close()
}

// Run blocks, processing filesystem events until the watcher is
// closed or a stop signal is received on stop.
func (ix *Inbox) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case ev, ok := <-ix.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			if _, known := ix.knownFiles.Load(ev.Name); known {
				continue
			}
			ix.knownFiles.Store(ev.Name, struct{}{})
			ix.processFile(ev.Name)

		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("missioninbox: watcher error")
		}
	}
}

// processFile parses, validates, and persists every mission in path,
// logging and skipping any mission that fails validation rather than
// rejecting the whole file.
func (ix *Inbox) processFile(path string) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		log.WithField("file", path).WithError(err).Warn("missioninbox: failed to read mission file")
		return
	}

	var single json.RawMessage
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		if err := json.Unmarshal(raw, &single); err != nil {
			log.WithField("file", path).WithError(err).Warn("missioninbox: invalid mission file JSON")
			return
		}
		batch = []json.RawMessage{single}
	}

	for _, entry := range batch {
		m, err := mission.ValidateMission(entry)
		if err != nil {
			log.WithField("file", path).WithError(err).Warn("missioninbox: skipping invalid mission")
			continue
		}
		if err := ix.store.PutMission(m); err != nil {
			log.WithField("mission", m.MissionID).WithError(err).Warn("missioninbox: failed to persist mission")
			continue
		}
		log.WithFields(log.Fields{"mission": m.MissionID, "rover": m.RoverID}).Info("missioninbox: mission queued")
		if ix.onReady != nil {
			ix.onReady(m)
		}
	}
}
