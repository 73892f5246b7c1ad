// Package missionstore persists missions and their progress records in
// a badgerhold-backed key/value store.
package missionstore

import (
	"os"
	"path"

	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"

	"github.com/roverfleet/missioncontrol/internal/mission"
)

const dirBadger = "db"

// Store owns the badgerhold handle for mission and progress records.
type Store struct {
	bh *badgerhold.Store
}

// NewStore opens or creates a Store rooted at dir.
func NewStore(dir string) (*Store, error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()

	if err := os.MkdirAll(badgerDir, 0700); err != nil {
		return nil, err
	}

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{bh: bh}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.bh.Close()
}

// PutMission inserts a new mission or updates an existing one with the
// same mission id.
func (s *Store) PutMission(m mission.Mission) error {
	log.WithField("mission", m.MissionID).Debug("missionstore: storing mission")
	return s.bh.Upsert(m.MissionID, m)
}

// GetMission fetches a mission by identifier.
func (s *Store) GetMission(missionID string) (mission.Mission, error) {
	var m mission.Mission
	err := s.bh.Get(missionID, &m)
	return m, err
}

// ListMissions returns every stored mission, optionally filtered by
// status when status is non-empty.
func (s *Store) ListMissions(status mission.Status) ([]mission.Mission, error) {
	var missions []mission.Mission
	var err error
	if status == "" {
		err = s.bh.Find(&missions, nil)
	} else {
		err = s.bh.Find(&missions, badgerhold.Where("Status").Eq(status))
	}
	return missions, err
}

// PendingForRover returns one pending mission assigned to roverID, if
// any, used by the `Q` task-request handler. When several are pending
// it returns the first in the store's key order; no creation time is
// kept, so this is not necessarily the oldest.
func (s *Store) PendingForRover(roverID string) (mission.Mission, bool, error) {
	var missions []mission.Mission
	err := s.bh.Find(&missions, badgerhold.Where("RoverID").Eq(roverID).And("Status").Eq(mission.StatusPending))
	if err != nil {
		return mission.Mission{}, false, err
	}
	if len(missions) == 0 {
		return mission.Mission{}, false, nil
	}
	return missions[0], true, nil
}

// ActiveForRover returns the rover's currently active mission, if any,
// used by the observation surface's per-rover detail view.
func (s *Store) ActiveForRover(roverID string) (mission.Mission, bool, error) {
	var missions []mission.Mission
	err := s.bh.Find(&missions, badgerhold.Where("RoverID").Eq(roverID).And("Status").Eq(mission.StatusActive))
	if err != nil {
		return mission.Mission{}, false, err
	}
	if len(missions) == 0 {
		return mission.Mission{}, false, nil
	}
	return missions[0], true, nil
}

// PutProgress records a progress update, keyed by mission id.
func (s *Store) PutProgress(p mission.Progress) error {
	return s.bh.Upsert(p.MissionID, p)
}

// GetProgress fetches the most recent progress record for missionID.
func (s *Store) GetProgress(missionID string) (mission.Progress, bool, error) {
	var p mission.Progress
	err := s.bh.Get(missionID, &p)
	if err == badgerhold.ErrNotFound {
		return mission.Progress{}, false, nil
	}
	if err != nil {
		return mission.Progress{}, false, err
	}
	return p, true, nil
}

// MarkActive transitions a mission to active and stores it.
func (s *Store) MarkActive(missionID string) error {
	m, err := s.GetMission(missionID)
	if err != nil {
		return err
	}
	m.Status = mission.StatusActive
	return s.PutMission(m)
}
