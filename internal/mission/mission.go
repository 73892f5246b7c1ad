// Package mission defines the mission and progress domain objects
// exchanged over MissionLink's task-deliver and progress operations,
// and the validation rules a mission must satisfy before dispatch.
package mission

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status classifies a mission's lifecycle state as reported by the
// observation surface's status filter.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// GeographicArea is the rectangular operating bound a mission is
// scoped to. Only the rectangle form (x1,y1,x2,y2) is supported.
type GeographicArea struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Mission is a task assignment delivered to a rover over a `T` frame.
type Mission struct {
	MissionID             string          `json:"mission_id"`
	RoverID                string          `json:"rover_id"`
	GeographicArea         GeographicArea  `json:"geographic_area"`
	Task                   string          `json:"task"`
	DurationMinutes        float64         `json:"duration_minutes"`
	UpdateFrequencySeconds float64         `json:"update_frequency_seconds"`
	Priority               string          `json:"priority,omitempty"`
	Instructions           string          `json:"instructions,omitempty"`
	Status                 Status          `json:"status"`
}

// Position is a rover's reported location inside the mission's
// geographic area.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Progress is a status update reported by a rover over a `P` frame.
type Progress struct {
	MissionID        string   `json:"mission_id"`
	ProgressPercent  float64  `json:"progress_percent"`
	Status           string   `json:"status"`
	CurrentPosition  Position `json:"current_position"`
}

// ValidateMission parses and validates raw mission JSON, enforcing the
// minimum required fields and the geographic-area rectangle
// invariant. It returns the parsed Mission on success.
func ValidateMission(raw []byte) (Mission, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Mission{}, fmt.Errorf("mission: invalid JSON: %w", ErrInvalidMission)
	}

	for _, name := range []string{"mission_id", "rover_id", "geographic_area", "task", "duration_minutes", "update_frequency_seconds"} {
		if _, ok := fields[name]; !ok {
			return Mission{}, fmt.Errorf("mission: %w: missing field %q", ErrInvalidMission, name)
		}
	}

	var m Mission
	if err := json.Unmarshal(raw, &m); err != nil {
		return Mission{}, fmt.Errorf("mission: %w: %v", ErrInvalidMission, err)
	}

	if m.MissionID == "" || m.RoverID == "" || m.Task == "" {
		return Mission{}, fmt.Errorf("mission: %w: mission_id, rover_id, and task must be non-empty", ErrInvalidMission)
	}
	if m.DurationMinutes <= 0 {
		return Mission{}, fmt.Errorf("mission: %w: duration_minutes must be > 0", ErrInvalidMission)
	}
	if m.UpdateFrequencySeconds <= 0 {
		return Mission{}, fmt.Errorf("mission: %w: update_frequency_seconds must be > 0", ErrInvalidMission)
	}
	area := m.GeographicArea
	if area.X1 >= area.X2 || area.Y1 >= area.Y2 {
		return Mission{}, fmt.Errorf("mission: %w: geographic_area requires x1 < x2 and y1 < y2", ErrInvalidMission)
	}

	if m.Status == "" {
		m.Status = StatusPending
	}
	return m, nil
}

// ValidateProgress parses and validates raw progress JSON.
func ValidateProgress(raw []byte) (Progress, error) {
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return Progress{}, fmt.Errorf("mission: %w: %v", ErrInvalidProgress, err)
	}
	if p.MissionID == "" {
		return Progress{}, fmt.Errorf("mission: %w: missing mission_id", ErrInvalidProgress)
	}
	if p.ProgressPercent < 0 || p.ProgressPercent > 100 {
		return Progress{}, fmt.Errorf("mission: %w: progress_percent must be within [0,100]", ErrInvalidProgress)
	}
	return p, nil
}

var (
	// ErrInvalidMission is returned when mission JSON fails validation.
	ErrInvalidMission = errors.New("invalid mission")
	// ErrInvalidProgress is returned when progress JSON fails validation.
	ErrInvalidProgress = errors.New("invalid progress")
)
