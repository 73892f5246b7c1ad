// Package observation exposes a read-only HTTP and websocket query
// surface over the identity registry, mission/progress state, and
// stored telemetry artifacts.
package observation

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/roverfleet/missioncontrol/internal/identity"
	"github.com/roverfleet/missioncontrol/internal/mission"
	"github.com/roverfleet/missioncontrol/internal/missionstore"
	"github.com/roverfleet/missioncontrol/internal/storage"
)

// API is the mother-ship's read-only query surface, bound to one
// gorilla/mux router serving both JSON endpoints and a live websocket
// event feed.
type API struct {
	router        *mux.Router
	registry      *identity.Registry
	store         *missionstore.Store
	telemetryRoot string

	upgrader    websocket.Upgrader
	subscribers sync.Map // uuid string -> chan []byte
}

// New returns an API reading from registry and store, and serving
// telemetry artifacts out of telemetryRoot.
func New(registry *identity.Registry, store *missionstore.Store, telemetryRoot string) *API {
	a := &API{
		router:        mux.NewRouter(),
		registry:      registry,
		store:         store,
		telemetryRoot: telemetryRoot,
	}

	a.router.HandleFunc("/", a.handleRoot).Methods(http.MethodGet)
	a.router.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	a.router.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	a.router.HandleFunc("/rovers", a.handleRovers).Methods(http.MethodGet)
	a.router.HandleFunc("/rovers/{rover_id}", a.handleRover).Methods(http.MethodGet)
	a.router.HandleFunc("/rovers/{rover_id}/telemetry", a.handleRoverTelemetry).Methods(http.MethodGet)
	a.router.HandleFunc("/missions", a.handleMissions).Methods(http.MethodGet)
	a.router.HandleFunc("/missions/{mission_id}", a.handleMission).Methods(http.MethodGet)
	a.router.HandleFunc("/telemetry", a.handleTelemetry).Methods(http.MethodGet)
	a.router.HandleFunc("/ws", a.handleWebSocket).Methods(http.MethodGet)

	return a
}

// ServeHTTP binds the API to an http.Server.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Broadcast publishes event, JSON-encoded, to every connected
// websocket subscriber. The mother-ship calls this after a freshly
// dropped mission is delivered immediately and after each stored
// telemetry upload, so ground control sees them without polling;
// registrations and progress reports are not broadcast. A slow or gone subscriber
// never blocks the broadcast: its update is dropped.
func (a *API) Broadcast(event interface{}) {
	raw, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Warn("observation: failed to encode broadcast event")
		return
	}

	a.subscribers.Range(func(_, v interface{}) bool {
		ch := v.(chan []byte)
		select {
		case ch <- raw:
		default:
			log.Debug("observation: dropping event for a slow websocket subscriber")
		}
		return true
	})
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"api":     "rover fleet observation API",
		"version": "1.0",
		"status":  "online",
		"endpoints": []string{
			"/rovers", "/rovers/{rover_id}", "/rovers/{rover_id}/telemetry",
			"/missions", "/missions/{mission_id}", "/telemetry", "/status", "/healthz", "/ws",
		},
	})
}

// handleHealthz is a liveness probe: it never touches the registry or
// store, so it answers even if one of them is under contention.
func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	rovers := a.registry.Rovers()
	missions, err := a.store.ListMissions("")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "online",
		"rover_count":    len(rovers),
		"mission_count":  len(missions),
	})
}

type roverSummary struct {
	RoverID        string  `json:"rover_id"`
	IP             string  `json:"ip"`
	Status         string  `json:"status"`
	LastSeen       *int64  `json:"last_seen"`
	CurrentMission *string `json:"current_mission"`
}

func (a *API) roverSummaryFor(roverID string) roverSummary {
	addr, _ := a.registry.Lookup(roverID)
	summary := roverSummary{RoverID: roverID, Status: "active"}
	if addr != nil {
		summary.IP = addr.IP.String()
	}
	if active, found, err := a.store.ActiveForRover(roverID); err == nil && found {
		id := active.MissionID
		summary.CurrentMission = &id
	}
	if paths, err := storage.ListRecent(a.telemetryRoot, roverID, 1); err == nil && len(paths) > 0 {
		if epoch, ok := storage.ParseArtifactEpoch(paths[0]); ok {
			summary.LastSeen = &epoch
		}
	}
	return summary
}

func (a *API) handleRovers(w http.ResponseWriter, r *http.Request) {
	var rovers []roverSummary
	for _, roverID := range a.registry.Rovers() {
		rovers = append(rovers, a.roverSummaryFor(roverID))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rovers": rovers})
}

func (a *API) handleRover(w http.ResponseWriter, r *http.Request) {
	roverID := mux.Vars(r)["rover_id"]
	if _, ok := a.registry.Lookup(roverID); !ok {
		writeNotFound(w, "rover", roverID)
		return
	}

	summary := a.roverSummaryFor(roverID)
	body := map[string]interface{}{
		"rover_id":        summary.RoverID,
		"ip":              summary.IP,
		"status":          summary.Status,
		"last_seen":       summary.LastSeen,
		"current_mission": summary.CurrentMission,
	}
	if summary.CurrentMission != nil {
		if progress, found, err := a.store.GetProgress(*summary.CurrentMission); err == nil && found {
			body["mission_progress"] = progress
		}
	}
	if paths, err := storage.ListRecent(a.telemetryRoot, roverID, 1); err == nil && len(paths) > 0 {
		if data, err := os.ReadFile(paths[0]); err == nil {
			var latest map[string]interface{}
			if json.Unmarshal(data, &latest) == nil {
				body["latest_telemetry"] = latest
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleRoverTelemetry(w http.ResponseWriter, r *http.Request) {
	roverID := mux.Vars(r)["rover_id"]
	if _, ok := a.registry.Lookup(roverID); !ok {
		writeNotFound(w, "rover", roverID)
		return
	}
	a.writeTelemetry(w, roverID, r.URL.Query().Get("limit"))
}

func (a *API) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	a.writeTelemetry(w, r.URL.Query().Get("rover_id"), r.URL.Query().Get("limit"))
}

func (a *API) writeTelemetry(w http.ResponseWriter, roverID, limitParam string) {
	limit := 20
	if limitParam != "" {
		if n, err := strconv.Atoi(limitParam); err == nil && n > 0 {
			limit = n
		}
	}

	paths, err := storage.ListRecent(a.telemetryRoot, roverID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	artifacts := make([]map[string]interface{}, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var artifact map[string]interface{}
		if err := json.Unmarshal(data, &artifact); err != nil {
			continue
		}
		artifacts = append(artifacts, artifact)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"telemetry": artifacts})
}

func (a *API) handleMissions(w http.ResponseWriter, r *http.Request) {
	status := mission.Status(r.URL.Query().Get("status"))
	missions, err := a.store.ListMissions(status)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"missions": missions})
}

func (a *API) handleMission(w http.ResponseWriter, r *http.Request) {
	missionID := mux.Vars(r)["mission_id"]
	m, err := a.store.GetMission(missionID)
	if err != nil {
		writeNotFound(w, "mission", missionID)
		return
	}
	progress, found, err := a.store.GetProgress(missionID)
	if err != nil || !found {
		writeJSON(w, http.StatusOK, m)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		mission.Mission
		Progress mission.Progress `json:"progress"`
	}{m, progress})
}

// handleWebSocket upgrades the connection and registers it as a
// subscriber until the client disconnects, mirroring
// pkg/agent/ws_agent.go's upgrade-then-register-then-pump shape.
func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("observation: websocket upgrade failed")
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	ch := make(chan []byte, 16)
	a.subscribers.Store(id, ch)
	defer a.subscribers.Delete(id)

	done := make(chan struct{})
	go func() {
		// Drain inbound frames only to detect the client closing the
		// connection; this feed is one-directional.
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("observation: failed to write JSON response")
	}
}

func writeNotFound(w http.ResponseWriter, kind, id string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": kind + " " + id + " not found"})
}
