package dispatch

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/roverfleet/missioncontrol/internal/identity"
	"github.com/roverfleet/missioncontrol/internal/mission"
	"github.com/roverfleet/missioncontrol/internal/missionlink"
	"github.com/roverfleet/missioncontrol/internal/missionstore"
)

const (
	testRetryLimit = 5
	testMaxBody    = 64
)

func newEndpoint(t *testing.T) *missionlink.Endpoint {
	t.Helper()
	ep, err := missionlink.NewEphemeralEndpoint(missionlink.DefaultBufferSize, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("NewEphemeralEndpoint failed: %v", err)
	}
	return ep
}

func udpAddr(t *testing.T, ep *missionlink.Endpoint) *net.UDPAddr {
	t.Helper()
	addr, ok := ep.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("endpoint local addr is not *net.UDPAddr: %T", ep.LocalAddr())
	}
	// The endpoint is bound to the wildcard address; replies arrive from
	// loopback, so address it there for the peer checks to match.
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port}
}

// roverSend opens a connection from roverEp to serverAddr, sends one
// operation, and waits for the four-way close to finish.
func roverSend(t *testing.T, roverEp *missionlink.Endpoint, agentID string, serverAddr *net.UDPAddr, missionID string, op missionlink.Operation, body []byte) {
	t.Helper()
	hs, err := missionlink.OpenClient(roverEp, agentID, serverAddr, testRetryLimit)
	if err != nil {
		t.Fatalf("OpenClient failed: %v", err)
	}
	tr := missionlink.NewTransfer(roverEp, hs, testRetryLimit, testMaxBody)
	if err := tr.Send(missionID, op, body); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

// roverAcceptReply blocks for the mother-ship's reply connection and
// returns its operation and body. Must be called only after any
// rover-initiated send on the same endpoint has fully completed, since
// a single Endpoint cannot demultiplex two concurrent readers.
func roverAcceptReply(t *testing.T, roverEp *missionlink.Endpoint) (missionlink.Operation, string, []byte) {
	t.Helper()
	hs, err := missionlink.AcceptOpen(roverEp, testRetryLimit)
	if err != nil {
		t.Fatalf("AcceptOpen (reply) failed: %v", err)
	}
	tr := missionlink.NewTransfer(roverEp, hs, testRetryLimit, testMaxBody)
	op, missionID, body, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive (reply) failed: %v", err)
	}
	return op, missionID, body
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *missionlink.Endpoint, *identity.Registry, *missionstore.Store) {
	t.Helper()
	serverEp := newEndpoint(t)
	registry := identity.NewRegistry()
	store, err := missionstore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	t.Cleanup(func() { _ = serverEp.Close() })

	d := New(serverEp, registry, store, testRetryLimit, testMaxBody)
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go d.Run(stop)

	return d, serverEp, registry, store
}

func TestDispatcherHandleRegister(t *testing.T) {
	_, serverEp, registry, _ := newTestDispatcher(t)
	roverEp := newEndpoint(t)
	defer roverEp.Close()

	roverSend(t, roverEp, "rvr", udpAddr(t, serverEp), "rvr", missionlink.OpRegister, nil)

	op, _, body := roverAcceptReply(t, roverEp)
	if op != missionlink.OpNone {
		t.Errorf("reply op = %v, want %v", op, missionlink.OpNone)
	}
	if string(body) != "Registered" {
		t.Errorf("reply body = %q, want %q", body, "Registered")
	}

	if _, ok := registry.Lookup("rvr"); !ok {
		t.Error("registry does not contain rover after registration")
	}
}

func TestDispatcherHandleRegisterTwiceReportsAlreadyRegistered(t *testing.T) {
	_, serverEp, _, _ := newTestDispatcher(t)
	roverEp := newEndpoint(t)
	defer roverEp.Close()

	roverSend(t, roverEp, "rvr", udpAddr(t, serverEp), "rvr", missionlink.OpRegister, nil)
	roverAcceptReply(t, roverEp)

	roverSend(t, roverEp, "rvr", udpAddr(t, serverEp), "rvr", missionlink.OpRegister, nil)
	_, _, body := roverAcceptReply(t, roverEp)

	if string(body) != "Already registered" {
		t.Errorf("reply body = %q, want %q", body, "Already registered")
	}
}

func TestDispatcherHandleTaskRequestDeliversPendingMission(t *testing.T) {
	_, serverEp, registry, store := newTestDispatcher(t)
	roverEp := newEndpoint(t)
	defer roverEp.Close()

	registry.Register("r1", udpAddr(t, roverEp))
	if err := store.PutMission(mission.Mission{
		MissionID: "m01",
		RoverID:   "r1",
		Task:      "capture_images",
		GeographicArea: mission.GeographicArea{
			X1: 0, Y1: 0, X2: 10, Y2: 10,
		},
		DurationMinutes:        30,
		UpdateFrequencySeconds: 60,
		Status:                 mission.StatusPending,
	}); err != nil {
		t.Fatalf("PutMission failed: %v", err)
	}

	roverSend(t, roverEp, "r1", udpAddr(t, serverEp), "000", missionlink.OpTaskRequest, nil)

	op, missionID, body := roverAcceptReply(t, roverEp)
	if op != missionlink.OpTaskDeliver {
		t.Errorf("reply op = %v, want %v", op, missionlink.OpTaskDeliver)
	}
	if missionID != "m01" {
		t.Errorf("reply mission id = %q, want %q", missionID, "m01")
	}

	var delivered mission.Mission
	if err := json.Unmarshal(body, &delivered); err != nil {
		t.Fatalf("reply body did not decode as a mission: %v", err)
	}
	if delivered.MissionID != "m01" || delivered.Task != "capture_images" {
		t.Errorf("delivered mission = %+v, want mission_id=m01 task=capture_images", delivered)
	}

	stored, err := store.GetMission("m01")
	if err != nil {
		t.Fatalf("GetMission failed: %v", err)
	}
	if stored.Status != mission.StatusActive {
		t.Errorf("stored mission status = %q, want %q after delivery", stored.Status, mission.StatusActive)
	}
}

func TestDispatcherHandleTaskRequestReportsNoMission(t *testing.T) {
	_, serverEp, registry, _ := newTestDispatcher(t)
	roverEp := newEndpoint(t)
	defer roverEp.Close()

	registry.Register("r1", udpAddr(t, roverEp))

	roverSend(t, roverEp, "r1", udpAddr(t, serverEp), "000", missionlink.OpTaskRequest, nil)

	_, _, body := roverAcceptReply(t, roverEp)
	if string(body) != "no_mission" {
		t.Errorf("reply body = %q, want %q", body, "no_mission")
	}
}

func TestDispatcherHandleProgressPersists(t *testing.T) {
	_, serverEp, _, store := newTestDispatcher(t)
	roverEp := newEndpoint(t)
	defer roverEp.Close()

	progressJSON := `{"mission_id":"m01","progress_percent":42,"status":"in_progress","current_position":{"x":3,"y":4}}`
	roverSend(t, roverEp, "r1", udpAddr(t, serverEp), "m01", missionlink.OpProgress, []byte(progressJSON))

	_, _, body := roverAcceptReply(t, roverEp)
	if string(body) != "progress_received" {
		t.Errorf("reply body = %q, want %q", body, "progress_received")
	}

	stored, found, err := store.GetProgress("m01")
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	if !found {
		t.Fatal("progress was not persisted")
	}
	if stored.ProgressPercent != 42 {
		t.Errorf("stored progress percent = %v, want 42", stored.ProgressPercent)
	}
}

func TestDispatcherDeliverMissionFailsForUnregisteredRover(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	err := d.DeliverMission("ghost", mission.Mission{MissionID: "m02", RoverID: "ghost"})
	if err == nil {
		t.Fatal("DeliverMission succeeded for an unregistered rover, want error")
	}
}
