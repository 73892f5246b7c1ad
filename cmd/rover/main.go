// Command rover runs one field unit: it registers with the
// mother-ship, listens for incoming mission deliveries and control
// replies, periodically polls for pending work, and periodically
// uploads a telemetry artifact over TelemetryStream.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/roverfleet/missioncontrol/internal/config"
	"github.com/roverfleet/missioncontrol/internal/mission"
	"github.com/roverfleet/missioncontrol/internal/missionlink"
	"github.com/roverfleet/missioncontrol/internal/storage"
	"github.com/roverfleet/missioncontrol/internal/telemetrystream"
)

const noMissionID = "000"

// waitSigint blocks until a SIGINT arrives.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

// rover holds the state one field unit needs across its concurrent
// loops: the shared MissionLink endpoint (reused for every outgoing
// transfer and for the inbound listener, matching spec.md §5's
// "one rover process, one socket" shape) and the currently assigned
// mission, if any.
//
// A single *net.UDPConn tolerates concurrent goroutines calling it,
// but MissionLink's frame routing does not: listen's long-lived
// AcceptOpen and a concurrent sendControl's chunk-ack wait would both
// read from the same socket with no way to tell which goroutine a
// given reply belongs to, so connMu serializes every full open/close
// round trip onto the endpoint one at a time.
type rover struct {
	agentID    string
	mothership *net.UDPAddr
	ep         *missionlink.Endpoint
	retryLimit int
	maxBody    int

	connMu sync.Mutex

	mu      sync.Mutex
	current *mission.Mission
}

func (r *rover) setCurrent(m mission.Mission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := m
	r.current = &cp
}

func (r *rover) currentMission() (mission.Mission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return mission.Mission{}, false
	}
	return *r.current, true
}

// sendControl opens a fresh transfer to the mother-ship and sends one
// inline message, mirroring dispatch.Dispatcher.reply's "every
// response is a new handshake over the same socket" pattern. It holds
// connMu for the whole open-send-close round trip so listen's inbound
// loop cannot steal one of this transfer's acks off the shared socket.
func (r *rover) sendControl(missionID string, op missionlink.Operation, body []byte) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	hs, err := missionlink.OpenClient(r.ep, r.agentID, r.mothership, r.retryLimit)
	if err != nil {
		return fmt.Errorf("rover: open: %w", err)
	}
	tr := missionlink.NewTransfer(r.ep, hs, r.retryLimit, r.maxBody)
	return tr.Send(missionID, op, body)
}

// register performs the one-time `R` registration exchange.
func (r *rover) register() error {
	if err := r.sendControl(noMissionID, missionlink.OpRegister, []byte{0}); err != nil {
		return err
	}
	log.WithField("agent", r.agentID).Info("rover: registered with mother-ship")
	return nil
}

// requestMission performs a `Q` task-request poll.
func (r *rover) requestMission() error {
	return r.sendControl(noMissionID, missionlink.OpTaskRequest, []byte("request"))
}

// reportProgress sends a `P` progress update for the active mission.
func (r *rover) reportProgress(p mission.Progress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.sendControl(p.MissionID, missionlink.OpProgress, raw)
}

// listen runs the long-lived inbound loop: accept an open, receive
// whatever the mother-ship sends (a mission delivery or a control
// reply body), and ack mission deliveries with the mission id per
// spec.md §4.6.
func (r *rover) listen(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		// TryLock rather than Lock: if a sendControl call currently owns
		// the endpoint, back off instead of queuing behind it, so a
		// steady stream of inbound opens can never starve the rover's
		// own outbound task-request and progress sends.
		if !r.connMu.TryLock() {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		hs, err := missionlink.AcceptOpen(r.ep, r.retryLimit)
		if err != nil {
			r.connMu.Unlock()
			continue
		}

		tr := missionlink.NewTransfer(r.ep, hs, r.retryLimit, r.maxBody)
		op, missionID, body, err := tr.Receive()
		r.connMu.Unlock()
		if err != nil {
			log.WithError(err).Debug("rover: inbound transfer failed")
			continue
		}

		switch op {
		case missionlink.OpTaskDeliver:
			m, err := mission.ValidateMission(body)
			if err != nil {
				log.WithError(err).Warn("rover: received invalid mission, ignoring")
				continue
			}
			r.setCurrent(m)
			log.WithField("mission", m.MissionID).Info("rover: mission received")
			if err := r.sendControl(m.MissionID, missionlink.OpNone, []byte(m.MissionID)); err != nil {
				log.WithError(err).WithField("mission", m.MissionID).Warn("rover: failed to ack mission delivery")
			}

		default:
			log.WithFields(log.Fields{"mission": missionID, "body": string(body)}).Debug("rover: control reply received")
		}
	}
}

// telemetryLoop periodically uploads a synthesized telemetry artifact
// over TelemetryStream. Synthesizing realistic sensor readings is the
// rover-side telemetry synthesizer, out of scope per spec.md §1; this
// emits a minimal envelope carrying rover_id and timestamp, plus
// mission_id while a mission is assigned.
func (r *rover) telemetryLoop(streamAddr string, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			epoch := now.Unix()
			payload := map[string]interface{}{
				"rover_id":  r.agentID,
				"timestamp": epoch,
			}
			if m, ok := r.currentMission(); ok {
				payload["mission_id"] = m.MissionID
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				log.WithError(err).Warn("rover: failed to encode telemetry payload")
				continue
			}
			filename := storage.ArtifactName(r.agentID, epoch)
			if err := telemetrystream.Send(streamAddr, filename, raw, 5*time.Second); err != nil {
				log.WithError(err).Warn("rover: telemetry upload failed")
			}
		}
	}
}

// taskRequestLoop periodically polls the mother-ship for pending work.
func (r *rover) taskRequestLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.requestMission(); err != nil {
				log.WithError(err).Debug("rover: task-request failed")
			}
		}
	}
}

// progressLoop periodically reports progress on the active mission,
// if one is assigned. Synthesizing the actual progress percentage and
// position is the rover-side mission executor, out of scope per
// spec.md §1; this reports a fixed in-progress snapshot to exercise
// the `P` operation's wire path.
func (r *rover) progressLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m, ok := r.currentMission()
			if !ok {
				continue
			}
			p := mission.Progress{
				MissionID:       m.MissionID,
				ProgressPercent: 50,
				Status:          "in_progress",
			}
			if err := r.reportProgress(p); err != nil {
				log.WithError(err).WithField("mission", m.MissionID).Debug("rover: progress report failed")
			}
		}
	}
}

func main() {
	if len(os.Args) < 3 || len(os.Args) > 4 {
		log.Fatalf("Usage: %s <mothership-host:port> <agent-id> [configuration.toml]", os.Args[0])
	}
	mothershipAddress := os.Args[1]
	agentID := os.Args[2]
	var confPath string
	if len(os.Args) == 4 {
		confPath = os.Args[3]
	}

	conf, err := config.Load(confPath)
	if err != nil {
		log.WithError(err).Fatal("rover: failed to load configuration")
	}
	conf.ConfigureLogging()

	dst, err := net.ResolveUDPAddr("udp", mothershipAddress)
	if err != nil {
		log.WithError(err).Fatal("rover: failed to resolve mother-ship address")
	}

	ep, err := missionlink.NewEphemeralEndpoint(conf.Network.BufferSize, conf.ReceiveTimeout())
	if err != nil {
		log.WithError(err).Fatal("rover: failed to bind MissionLink endpoint")
	}
	defer ep.Close()

	streamHost, _, err := net.SplitHostPort(mothershipAddress)
	if err != nil {
		log.WithError(err).Fatal("rover: failed to parse mother-ship host")
	}
	streamAddr := fmt.Sprintf("%s:%d", streamHost, conf.Network.StreamPort)

	r := &rover{
		agentID:    agentID,
		mothership: dst,
		ep:         ep,
		retryLimit: conf.Network.RetryLimit,
		maxBody:    missionlink.MaxBodySize(conf.Network.BufferSize),
	}

	if err := r.register(); err != nil {
		log.WithError(err).Fatal("rover: registration failed")
	}

	stop := make(chan struct{})
	go r.listen(stop)
	go r.taskRequestLoop(time.Duration(conf.Rover.PollIntervalS)*time.Second, stop)
	go r.progressLoop(time.Duration(conf.Rover.ProgressIntervalS)*time.Second, stop)
	go r.telemetryLoop(streamAddr, time.Duration(conf.Rover.TelemetryIntervalS)*time.Second, stop)

	log.WithFields(log.Fields{"agent": agentID, "mothership": mothershipAddress}).Info("rover: online")

	waitSigint()
	log.Info("rover: shutting down")
	close(stop)
}
