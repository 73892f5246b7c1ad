// Package dispatch runs the mother-ship's MissionLink server loop,
// routing each completed transfer to a handler by operation tag and
// replying to the rover over a fresh outgoing transfer.
package dispatch

import (
	"encoding/json"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/roverfleet/missioncontrol/internal/identity"
	"github.com/roverfleet/missioncontrol/internal/mission"
	"github.com/roverfleet/missioncontrol/internal/missionlink"
	"github.com/roverfleet/missioncontrol/internal/missionstore"
)

const noMissionID = "000"

// Dispatcher owns the mother-ship's bound MissionLink endpoint and
// routes completed transfers to their operation handler. It is the
// single writer to the identity registry and to the progress records
// in the mission store; the mission inbox also writes mission records
// to that store.
type Dispatcher struct {
	ep         *missionlink.Endpoint
	registry   *identity.Registry
	store      *missionstore.Store
	retryLimit int
	maxBody    int
}

// New returns a Dispatcher bound to ep.
func New(ep *missionlink.Endpoint, registry *identity.Registry, store *missionstore.Store, retryLimit, maxBody int) *Dispatcher {
	return &Dispatcher{ep: ep, registry: registry, store: store, retryLimit: retryLimit, maxBody: maxBody}
}

// Run accepts and handles one transfer at a time until stop is closed.
// A failed transfer is logged and does not end the loop, matching
// spec.md §7 "the server loop never terminates because of a single
// transfer's failure".
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		hs, err := missionlink.AcceptOpen(d.ep, d.retryLimit)
		if err != nil {
			log.WithError(err).Debug("dispatch: open handshake failed")
			continue
		}

		tr := missionlink.NewTransfer(d.ep, hs, d.retryLimit, d.maxBody)
		op, missionID, body, err := tr.Receive()
		if err != nil {
			log.WithError(err).WithField("agent", hs.AgentID).Warn("dispatch: transfer failed")
			continue
		}

		d.handle(hs.AgentID, hs.Peer, missionID, op, body)
	}
}

// handle routes one completed transfer by operation tag and answers
// the rover over a fresh outgoing transfer, per spec.md §4.6.
func (d *Dispatcher) handle(agentID string, peer *net.UDPAddr, missionID string, op missionlink.Operation, body []byte) {
	switch op {
	case missionlink.OpRegister:
		d.handleRegister(agentID, peer)

	case missionlink.OpTaskRequest:
		d.handleTaskRequest(agentID, peer)

	case missionlink.OpProgress, missionlink.OpMetrics:
		d.handleProgress(agentID, peer, body)

	default:
		log.WithFields(log.Fields{"agent": agentID, "op": op}).Warn("dispatch: unexpected operation on receive path")
	}
}

func (d *Dispatcher) handleRegister(agentID string, peer *net.UDPAddr) {
	_, alreadyKnown := d.registry.Lookup(agentID)
	d.registry.Register(agentID, peer)

	response := "Registered"
	if alreadyKnown {
		response = "Already registered"
	}
	d.reply(agentID, peer, noMissionID, missionlink.OpNone, []byte(response))
}

func (d *Dispatcher) handleTaskRequest(agentID string, peer *net.UDPAddr) {
	pending, found, err := d.store.PendingForRover(agentID)
	if err != nil {
		log.WithError(err).WithField("rover", agentID).Warn("dispatch: failed to query pending missions")
		d.reply(agentID, peer, noMissionID, missionlink.OpNone, []byte("no_mission"))
		return
	}
	if !found {
		d.reply(agentID, peer, noMissionID, missionlink.OpNone, []byte("no_mission"))
		return
	}

	raw, err := json.Marshal(pending)
	if err != nil {
		log.WithError(err).WithField("mission", pending.MissionID).Warn("dispatch: failed to encode pending mission")
		return
	}
	if err := d.deliverMission(agentID, peer, pending.MissionID, raw); err != nil {
		log.WithError(err).WithField("mission", pending.MissionID).Warn("dispatch: failed to deliver mission")
		return
	}
	if err := d.store.MarkActive(pending.MissionID); err != nil {
		log.WithError(err).WithField("mission", pending.MissionID).Warn("dispatch: failed to mark mission active")
	}
}

func (d *Dispatcher) handleProgress(agentID string, peer *net.UDPAddr, body []byte) {
	p, err := mission.ValidateProgress(body)
	if err != nil {
		log.WithError(err).WithField("agent", agentID).Warn("dispatch: invalid progress report")
		return
	}
	if err := d.store.PutProgress(p); err != nil {
		log.WithError(err).WithField("mission", p.MissionID).Warn("dispatch: failed to persist progress")
		return
	}
	d.reply(agentID, peer, p.MissionID, missionlink.OpNone, []byte("progress_received"))
}

// DeliverMission sends mission m to roverID if it is currently
// registered, acknowledging with m's identifier. It is exported so
// the mission inbox can attempt immediate delivery of freshly dropped
// missions without waiting for a `Q` task-request.
func (d *Dispatcher) DeliverMission(roverID string, m mission.Mission) error {
	peer, ok := d.registry.Lookup(roverID)
	if !ok {
		return fmt.Errorf("dispatch: rover %q is not registered", roverID)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := d.deliverMission(roverID, peer, m.MissionID, raw); err != nil {
		return err
	}
	return d.store.MarkActive(m.MissionID)
}

func (d *Dispatcher) deliverMission(roverID string, peer *net.UDPAddr, missionID string, raw []byte) error {
	hs, err := missionlink.OpenClient(d.ep, roverID, peer, d.retryLimit)
	if err != nil {
		return err
	}
	tr := missionlink.NewTransfer(d.ep, hs, d.retryLimit, d.maxBody)
	return tr.Send(missionID, missionlink.OpTaskDeliver, raw)
}

// reply answers agentID at peer with a short acknowledgment body over
// a fresh outgoing transfer, matching the source's pattern of a brand
// new connection for every control-plane response.
func (d *Dispatcher) reply(agentID string, peer *net.UDPAddr, missionID string, op missionlink.Operation, body []byte) {
	hs, err := missionlink.OpenClient(d.ep, agentID, peer, d.retryLimit)
	if err != nil {
		log.WithError(err).WithField("agent", agentID).Warn("dispatch: reply open failed")
		return
	}
	tr := missionlink.NewTransfer(d.ep, hs, d.retryLimit, d.maxBody)
	if err := tr.Send(missionID, op, body); err != nil {
		log.WithError(err).WithField("agent", agentID).Warn("dispatch: reply send failed")
	}
}
