package missionlink

import (
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
)

// DefaultRetryLimit is the number of attempts each bounded protocol
// step (open, per-chunk data, close) gets before the transfer is
// abandoned as PeerUnreachable.
const DefaultRetryLimit = 5

// initialSeq is the sequence number both sides start from after a
// successful open (spec.md §3 "Sequence number").
const initialSeq = 100

// eofKey is the placeholder body carried by control frames (acks,
// closes) that have no application payload.
const eofKey = "\x00"

// HandshakeResult carries what a completed open handshake establishes:
// the peer's address and the connection's starting sequence state.
type HandshakeResult struct {
	Peer    *net.UDPAddr
	AgentID string // rover identity, established during open only
	Seq     int
	Ack     int
}

// OpenClient performs the client side of the three-way open: send
// open-request, await open-ack, send ack. agentID identifies the
// rover and is carried in the mission-id field during the handshake
// (spec.md §4.3, §9 "Mission-id doubling as agent-id").
func OpenClient(ep *Endpoint, agentID string, dst *net.UDPAddr, retryLimit int) (HandshakeResult, error) {
	req := Frame{Flag: FlagOpenRequest, MissionID: agentID, Seq: initialSeq, Ack: 0, Operation: OpNone, Body: "-.-"}

	retries := 0
	for {
		if err := ep.SendFrame(req, dst); err != nil {
			return HandshakeResult{}, err
		}

		frame, peer, err := ep.ReceiveFrame()
		if errors.Is(err, ErrTimeout) {
			retries++
			if retries >= retryLimit {
				return HandshakeResult{}, fmt.Errorf("missionlink: open client: %w", ErrPeerUnreachable)
			}
			log.WithField("agent", agentID).Debug("missionlink: open-request timed out, retrying")
			continue
		}
		if err != nil {
			// Malformed or unrelated datagram: discard it and send the
			// open-request again without spending the retry budget, as
			// this was not our awaited response timing out.
			continue
		}
		if !sameAddr(peer, dst) {
			continue
		}
		if frame.Flag != FlagOpenAck || frame.MissionID != agentID {
			continue
		}

		ack := Frame{Flag: FlagAck, MissionID: agentID, Seq: initialSeq, Ack: initialSeq, Operation: OpNone, Body: "-.-"}
		if err := ep.SendFrame(ack, dst); err != nil {
			return HandshakeResult{}, err
		}
		return HandshakeResult{Peer: dst, AgentID: agentID, Seq: initialSeq, Ack: initialSeq}, nil
	}
}

// AcceptOpen performs the server side of the three-way open: block for
// an open-request, echo it back as an open-ack, await the client's
// ack. On success it returns the observed peer address and rover
// identity so the caller can update the identity registry. A timeout
// while waiting for the initial open-request is reported as
// ErrTimeout rather than retried forever, so a caller sharing the
// endpoint with other senders gets a bounded turn at it.
func AcceptOpen(ep *Endpoint, retryLimit int) (HandshakeResult, error) {
	var (
		req  Frame
		peer *net.UDPAddr
	)
	for {
		frame, src, err := ep.ReceiveFrame()
		if errors.Is(err, ErrTimeout) {
			return HandshakeResult{}, fmt.Errorf("missionlink: accept open: %w", ErrTimeout)
		}
		if err != nil {
			continue
		}
		if frame.Flag != FlagOpenRequest {
			continue
		}
		req, peer = frame, src
		break
	}

	agentID := req.MissionID
	synack := req
	synack.Flag = FlagOpenAck

	retries := 0
	for {
		if err := ep.SendFrame(synack, peer); err != nil {
			return HandshakeResult{}, err
		}

		frame, src, err := ep.ReceiveFrame()
		if errors.Is(err, ErrTimeout) {
			retries++
			if retries >= retryLimit {
				return HandshakeResult{}, fmt.Errorf("missionlink: accept open: %w", ErrPeerUnreachable)
			}
			continue
		}
		if err != nil {
			continue
		}
		if !sameAddr(src, peer) {
			continue
		}
		if frame.Flag == FlagAck && frame.MissionID == agentID && frame.Ack == frame.Seq {
			return HandshakeResult{Peer: peer, AgentID: agentID, Seq: frame.Seq, Ack: frame.Ack}, nil
		}
		// Anything else: re-emit the cached open-ack and keep waiting.
		retries++
		if retries >= retryLimit {
			return HandshakeResult{}, fmt.Errorf("missionlink: accept open: %w", ErrPeerUnreachable)
		}
	}
}

// CloseSender performs the sending side of the four-way close: emit a
// close frame, then accept a peer-originated close (simultaneous
// close), an ack of our close (continue awaiting the peer's close), or
// a timeout (retransmit). Returns once both directions have closed.
func CloseSender(ep *Endpoint, peer *net.UDPAddr, missionID string, seq, ack, retryLimit int) (int, int, error) {
	seq++
	ack = seq
	fin := Frame{Flag: FlagClose, MissionID: missionID, Seq: seq, Ack: ack, Operation: OpNone, Body: eofKey}

	retries := 0
	for {
		if err := ep.SendFrame(fin, peer); err != nil {
			return seq, ack, err
		}

		frame, src, err := ep.ReceiveFrame()
		if errors.Is(err, ErrTimeout) {
			retries++
			if retries >= retryLimit {
				return seq, ack, fmt.Errorf("missionlink: close sender: %w", ErrPeerUnreachable)
			}
			continue
		}
		if err != nil {
			continue
		}
		if !sameAddr(src, peer) || frame.MissionID != missionID {
			continue
		}

		switch {
		case frame.Flag == FlagClose:
			// Peer closed simultaneously: ack their close using their
			// sequence number and we're done.
			seq++
			ack = frame.Seq
			reply := Frame{Flag: FlagAck, MissionID: missionID, Seq: seq, Ack: ack, Operation: OpNone, Body: eofKey}
			if err := ep.SendFrame(reply, peer); err != nil {
				return seq, ack, err
			}
			return seq, ack, nil

		case frame.Flag == FlagAck && frame.Ack == seq:
			// Our close was acked; send it again and keep waiting for
			// the peer's close.
			continue

		default:
			continue
		}
	}
}

// CloseReceiver performs the receiving side of the four-way close,
// invoked once the transfer engine observes a peer-originated close
// frame while draining chunks: answer with our own close, then await
// the peer's ack, retransmitting our close on timeout.
func CloseReceiver(ep *Endpoint, peer *net.UDPAddr, missionID string, seq, ack int, retryLimit int) (int, int, error) {
	fin := Frame{Flag: FlagClose, MissionID: missionID, Seq: seq, Ack: ack, Operation: OpNone, Body: eofKey}

	retries := 0
	for {
		if err := ep.SendFrame(fin, peer); err != nil {
			return seq, ack, err
		}

		frame, src, err := ep.ReceiveFrame()
		if errors.Is(err, ErrTimeout) {
			retries++
			if retries >= retryLimit {
				return seq, ack, fmt.Errorf("missionlink: close receiver: %w", ErrPeerUnreachable)
			}
			continue
		}
		if err != nil {
			continue
		}
		if !sameAddr(src, peer) || frame.MissionID != missionID {
			continue
		}
		if frame.Flag == FlagAck && frame.Ack == seq {
			return seq, ack, nil
		}
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
