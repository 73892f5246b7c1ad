package missionlink

import (
	"errors"
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Transfer drives one complete exchange over an already-opened
// connection: chunked send or chunked receive, followed by the
// four-way close. A Transfer is single-use; callers open a fresh one
// per request/response per spec.md §5 "one transfer per operation".
//
// The mission-id wire field is overloaded (spec.md §9 "Mission-id
// doubling as agent-id"): during open it carries the connecting
// peer's agent id, but during the data phase it carries the actual
// mission identifier, which need not match. AgentID, established at
// open, is kept separate from the per-transfer mission id that Send
// sets explicitly and Receive learns from the first accepted frame.
type Transfer struct {
	ep         *Endpoint
	peer       *net.UDPAddr
	AgentID    string
	retryLimit int
	maxBody    int

	missionID string
	seq       int
	ack       int
}

// NewTransfer wraps an established connection (the result of
// OpenClient or AcceptOpen) in a Transfer ready to Send or Receive
// exactly one operation's worth of data.
func NewTransfer(ep *Endpoint, hs HandshakeResult, retryLimit, maxBody int) *Transfer {
	if retryLimit <= 0 {
		retryLimit = DefaultRetryLimit
	}
	if maxBody <= 0 {
		maxBody = MaxBodySize(DefaultBufferSize)
	}
	return &Transfer{
		ep:         ep,
		peer:       hs.Peer,
		AgentID:    hs.AgentID,
		retryLimit: retryLimit,
		maxBody:    maxBody,
		seq:        hs.Seq,
		ack:        hs.Ack,
	}
}

// Send chunks body across as many data frames as the configured body
// size requires, retransmitting each chunk until acked or the retry
// budget is spent, then runs the sender side of the close handshake.
// A zero-length body still sends exactly one empty chunk, matching the
// registration exchange's empty-body request. missionID is the
// 3-character mission identifier carried on every data frame; it is
// independent of the agent id used at open.
func (t *Transfer) Send(missionID string, op Operation, body []byte) error {
	t.missionID = missionID
	var sendErr error

	for offset := 0; ; {
		end := offset + t.maxBody
		if end > len(body) {
			end = len(body)
		}
		chunk := body[offset:end]

		if err := t.sendChunk(op, chunk); err != nil {
			sendErr = err
			break
		}

		offset = end
		if offset >= len(body) {
			break
		}
	}

	seq, ack, closeErr := CloseSender(t.ep, t.peer, t.missionID, t.seq, t.ack, t.retryLimit)
	t.seq, t.ack = seq, ack
	return combineErrors(sendErr, closeErr)
}

// sendChunk transmits one data frame and blocks for its ack, retrying
// on timeout up to the configured retry budget.
func (t *Transfer) sendChunk(op Operation, chunk []byte) error {
	t.seq++
	frame := Frame{
		Flag:      FlagData,
		MissionID: t.missionID,
		Seq:       t.seq,
		Ack:       t.ack,
		Operation: op,
		Body:      string(chunk),
	}

	retries := 0
	for {
		if err := t.ep.SendFrame(frame, t.peer); err != nil {
			return err
		}

		reply, src, err := t.ep.ReceiveFrame()
		if errors.Is(err, ErrTimeout) {
			retries++
			if retries >= t.retryLimit {
				return fmt.Errorf("missionlink: send chunk: %w", ErrPeerUnreachable)
			}
			log.WithFields(log.Fields{"mission": t.missionID, "seq": t.seq}).Debug("missionlink: chunk ack timed out, retrying")
			continue
		}
		if err != nil {
			continue
		}
		if !sameAddr(src, t.peer) || reply.MissionID != t.missionID {
			continue
		}
		if reply.Flag == FlagAck && reply.Ack == t.seq {
			t.ack = reply.Seq
			return nil
		}
		// Stray frame while awaiting this chunk's ack: discard it and send
		// the chunk again without spending the retry budget.
	}
}

// Receive drains data frames until the peer initiates a close,
// reassembling the body and returning it alongside the operation tag
// the peer requested and the mission id it carried. Each accepted
// chunk is appended at once; a retransmission of the last accepted
// chunk (its ack was lost) is recognised by its sequence number, re-acked
// and not appended again. The mission id is learned from
// the first accepted frame, matching the sender's freedom to carry a
// mission id unrelated to its open-time agent id.
func (t *Transfer) Receive() (Operation, string, []byte, error) {
	var body []byte
	var op Operation
	previousSeq := -1
	established := false

	for {
		frame, src, err := t.ep.ReceiveFrame()
		if errors.Is(err, ErrTimeout) {
			return 0, "", nil, fmt.Errorf("missionlink: receive: %w", ErrTimeout)
		}
		if err != nil {
			continue
		}
		if !sameAddr(src, t.peer) {
			continue
		}
		if established && frame.MissionID != t.missionID {
			continue
		}

		switch frame.Flag {
		case FlagClose:
			if !established {
				return 0, "", nil, fmt.Errorf("missionlink: receive: %w: close before any data frame", ErrProtocolInvariantViolation)
			}
			closeSeq := t.seq + 1
			seq, ack, closeErr := CloseReceiver(t.ep, t.peer, t.missionID, closeSeq, closeSeq, t.retryLimit)
			t.seq, t.ack = seq, ack
			if closeErr != nil {
				return 0, "", nil, fmt.Errorf("missionlink: receive: close: %w", closeErr)
			}
			return op, t.missionID, body, nil

		case FlagData:
			if !established {
				t.missionID = frame.MissionID
				established = true
			}
			ackFrame := Frame{Flag: FlagAck, MissionID: t.missionID, Operation: OpNone, Body: eofKey}

			if frame.Seq == previousSeq {
				// Duplicate of the last accepted chunk: our ack was lost.
				// Resend it without re-appending the body.
				ackFrame.Seq = t.seq
				ackFrame.Ack = frame.Seq
				if err := t.ep.SendFrame(ackFrame, t.peer); err != nil {
					return 0, "", nil, err
				}
				continue
			}

			wantSeq := t.seq + 1
			if frame.Seq != wantSeq {
				// Stale or out-of-order chunk: it does not advance state.
				// Re-emit the last ack so the sender re-sends (spec.md §4.5,
				// §7 SequenceMismatch), rather than aborting the transfer.
				log.WithFields(log.Fields{"mission": t.missionID, "got": frame.Seq, "want": wantSeq}).
					Debug("missionlink: sequence mismatch, discarding chunk and re-acking")
				ackFrame.Seq = t.seq
				ackFrame.Ack = t.ack
				if err := t.ep.SendFrame(ackFrame, t.peer); err != nil {
					return 0, "", nil, err
				}
				continue
			}

			t.seq = frame.Seq
			t.ack++
			body = append(body, []byte(frame.Body)...)
			if op == 0 {
				op = frame.Operation
			}
			previousSeq = frame.Seq

			ackFrame.Seq = t.ack
			ackFrame.Ack = frame.Seq
			if err := t.ep.SendFrame(ackFrame, t.peer); err != nil {
				return 0, "", nil, err
			}

		default:
			continue
		}
	}
}

// combineErrors folds a transfer-phase error together with a
// close-phase error using go-multierror, so a caller who inspects the
// result sees both failures along a bilateral close instead of only
// whichever happened last.
func combineErrors(transferErr, closeErr error) error {
	if transferErr == nil {
		return closeErr
	}
	if closeErr == nil {
		return transferErr
	}
	var merr *multierror.Error
	merr = multierror.Append(merr, transferErr, closeErr)
	return merr.ErrorOrNil()
}
