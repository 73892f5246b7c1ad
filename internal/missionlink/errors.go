// Package missionlink implements MissionLink (ML), the reliable
// request/response protocol carried over UDP datagrams between rovers
// and the mother-ship.
package missionlink

import "errors"

// Error kinds for the closed set of failure modes a transfer can hit.
// Protocol failures returned by this package wrap one of these via
// errors.Is; socket errors are returned wrapped with context only.
var (
	// ErrMalformedFrame is returned when a frame's field count is wrong
	// or its flag, sequence, ack, or operation field does not parse.
	ErrMalformedFrame = errors.New("missionlink: malformed frame")

	// ErrUnexpectedFlag is returned when a structurally valid frame
	// carries a flag that is not valid in the current protocol state.
	ErrUnexpectedFlag = errors.New("missionlink: unexpected flag")

	// ErrUnexpectedOperation names a frame whose operation tag does not
	// match what the current transfer expects. No function in this
	// package returns it.
	ErrUnexpectedOperation = errors.New("missionlink: unexpected operation")

	// ErrSequenceMismatch names a data frame whose sequence number is
	// not exactly one more than the last accepted sequence. It is not
	// returned: the receiver discards such a chunk and re-sends its last
	// ack.
	ErrSequenceMismatch = errors.New("missionlink: sequence mismatch")

	// ErrPeerMismatch names a frame that arrives from an address other
	// than the transfer's established peer. It is not returned: such
	// frames are discarded.
	ErrPeerMismatch = errors.New("missionlink: peer mismatch")

	// ErrIdentityMismatch names a frame whose mission-id field differs
	// from the transfer's established mission-id. It is not returned:
	// such frames are discarded.
	ErrIdentityMismatch = errors.New("missionlink: identity mismatch")

	// ErrTimeout is returned when no response arrives within the
	// configured receive timeout.
	ErrTimeout = errors.New("missionlink: timeout")

	// ErrPeerUnreachable is returned when a step's retry budget is
	// exhausted; the transfer must be torn down.
	ErrPeerUnreachable = errors.New("missionlink: peer unreachable")

	// ErrProtocolInvariantViolation is returned when a peer violates an
	// ordering invariant of the protocol, e.g. sending a close before
	// any data frame.
	ErrProtocolInvariantViolation = errors.New("missionlink: protocol invariant violation")

	// ErrSequenceSpaceExhausted is returned when a transfer would need
	// more chunks than the 4-digit ASCII-decimal sequence field can
	// represent (see SPEC_FULL.md Open Question (b)).
	ErrSequenceSpaceExhausted = errors.New("missionlink: sequence space exhausted")

	// ErrBodyContainsSeparator is returned at encode time when a body
	// contains the field separator, which would otherwise silently
	// corrupt the frame on the wire (see SPEC_FULL.md Open Question (c)).
	ErrBodyContainsSeparator = errors.New("missionlink: body contains field separator")
)
