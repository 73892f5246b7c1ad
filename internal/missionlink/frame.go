package missionlink

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Flag is the one-byte protocol-role discriminant of a frame: what the
// frame does at the connection level, as opposed to what it carries.
type Flag byte

const (
	// FlagOpenRequest ("S") begins the three-way open handshake.
	FlagOpenRequest Flag = 'S'
	// FlagOpenAck ("Z") answers an open request.
	FlagOpenAck Flag = 'Z'
	// FlagAck ("A") acknowledges a data or close frame.
	FlagAck Flag = 'A'
	// FlagClose ("F") begins or answers the four-way close.
	FlagClose Flag = 'F'
	// FlagData ("D") carries application bytes.
	FlagData Flag = 'D'
)

func (f Flag) valid() bool {
	switch f {
	case FlagOpenRequest, FlagOpenAck, FlagAck, FlagClose, FlagData:
		return true
	default:
		return false
	}
}

func (f Flag) String() string {
	return string(f)
}

// Operation is the one-byte classifier for the semantic purpose of a
// transfer, independent of the frame's protocol role.
type Operation byte

const (
	// OpRegister ("R") registers a rover's identity with the mother-ship.
	OpRegister Operation = 'R'
	// OpTaskDeliver ("T") carries a mission JSON from mother-ship to rover.
	OpTaskDeliver Operation = 'T'
	// OpTaskRequest ("Q") asks the mother-ship for a pending mission.
	OpTaskRequest Operation = 'Q'
	// OpProgress ("P") carries a mission-progress JSON from rover to mother-ship.
	OpProgress Operation = 'P'
	// OpNone ("N") marks control frames (acks, closes) carrying no operation.
	OpNone Operation = 'N'
	// OpMetrics ("M") is the historical, reserved-but-unused metrics tag.
	// Open Question (a): accepted for forward compatibility and routed
	// through the same handler path as OpProgress.
	OpMetrics Operation = 'M'
)

func (o Operation) valid() bool {
	switch o {
	case OpRegister, OpTaskDeliver, OpTaskRequest, OpProgress, OpNone, OpMetrics:
		return true
	default:
		return false
	}
}

func (o Operation) String() string {
	return string(o)
}

const (
	// missionIDLen is the fixed width of the mission-id/agent-id field.
	missionIDLen = 3

	// seqAckLen is the fixed width of the sequence and ack fields.
	seqAckLen = 4

	// sizeLen is the fixed width of the size field.
	sizeLen = 4

	// headerOverhead is the number of bytes a frame's header occupies
	// excluding the body: flag + 3-byte mission-id + 4-byte seq +
	// 4-byte ack + 4-byte size + 1-byte operation + 6 separators.
	headerOverhead = 1 + missionIDLen + seqAckLen + seqAckLen + sizeLen + 1 + 6

	// fieldCount is the number of pipe-separated fields a well-formed
	// frame must decode into.
	fieldCount = 7

	// separator is the field delimiter. Bodies must not contain it.
	separator = "|"

	// maxSeqAck bounds the sequence/ack ASCII-decimal fields.
	maxSeqAck = 9999
)

// Frame is the structured representation of one MissionLink datagram.
// Decoding parses the wire format once at the boundary; the rest of
// the engine only ever sees this type.
type Frame struct {
	Flag      Flag
	MissionID string // rover identity during open handshakes, mission id otherwise
	Seq       int
	Ack       int
	Operation Operation
	Body      string
}

// MaxBodySize returns the largest body that fits in a single frame for
// the given datagram buffer size.
func MaxBodySize(bufferSize int) int {
	return bufferSize - headerOverhead
}

// padMissionID pads or truncates id to exactly missionIDLen characters,
// per spec.md §4.1 "senders MUST pad or truncate to three characters".
func padMissionID(id string) string {
	if len(id) >= missionIDLen {
		return id[:missionIDLen]
	}
	return id + strings.Repeat(" ", missionIDLen-len(id))
}

// Encode renders a Frame as wire bytes. It fails if seq/ack exceed the
// 4-digit decimal field width, or if the body contains the field
// separator (Open Question (c): reject rather than silently corrupt).
func (f Frame) Encode() ([]byte, error) {
	if !f.Flag.valid() {
		return nil, fmt.Errorf("missionlink: encode: %w: flag %q", ErrUnexpectedFlag, f.Flag)
	}
	if f.Seq < 0 || f.Seq > maxSeqAck || f.Ack < 0 || f.Ack > maxSeqAck {
		return nil, fmt.Errorf("missionlink: encode: %w", ErrSequenceSpaceExhausted)
	}
	if strings.Contains(f.Body, separator) {
		return nil, fmt.Errorf("missionlink: encode: %w", ErrBodyContainsSeparator)
	}

	op := f.Operation
	if op == 0 {
		op = OpNone
	}

	s := strings.Join([]string{
		f.Flag.String(),
		padMissionID(f.MissionID),
		strconv.Itoa(f.Seq),
		strconv.Itoa(f.Ack),
		strconv.Itoa(len(f.Body)),
		op.String(),
		f.Body,
	}, separator)
	return []byte(s), nil
}

// Decode parses wire bytes into a Frame. It validates the field count
// before doing anything else, per spec.md §4.1 "decoding never
// allocates before field-count validation".
func Decode(raw []byte) (Frame, error) {
	if n := bytes.Count(raw, []byte(separator)) + 1; n != fieldCount {
		return Frame{}, fmt.Errorf("missionlink: decode: %w: got %d fields", ErrMalformedFrame, n)
	}
	parts := strings.Split(string(raw), separator)

	flag := Flag(0)
	if len(parts[0]) == 1 {
		flag = Flag(parts[0][0])
	}
	if !flag.valid() {
		return Frame{}, fmt.Errorf("missionlink: decode: %w: flag %q", ErrMalformedFrame, parts[0])
	}

	seq, err := strconv.Atoi(parts[2])
	if err != nil {
		return Frame{}, fmt.Errorf("missionlink: decode: %w: seq %q", ErrMalformedFrame, parts[2])
	}
	ack, err := strconv.Atoi(parts[3])
	if err != nil {
		return Frame{}, fmt.Errorf("missionlink: decode: %w: ack %q", ErrMalformedFrame, parts[3])
	}

	op := Operation(0)
	if len(parts[5]) == 1 {
		op = Operation(parts[5][0])
	}
	if !op.valid() {
		return Frame{}, fmt.Errorf("missionlink: decode: %w: operation %q", ErrMalformedFrame, parts[5])
	}

	return Frame{
		Flag:      flag,
		MissionID: strings.TrimRight(parts[1], " "),
		Seq:       seq,
		Ack:       ack,
		Operation: op,
		Body:      parts[6],
	}, nil
}
