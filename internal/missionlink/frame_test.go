package missionlink

import (
	"errors"
	"strings"
	"testing"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	tests := []Frame{
		{Flag: FlagOpenRequest, MissionID: "r7", Seq: 100, Ack: 0, Operation: OpNone, Body: "-.-"},
		{Flag: FlagData, MissionID: "a1", Seq: 101, Ack: 100, Operation: OpRegister, Body: "hello rover"},
		{Flag: FlagClose, MissionID: "xyz", Seq: 9999, Ack: 9998, Operation: OpNone, Body: "\x00"},
		{Flag: FlagAck, MissionID: "", Seq: 0, Ack: 0, Operation: OpProgress, Body: ""},
	}

	for _, want := range tests {
		raw, err := want.Encode()
		if err != nil {
			t.Fatalf("Encode(%+v) failed: %v", want, err)
		}

		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", raw, err)
		}

		if got.Flag != want.Flag || got.Seq != want.Seq || got.Ack != want.Ack ||
			got.Operation != want.Operation || got.Body != want.Body {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
		wantID := strings.TrimRight(padMissionID(want.MissionID), " ")
		if got.MissionID != wantID {
			t.Errorf("mission id round trip mismatch: got %q, want %q", got.MissionID, wantID)
		}
	}
}

func TestFrameEncodeRejectsSeparatorInBody(t *testing.T) {
	f := Frame{Flag: FlagData, MissionID: "r1", Seq: 1, Ack: 0, Operation: OpRegister, Body: "left|right"}
	if _, err := f.Encode(); !errors.Is(err, ErrBodyContainsSeparator) {
		t.Fatalf("Encode with separator in body: got %v, want ErrBodyContainsSeparator", err)
	}
}

func TestFrameEncodeRejectsSequenceOverflow(t *testing.T) {
	f := Frame{Flag: FlagData, MissionID: "r1", Seq: 10000, Ack: 0, Operation: OpRegister, Body: "x"}
	if _, err := f.Encode(); !errors.Is(err, ErrSequenceSpaceExhausted) {
		t.Fatalf("Encode with seq overflow: got %v, want ErrSequenceSpaceExhausted", err)
	}
}

func TestFrameEncodeRejectsInvalidFlag(t *testing.T) {
	f := Frame{Flag: Flag('X'), MissionID: "r1", Seq: 1, Ack: 0, Operation: OpRegister, Body: "x"}
	if _, err := f.Encode(); !errors.Is(err, ErrUnexpectedFlag) {
		t.Fatalf("Encode with invalid flag: got %v, want ErrUnexpectedFlag", err)
	}
}

func TestDecodeRejectsWrongFieldCount(t *testing.T) {
	if _, err := Decode([]byte("S|r1|100|0|3")); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Decode with too few fields: got %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeDoesNotValidateSizeField(t *testing.T) {
	// The SYN handshake carries a literal "_" in the size field; Decode
	// must not attempt to parse it as an integer.
	f, err := Decode([]byte("S|r1 |100|0|_|N|-.-"))
	if err != nil {
		t.Fatalf("Decode with non-numeric size field failed: %v", err)
	}
	if f.Flag != FlagOpenRequest || f.MissionID != "r1" || f.Body != "-.-" {
		t.Errorf("unexpected decode result: %+v", f)
	}
}

func TestDecodeTrimsTrailingSpacesFromMissionID(t *testing.T) {
	f, err := Decode([]byte("A|ab |100|100|0|N|\x00"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.MissionID != "ab" {
		t.Errorf("MissionID = %q, want %q", f.MissionID, "ab")
	}
}

func TestPadMissionIDTruncatesAndPads(t *testing.T) {
	if got := padMissionID("a"); got != "a  " {
		t.Errorf("padMissionID(%q) = %q, want %q", "a", got, "a  ")
	}
	if got := padMissionID("abcd"); got != "abc" {
		t.Errorf("padMissionID(%q) = %q, want %q", "abcd", got, "abc")
	}
}

func TestMaxBodySize(t *testing.T) {
	if got := MaxBodySize(1024); got != 1024-headerOverhead {
		t.Errorf("MaxBodySize(1024) = %d, want %d", got, 1024-headerOverhead)
	}
}
