// Package telemetrystream implements the TCP-based TelemetryStream
// protocol: a per-connection, single-frame file upload used by rovers
// to deliver periodic telemetry artifacts to the mother-ship.
package telemetrystream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// lengthFieldSize is the width of the ASCII-decimal filename-length
// prefix that opens every frame.
const lengthFieldSize = 4

// minFilenameLen and maxFilenameLen bound a frame's filename field.
const (
	minFilenameLen = 1
	maxFilenameLen = 255
)

var (
	// ErrInvalidLengthField is returned when the length prefix is not
	// four ASCII-decimal digits.
	ErrInvalidLengthField = errors.New("telemetrystream: invalid length field")
	// ErrFilenameOutOfRange is returned when the decoded filename
	// length falls outside [1, 255].
	ErrFilenameOutOfRange = errors.New("telemetrystream: filename length out of range")
	// ErrShortRead is returned when a connection closes before a full
	// field has been read.
	ErrShortRead = errors.New("telemetrystream: short read")
)

// formatLength renders n as a four-digit, zero-padded decimal string.
func formatLength(n int) (string, error) {
	if n < minFilenameLen || n > maxFilenameLen {
		return "", fmt.Errorf("telemetrystream: encode: %w: %d", ErrFilenameOutOfRange, n)
	}
	return fmt.Sprintf("%04d", n), nil
}

// readLength reads and validates the four-byte length prefix.
func readLength(r io.Reader) (int, error) {
	buf := make([]byte, lengthFieldSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("telemetrystream: read length field: %w", ErrShortRead)
	}

	n := 0
	for _, b := range buf {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("telemetrystream: %w: %q", ErrInvalidLengthField, buf)
		}
		n = n*10 + int(b-'0')
	}
	if n < minFilenameLen || n > maxFilenameLen {
		return 0, fmt.Errorf("telemetrystream: %w: %d", ErrFilenameOutOfRange, n)
	}
	return n, nil
}

// readFilename reads the n-byte filename field following the length
// prefix.
func readFilename(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("telemetrystream: read filename: %w", ErrShortRead)
	}
	return string(buf), nil
}

// writeFrameHeader writes the length prefix and filename for one
// upload onto w.
func writeFrameHeader(w *bufio.Writer, filename string) error {
	lengthField, err := formatLength(len(filename))
	if err != nil {
		return err
	}
	if _, err := w.WriteString(lengthField); err != nil {
		return fmt.Errorf("telemetrystream: write length field: %w", err)
	}
	if _, err := w.WriteString(filename); err != nil {
		return fmt.Errorf("telemetrystream: write filename: %w", err)
	}
	return nil
}
