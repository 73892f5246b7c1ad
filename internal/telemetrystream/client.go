package telemetrystream

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

// Send opens a fresh connection to address, uploads filename/data as
// one frame, and closes. Per spec.md §4.7 "the client does not reuse
// connections even when sending periodically", every call dials anew.
func Send(address, filename string, data []byte, dialTimeout time.Duration) error {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return fmt.Errorf("telemetrystream: dial %q: %w", address, err)
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	if err := writeFrameHeader(w, filename); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("telemetrystream: write body: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("telemetrystream: flush: %w", err)
	}

	// Signal end-of-stream to the server's reader without dropping
	// the connection outright before the last byte leaves the socket.
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		return tcpConn.CloseWrite()
	}
	return nil
}
