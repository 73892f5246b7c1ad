package missionlink

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultReceiveTimeout is the per-receive blocking timeout applied
// when a caller does not configure one explicitly.
const DefaultReceiveTimeout = 2 * time.Second

// DefaultBufferSize is the default datagram buffer size; a frame's
// body may occupy up to MaxBodySize(DefaultBufferSize) bytes.
const DefaultBufferSize = 1024

// Endpoint owns one bound UDP socket and provides blocking
// whole-frame send/receive primitives. All senders write whole
// frames; the underlying transport is assumed to preserve datagram
// boundaries (spec.md §4.2).
type Endpoint struct {
	conn           *net.UDPConn
	bufferSize     int
	receiveTimeout time.Duration
}

// NewEndpoint binds a UDP socket at addr (host:port, host may be
// empty to bind all interfaces).
func NewEndpoint(addr string, bufferSize int, receiveTimeout time.Duration) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("missionlink: resolve endpoint address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("missionlink: bind endpoint: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if receiveTimeout <= 0 {
		receiveTimeout = DefaultReceiveTimeout
	}

	return &Endpoint{
		conn:           conn,
		bufferSize:     bufferSize,
		receiveTimeout: receiveTimeout,
	}, nil
}

// NewEphemeralEndpoint binds a UDP socket on an OS-chosen port, used
// by outgoing transfers that do not share the server's bound socket
// (spec.md §5 "Shared-resource policy").
func NewEphemeralEndpoint(bufferSize int, receiveTimeout time.Duration) (*Endpoint, error) {
	return NewEndpoint(":0", bufferSize, receiveTimeout)
}

// LocalAddr returns the endpoint's bound local address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// SendFrame encodes and writes one frame to dst as a single datagram.
func (e *Endpoint) SendFrame(f Frame, dst *net.UDPAddr) error {
	raw, err := f.Encode()
	if err != nil {
		return err
	}
	if _, err := e.conn.WriteToUDP(raw, dst); err != nil {
		return fmt.Errorf("missionlink: send frame: %w", err)
	}
	log.WithFields(log.Fields{
		"flag": f.Flag, "op": f.Operation, "seq": f.Seq, "ack": f.Ack, "peer": dst,
	}).Trace("missionlink: sent frame")
	return nil
}

// ReceiveFrame blocks until a frame arrives, the configured receive
// timeout elapses (ErrTimeout), or a transport error occurs.
func (e *Endpoint) ReceiveFrame() (Frame, *net.UDPAddr, error) {
	buf := make([]byte, e.bufferSize)

	if err := e.conn.SetReadDeadline(time.Now().Add(e.receiveTimeout)); err != nil {
		return Frame{}, nil, fmt.Errorf("missionlink: set read deadline: %w", err)
	}

	n, peer, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Frame{}, nil, ErrTimeout
		}
		return Frame{}, nil, fmt.Errorf("missionlink: receive frame: %w", err)
	}

	f, err := Decode(buf[:n])
	if err != nil {
		return Frame{}, peer, err
	}
	return f, peer, nil
}
