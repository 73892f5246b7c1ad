package missionlink

import (
	"net"
	"testing"
	"time"
)

func newLoopbackPair(t *testing.T) (client, server *Endpoint) {
	t.Helper()

	client, err := NewEphemeralEndpoint(DefaultBufferSize, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("new client endpoint: %v", err)
	}
	server, err = NewEphemeralEndpoint(DefaultBufferSize, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("new server endpoint: %v", err)
	}
	return client, server
}

func udpAddr(t *testing.T, ep *Endpoint) *net.UDPAddr {
	t.Helper()
	addr, ok := ep.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("endpoint local addr is not *net.UDPAddr: %T", ep.LocalAddr())
	}
	// The endpoint is bound to the wildcard address; replies arrive from
	// loopback, so address it there for the peer checks to match.
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port}
}

func TestOpenHandshakeCompletesBothSides(t *testing.T) {
	client, server := newLoopbackPair(t)
	defer client.Close()
	defer server.Close()

	serverResult := make(chan HandshakeResult, 1)
	serverErr := make(chan error, 1)
	go func() {
		hs, err := AcceptOpen(server, DefaultRetryLimit)
		serverResult <- hs
		serverErr <- err
	}()

	clientHS, err := OpenClient(client, "rvr", udpAddr(t, server), DefaultRetryLimit)
	if err != nil {
		t.Fatalf("OpenClient failed: %v", err)
	}

	if err := <-serverErr; err != nil {
		t.Fatalf("AcceptOpen failed: %v", err)
	}
	serverHS := <-serverResult

	if clientHS.Seq != initialSeq || clientHS.Ack != initialSeq {
		t.Errorf("client handshake seq/ack = %d/%d, want %d/%d", clientHS.Seq, clientHS.Ack, initialSeq, initialSeq)
	}
	if serverHS.AgentID != "rvr" {
		t.Errorf("server observed agent id = %q, want %q", serverHS.AgentID, "rvr")
	}
}

func TestCloseSenderAndCloseReceiverComplete(t *testing.T) {
	client, server := newLoopbackPair(t)
	defer client.Close()
	defer server.Close()

	clientAddr := udpAddr(t, client)
	serverAddr := udpAddr(t, server)

	receiverDone := make(chan error, 1)
	go func() {
		_, _, err := CloseReceiver(server, clientAddr, "abc", initialSeq+1, initialSeq+1, DefaultRetryLimit)
		receiverDone <- err
	}()

	if _, _, err := CloseSender(client, serverAddr, "abc", initialSeq, initialSeq, DefaultRetryLimit); err != nil {
		t.Fatalf("CloseSender failed: %v", err)
	}

	if err := <-receiverDone; err != nil {
		t.Fatalf("CloseReceiver failed: %v", err)
	}
}
