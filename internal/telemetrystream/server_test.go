package telemetrystream

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServerReceivesAndStoresArtifact(t *testing.T) {
	root := t.TempDir()
	stored := make(chan string, 1)
	srv := NewServer(root, 64, func(path, roverID string) {
		stored <- roverID
	})

	err, _ := srv.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Close()

	addr := srv.Addr().String()

	payload := []byte(`{"rover_id":"r1","battery":0.5,"payload":"this is a telemetry body longer than one buffer chunk of sixty four bytes to exercise chunked reads"}`)
	if err := Send(addr, "telemetry_r1_1000.json", payload, time.Second); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case roverID := <-stored:
		if roverID != "r1" {
			t.Errorf("onStored roverID = %q, want %q", roverID, "r1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onStored was not called within timeout")
	}

	finalPath := filepath.Join(root, "r1", "telemetry_r1_1000.json")
	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("stored artifact = %q, want %q", got, payload)
	}
}

func TestServerRejectsZeroLengthField(t *testing.T) {
	root := t.TempDir()
	srv := NewServer(root, 64, nil)
	err, _ := srv.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Close()

	addr := srv.Addr().String()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// 0000 decodes to a length below the protocol's minimum of 1.
	if _, err := conn.Write([]byte("0000")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// The worker should close its side without storing anything; give
	// it a moment then confirm nothing was written under root.
	time.Sleep(100 * time.Millisecond)
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("root contains %d entries after invalid upload, want 0", len(entries))
	}
}
