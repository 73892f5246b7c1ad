package telemetrystream

import (
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/roverfleet/missioncontrol/internal/storage"
)

// Server accepts TelemetryStream connections and spawns one worker
// per connection, matching TelemetryStream.py's threaded accept loop.
type Server struct {
	root       string
	bufferSize int
	onStored   func(path, roverID string)

	addr    net.Addr
	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewServer returns a Server that writes received artifacts under
// root. onStored, if non-nil, is invoked after each successful upload
// is placed on disk.
func NewServer(root string, bufferSize int, onStored func(path, roverID string)) *Server {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Server{
		root:       root,
		bufferSize: bufferSize,
		onStored:   onStored,
		stopSyn:    make(chan struct{}),
		stopAck:    make(chan struct{}),
	}
}

// Start binds listenAddress and runs the accept loop in a background
// goroutine, following the teacher's `Start() (err error, retry bool)`
// convention.
func (s *Server) Start(listenAddress string) (err error, retry bool) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", listenAddress)
	if err != nil {
		return err, false
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err, true
	}
	s.addr = ln.Addr()

	go func() {
		for {
			select {
			case <-s.stopSyn:
				_ = ln.Close()
				close(s.stopAck)
				return

			default:
				if err := ln.SetDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
					log.WithError(err).Warn("telemetrystream: failed to set listener deadline")
					continue
				}
				conn, err := ln.Accept()
				if err == nil {
					go s.handleConn(conn)
				}
			}
		}
	}()

	return nil, true
}

// Addr returns the listener's bound address, valid once Start has
// returned successfully.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close stops the accept loop and waits for it to exit.
func (s *Server) Close() error {
	close(s.stopSyn)
	<-s.stopAck
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"conn": conn.RemoteAddr(), "error": r}).Warn("telemetrystream: worker panicked")
		}
	}()

	filename, data, err := s.receive(conn)
	if err != nil {
		log.WithFields(log.Fields{"conn": conn.RemoteAddr(), "error": err}).Warn("telemetrystream: upload failed")
		return
	}

	path, roverID, err := storage.Place(s.root, filename, data)
	if err != nil {
		log.WithFields(log.Fields{"filename": filename, "error": err}).Warn("telemetrystream: failed to store artifact")
		return
	}

	log.WithFields(log.Fields{"rover": roverID, "path": path}).Info("telemetrystream: artifact received")
	if s.onStored != nil {
		s.onStored(path, roverID)
	}
}

// receive reads one complete frame from conn: the length prefix, the
// filename, then the body until EOF.
func (s *Server) receive(conn net.Conn) (filename string, data []byte, err error) {
	n, err := readLength(conn)
	if err != nil {
		return "", nil, err
	}

	filename, err = readFilename(conn, n)
	if err != nil {
		return "", nil, err
	}

	buf := make([]byte, s.bufferSize)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", nil, fmt.Errorf("telemetrystream: read body: %w", readErr)
		}
	}
	return filename, data, nil
}
