// Package identity maps rover identities to the network address the
// mother-ship last observed them at.
package identity

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Registry is a single-writer, many-reader map from rover id to the
// peer address a MissionLink open handshake last registered for it.
// The dispatcher is the sole writer; HTTP handlers and task senders
// read concurrently.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*net.UDPAddr
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*net.UDPAddr)}
}

// Register records addr as the current peer address for roverID,
// overwriting any previous entry.
func (r *Registry) Register(roverID string, addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.peers[roverID]; !known {
		log.WithFields(log.Fields{"rover": roverID, "addr": addr}).Info("identity: rover registered")
	}
	r.peers[roverID] = addr
}

// Lookup returns the last known peer address for roverID.
func (r *Registry) Lookup(roverID string) (*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.peers[roverID]
	return addr, ok
}

// Rovers returns the ids of every rover currently known to the
// registry, in no particular order.
func (r *Registry) Rovers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	return ids
}

// Forget removes roverID from the registry, e.g. after its connection
// closes without a subsequent re-registration.
func (r *Registry) Forget(roverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, roverID)
}
