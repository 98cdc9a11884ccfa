// Package server tracks live connections in a Registry that is safe for
// concurrent registration, deregistration, and snapshotting.
package server

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Registry is the authoritative set of live connection handles. A handle is
// present from the end of its registration until the end of its
// deregistration, and never more than once.
type Registry struct {
	mu    sync.RWMutex
	peers map[Peer]uint64
	seq   uint64
	log   zerolog.Logger
}

// NewRegistry creates an empty Registry that logs connect and disconnect
// events to log.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		peers: make(map[Peer]uint64),
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// Register adds p to the live set and returns the new total.
func (r *Registry) Register(p Peer) (int, error) {
	if p == nil {
		return 0, ErrNilPeer
	}

	r.mu.Lock()
	if _, exists := r.peers[p]; exists {
		r.mu.Unlock()
		return 0, fmt.Errorf("register %s: %w", p.Addr(), ErrAlreadyRegistered)
	}
	r.seq++
	r.peers[p] = r.seq
	total := len(r.peers)
	r.mu.Unlock()

	ConnectionsTotal.Inc()
	ConnectionsCurrent.Set(float64(total))
	r.log.Info().Str("addr", p.Addr()).Str("conn_id", p.ID()).Int("total", total).Msg("client connected")
	return total, nil
}

// Unregister removes p from the live set and returns the new total. Removing
// a handle that is not live returns ErrNotRegistered and leaves the set as is.
func (r *Registry) Unregister(p Peer) (int, error) {
	if p == nil {
		return 0, ErrNilPeer
	}

	r.mu.Lock()
	if _, exists := r.peers[p]; !exists {
		total := len(r.peers)
		r.mu.Unlock()
		return total, fmt.Errorf("unregister %s: %w", p.Addr(), ErrNotRegistered)
	}
	delete(r.peers, p)
	total := len(r.peers)
	r.mu.Unlock()

	ConnectionsCurrent.Set(float64(total))
	r.log.Info().Str("addr", p.Addr()).Str("conn_id", p.ID()).Int("total", total).Msg("client disconnected")
	return total, nil
}

// Snapshot returns the live handles in registration order. The slice is a
// copy: later registrations and removals do not affect it.
func (r *Registry) Snapshot() []Peer {
	type entry struct {
		peer Peer
		seq  uint64
	}

	r.mu.RLock()
	entries := make([]entry, 0, len(r.peers))
	for p, seq := range r.peers {
		entries = append(entries, entry{peer: p, seq: seq})
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	peers := make([]Peer, len(entries))
	for i, e := range entries {
		peers[i] = e.peer
	}
	return peers
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
