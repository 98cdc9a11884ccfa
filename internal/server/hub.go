// Package server coordinates connection registration, message broadcast, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub owns the live-connection Registry and drives every session and
// broadcast. Runtime tunables can be swapped with Apply while it runs.
type Hub struct {
	registry *Registry
	log      zerolog.Logger

	mu      sync.RWMutex
	cfg     Config
	origins originPolicy
	closed  bool

	wg        sync.WaitGroup
	startedAt time.Time
}

// NewHub creates a Hub with its own empty Registry.
func NewHub(cfg Config, log zerolog.Logger) *Hub {
	sanitizeConfig(&cfg)
	log = log.With().Str("component", "hub").Logger()
	return &Hub{
		registry:  NewRegistry(log),
		log:       log,
		cfg:       cfg,
		origins:   newOriginPolicy(cfg.AllowedOrigins, log),
		startedAt: time.Now(),
	}
}

// Registry returns the hub's live-connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// Uptime reports how long the hub has existed.
func (h *Hub) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

// Apply swaps the runtime tunables. Broadcast settings take effect on the
// next broadcast; rate limits and read limits apply to new connections.
func (h *Hub) Apply(cfg Config) {
	sanitizeConfig(&cfg)
	origins := newOriginPolicy(cfg.AllowedOrigins, h.log)

	h.mu.Lock()
	h.cfg = cfg
	h.origins = origins
	h.mu.Unlock()

	h.log.Info().Str("config", cfg.String()).Msg("hub configuration applied")
}

func (h *Hub) config() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	h.mu.RLock()
	policy := h.origins
	h.mu.RUnlock()

	if policy.allows(r) {
		return true
	}

	h.log.Warn().Str("origin", r.Header.Get("Origin")).Str("addr", r.RemoteAddr).Msg("blocked WebSocket connection from disallowed origin")
	return false
}

// acquire reserves a session slot. It fails once Shutdown has begun so the
// wait group is never added to while Shutdown waits on it.
func (h *Hub) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

// register adds p to the registry unless Shutdown has begun. Holding the read
// lock keeps Shutdown from taking its snapshot while a registration is in
// flight, so every registered peer is either in that snapshot or refused.
func (h *Hub) register(p Peer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return fmt.Errorf("register %s: %w", p.Addr(), ErrHubClosed)
	}
	_, err := h.registry.Register(p)
	return err
}

// Shutdown stops accepting sessions, closes every live connection with a
// going-away frame, and waits for the sessions to finish deregistering.
// It returns context.DeadlineExceeded if they do not finish within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.mu.Lock()
	h.closed = true
	peers := h.registry.Snapshot()
	h.mu.Unlock()
	for _, p := range peers {
		if err := p.Close(websocket.CloseGoingAway, "server shutting down"); err != nil {
			h.log.Warn().Err(err).Str("addr", p.Addr()).Msg("error closing client connection")
		}
	}
	h.log.Info().Int("count", len(peers)).Msg("closed client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Dur("timeout", timeout).Int("remaining", h.registry.Len()).Msg("hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
