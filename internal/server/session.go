// Package server runs one Session per connection: register, relay inbound
// messages, and deregister on every exit path.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// State is a session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// CloseKind records why a session left the active state.
type CloseKind int

const (
	// CloseGraceful: the peer sent a normal close, or we closed the
	// connection ourselves.
	CloseGraceful CloseKind = iota
	// CloseError: the stream ended with a transport or protocol error.
	CloseError
	// CloseFault: an unexpected panic while receiving or processing.
	CloseFault
)

func (k CloseKind) String() string {
	switch k {
	case CloseGraceful:
		return "graceful"
	case CloseError:
		return "error"
	case CloseFault:
		return "fault"
	default:
		return fmt.Sprintf("CloseKind(%d)", int(k))
	}
}

// Session is the per-connection control flow.
type Session struct {
	hub         *Hub
	peer        Peer
	log         zerolog.Logger
	sendTimeout time.Duration
	// limiter is nil when rate limiting is disabled.
	limiter *rate.Limiter
	burst   int
	state   atomic.Int32
}

func (h *Hub) newSession(p Peer) *Session {
	cfg := h.config()
	s := &Session{
		hub:         h,
		peer:        p,
		log:         h.log.With().Str("addr", p.Addr()).Str("conn_id", p.ID()).Logger(),
		sendTimeout: cfg.SendTimeout,
		burst:       cfg.RateLimit.Burst,
	}
	if cfg.RateLimit.Burst > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)
	}
	return s
}

// State returns the session's current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Serve runs the session loop for p and blocks until the connection ends.
// p is registered for exactly the duration of the loop and is closed on
// return. The returned kind says how the stream ended.
func (h *Hub) Serve(ctx context.Context, p Peer) CloseKind {
	if !h.acquire() {
		h.log.Warn().Str("addr", p.Addr()).Err(ErrHubClosed).Msg("rejecting connection")
		_ = p.Close(websocket.CloseGoingAway, "server shutting down")
		return CloseGraceful
	}
	defer h.wg.Done()

	return h.newSession(p).run(ctx)
}

func (s *Session) run(ctx context.Context) CloseKind {
	s.setState(StateConnecting)
	if err := s.hub.register(s.peer); err != nil {
		if errors.Is(err, ErrHubClosed) {
			s.log.Warn().Err(err).Msg("rejecting connection")
			_ = s.peer.Close(websocket.CloseGoingAway, "server shutting down")
			s.setState(StateClosed)
			return CloseGraceful
		}
		s.log.Error().Err(err).Msg("registration failed")
		_ = s.peer.Close(websocket.CloseInternalServerErr, "registration failed")
		s.setState(StateClosed)
		DisconnectsTotal.WithLabelValues(CloseError.String()).Inc()
		return CloseError
	}
	defer s.finish()

	s.setState(StateActive)
	kind, err := s.active(ctx)

	s.setState(StateClosing)
	s.logClose(kind, err)
	DisconnectsTotal.WithLabelValues(kind.String()).Inc()
	return kind
}

// active is the body of the Active state. Panics are converted into a
// CloseFault outcome so cleanup always follows.
func (s *Session) active(ctx context.Context) (kind CloseKind, err error) {
	defer func() {
		if r := recover(); r != nil {
			kind = CloseFault
			err = &faultError{value: r, stack: debug.Stack()}
		}
	}()

	if err := s.send(ctx, welcomeMessage); err != nil {
		return classifyClose(err), err
	}

	for {
		message, err := s.peer.Receive()
		if err != nil {
			return classifyClose(err), err
		}
		s.handle(ctx, message)
	}
}

func (s *Session) handle(ctx context.Context, message string) {
	MessagesReceivedTotal.Inc()
	s.log.Info().Str("content", message).Msg("received message")

	if s.limiter != nil && !s.limiter.Allow() {
		MessagesRateLimitedTotal.Inc()
		s.log.Warn().Int("burst", s.burst).Msg("rate limit exceeded; discarding message")
		return
	}

	if err := s.send(ctx, ackMessage(message)); err != nil {
		s.log.Warn().Err(err).Msg("error sending acknowledgment")
	}

	s.hub.Broadcast(ctx, message, s.peer)
}

// send delivers a direct reply to this session's peer, bounded by the send
// timeout like every broadcast delivery.
func (s *Session) send(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	return s.peer.Send(ctx, text)
}

// finish is the Closing -> Closed transition. It runs on every exit path.
func (s *Session) finish() {
	s.setState(StateClosing)
	if _, err := s.hub.registry.Unregister(s.peer); err != nil {
		s.log.Error().Err(err).Msg("deregistration failed")
	}
	if err := s.peer.Close(websocket.CloseNormalClosure, ""); err != nil {
		s.log.Debug().Err(err).Msg("error closing connection")
	}
	s.setState(StateClosed)
}

func (s *Session) logClose(kind CloseKind, err error) {
	switch kind {
	case CloseGraceful:
		s.log.Info().AnErr("reason", err).Msg("client closed connection gracefully")
	case CloseError:
		s.log.Error().Err(err).Msg("client connection closed with error")
	case CloseFault:
		ev := s.log.Error().Err(err)
		var fe *faultError
		if errors.As(err, &fe) {
			ev = ev.Str("stack", string(fe.stack))
		}
		ev.Msg("unexpected error while serving client")
	}
}

// classifyClose maps the error that ended a stream onto a CloseKind.
func classifyClose(err error) CloseKind {
	switch {
	case err == nil:
		return CloseGraceful
	case errors.Is(err, ErrConnClosed):
		return CloseGraceful
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return CloseGraceful
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return CloseGraceful
	case isExpectedCloseError(err):
		return CloseGraceful
	default:
		return CloseError
	}
}

// faultError carries a recovered panic value and the stack at recovery.
type faultError struct {
	value any
	stack []byte
}

func (e *faultError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
