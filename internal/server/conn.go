// Package server wraps gorilla WebSocket connections in the Peer handle used
// by the registry, the broadcast engine, and the session loop.
package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const closeGracePeriod = time.Second

// Peer is one connected participant. Send may be called from many
// goroutines at once; Receive is driven by exactly one session.
type Peer interface {
	// ID is a unique correlation identifier for logs.
	ID() string
	// Addr is the participant's stable identity, its remote address.
	Addr() string
	// Send delivers one text message, honoring ctx's deadline.
	Send(ctx context.Context, text string) error
	// Receive blocks for the next inbound message. A non-nil error means
	// the stream has ended.
	Receive() (string, error)
	// Close sends a close frame with code and reason and releases the
	// connection. It is safe to call more than once.
	Close(code int, reason string) error
}

// Conn is the Peer implementation backed by a gorilla WebSocket connection.
type Conn struct {
	ws   *websocket.Conn
	id   string
	addr string

	// writeSem admits one writer at a time; waiting on it honors ctx.
	writeSem  chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewConn wraps ws. addr is the identity shown to other participants.
func NewConn(ws *websocket.Conn, addr string) *Conn {
	if addr == "" && ws != nil {
		addr = ws.RemoteAddr().String()
	}
	return &Conn{
		ws:       ws,
		id:       uuid.NewString(),
		addr:     addr,
		writeSem: make(chan struct{}, 1),
	}
}

// ID returns the connection's correlation identifier.
func (c *Conn) ID() string { return c.id }

// Addr returns the remote address of the connection.
func (c *Conn) Addr() string { return c.addr }

// Send writes text as a single text frame. Writes are serialized because the
// underlying connection supports only one concurrent writer; ctx bounds both
// the wait for a stalled writer and the write itself.
func (c *Conn) Send(ctx context.Context, text string) error {
	if c.closed.Load() {
		return fmt.Errorf("send to %s: %w", c.addr, ErrConnClosed)
	}

	select {
	case c.writeSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("send to %s: waiting for writer: %w", c.addr, ctx.Err())
	}
	defer func() { <-c.writeSem }()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send to %s: %w", c.addr, err)
	}

	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("send to %s: set write deadline: %w", c.addr, err)
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		if c.closed.Load() || isExpectedCloseError(err) {
			return fmt.Errorf("send to %s: %w: %v", c.addr, ErrConnClosed, err)
		}
		return fmt.Errorf("send to %s: %w", c.addr, err)
	}
	return nil
}

// Receive returns the payload of the next data frame.
func (c *Conn) Receive() (string, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close sends a close frame and closes the network connection once.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(code, reason)
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); werr != nil && !isExpectedCloseError(werr) {
			err = werr
		}
		if cerr := c.ws.Close(); cerr != nil && !isExpectedCloseError(cerr) && err == nil {
			err = cerr
		}
	})
	return err
}

// KeepAlive arms the read deadline, extends it on every pong, and pings the
// peer every interval. The returned function stops the ping loop.
func (c *Conn) KeepAlive(interval, pongWait time.Duration, log zerolog.Logger) func() {
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error setting initial read deadline")
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if c.closed.Load() {
					return
				}
				// WriteControl may run concurrently with Send.
				if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGracePeriod)); err != nil {
					if !isExpectedCloseError(err) {
						log.Debug().Err(err).Str("addr", c.addr).Msg("error writing ping")
					}
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
