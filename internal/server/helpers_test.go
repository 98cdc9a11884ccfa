package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// inbound is one scripted result of fakePeer.Receive.
type inbound struct {
	msg   string
	err   error
	panic any
}

var fakePeerSeq atomic.Int64

// fakePeer is an in-memory Peer. Receive replays the inbox; a closed inbox
// reads as a normal close frame.
type fakePeer struct {
	id   string
	addr string

	inbox chan inbound

	mu         sync.Mutex
	sent       []string
	sendErr    error
	sendDelay  time.Duration
	beforeSend func()
	closed     bool
	closeCode  int
	closeCalls int
}

func newFakePeer(addr string) *fakePeer {
	n := fakePeerSeq.Add(1)
	return &fakePeer{
		id:    fmt.Sprintf("fake-%d", n),
		addr:  addr,
		inbox: make(chan inbound, 16),
	}
}

func (p *fakePeer) ID() string   { return p.id }
func (p *fakePeer) Addr() string { return p.addr }

func (p *fakePeer) Send(ctx context.Context, text string) error {
	p.mu.Lock()
	delay, hook := p.sendDelay, p.beforeSend
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("send to %s: %w", p.addr, ErrConnClosed)
	}
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, text)
	return nil
}

func (p *fakePeer) Receive() (string, error) {
	in, ok := <-p.inbox
	if !ok {
		return "", &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	if in.panic != nil {
		panic(in.panic)
	}
	return in.msg, in.err
}

func (p *fakePeer) Close(code int, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	if !p.closed {
		p.closed = true
		p.closeCode = code
	}
	return nil
}

func (p *fakePeer) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *fakePeer) setSendErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

var errTransport = errors.New("transport exploded")

// isRegistered reports whether p appears in the registry's live set.
func isRegistered(reg *Registry, p Peer) bool {
	for _, live := range reg.Snapshot() {
		if live == p {
			return true
		}
	}
	return false
}

// newTestHub returns a hub whose logs are captured as JSON lines.
func newTestHub(t *testing.T, mutate func(*Config)) (*Hub, *syncBuffer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PingInterval = time.Second
	cfg.PongWait = 5 * time.Second
	cfg.SendTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	logs := &syncBuffer{}
	log := zerolog.New(logs).Level(zerolog.DebugLevel)
	return NewHub(*cfg, log), logs
}

// startTestServer serves the hub's routes and shuts the hub down on cleanup.
func startTestServer(t *testing.T, hub *Hub) string {
	t.Helper()
	srv := httptest.NewServer(SetupRoutes(hub))
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// connectWebSocket dials url with an optional Origin header.
func connectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// dialClient connects and consumes the welcome message, which guarantees the
// connection is registered.
func dialClient(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := connectWebSocket(url, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Equal(t, welcomeMessage, readText(t, conn))
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// expectNoMessage fails if conn receives anything within timeout.
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %q", string(data))
	}
}

// closeWebSocket sends a normal close frame before closing.
func closeWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
