package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayBetweenTwoClients(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	url := startTestServer(t, hub)

	a := dialClient(t, url)
	b := dialClient(t, url)
	waitFor(t, func() bool { return hub.ClientCount() == 2 }, "both clients registered")

	sendText(t, a, "hi")

	from := "[" + a.LocalAddr().String() + "]: hi"
	assert.Equal(t, "Server received: hi", readText(t, a))
	assert.Equal(t, from, readText(t, a))
	assert.Equal(t, from, readText(t, b))

	expectNoMessage(t, b, 150*time.Millisecond)
}

func TestRelayExcludeSender(t *testing.T) {
	hub, _ := newTestHub(t, func(c *Config) { c.ExcludeSender = true })
	url := startTestServer(t, hub)

	a := dialClient(t, url)
	b := dialClient(t, url)

	sendText(t, a, "just you")

	assert.Equal(t, "Server received: just you", readText(t, a))
	assert.Equal(t, "["+a.LocalAddr().String()+"]: just you", readText(t, b))
	expectNoMessage(t, a, 150*time.Millisecond)
}

func TestRelayOperatorFeed(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	url := startTestServer(t, hub)

	a := dialClient(t, url)
	b := dialClient(t, url)

	feed := NewOperatorFeed(hub, strings.NewReader("hello\n"), zerolog.Nop())
	require.NoError(t, feed.Run(context.Background()))

	assert.Equal(t, ": hello", readText(t, a))
	assert.Equal(t, ": hello", readText(t, b))
	assert.Equal(t, 2, hub.ClientCount())
}

func TestRelayClientDisconnect(t *testing.T) {
	hub, logs := newTestHub(t, nil)
	url := startTestServer(t, hub)

	a := dialClient(t, url)
	b := dialClient(t, url)

	require.NoError(t, closeWebSocket(a))
	waitFor(t, func() bool { return hub.ClientCount() == 1 }, "closed client should be unregistered")
	assert.Contains(t, logs.String(), "client closed connection gracefully")

	sendText(t, b, "anyone?")
	assert.Equal(t, "Server received: anyone?", readText(t, b))
	assert.Equal(t, "["+b.LocalAddr().String()+"]: anyone?", readText(t, b))
}

func TestRelayAbruptDisconnect(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	url := startTestServer(t, hub)

	a := dialClient(t, url)
	b := dialClient(t, url)

	// Drop the TCP connection without a close frame.
	require.NoError(t, a.NetConn().Close())
	waitFor(t, func() bool { return hub.ClientCount() == 1 }, "dropped client should be unregistered")

	hub.Broadcast(context.Background(), "still here", nil)
	assert.Equal(t, ": still here", readText(t, b))
}

func TestRelayOversizedMessage(t *testing.T) {
	hub, logs := newTestHub(t, func(c *Config) { c.MaxMessageSize = 64 })
	url := startTestServer(t, hub)

	a := dialClient(t, url)
	sendText(t, a, strings.Repeat("x", 256))

	waitFor(t, func() bool { return hub.ClientCount() == 0 }, "oversized sender should be dropped")
	assert.Contains(t, logs.String(), "client connection closed with error")

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "got %v", err)
}

func TestRelayRejectsDisallowedOrigin(t *testing.T) {
	hub, _ := newTestHub(t, func(c *Config) { c.AllowedOrigins = []string{"https://chat.example"} })
	url := startTestServer(t, hub)

	conn, resp, err := connectWebSocket(url, "https://evil.example")
	require.Error(t, err)
	assert.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ok, _, err := connectWebSocket(url, "https://chat.example")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ok.Close() })
	assert.Equal(t, welcomeMessage, readText(t, ok))
}

func TestRelayShutdownClosesClients(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	url := startTestServer(t, hub)

	clients := []*websocket.Conn{dialClient(t, url), dialClient(t, url), dialClient(t, url)}
	waitFor(t, func() bool { return hub.ClientCount() == 3 }, "clients registered")

	require.NoError(t, hub.Shutdown(2*time.Second))
	assert.Equal(t, 0, hub.ClientCount())

	for _, c := range clients {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := c.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	}

	// New connections are turned away once the hub is closed.
	late, _, err := connectWebSocket(url, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = late.Close() })
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestRelayConcurrentSenders(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	url := startTestServer(t, hub)

	const clients = 5
	const perClient = 3

	conns := make([]*websocket.Conn, clients)
	for i := range conns {
		conns[i] = dialClient(t, url)
	}
	waitFor(t, func() bool { return hub.ClientCount() == clients }, "clients registered")

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *websocket.Conn) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				if err := c.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("c%d-m%d", i, j))); err != nil {
					t.Errorf("client %d write: %v", i, err)
					return
				}
			}
		}(i, c)
	}
	wg.Wait()

	// Each client sees its own acknowledgments plus every broadcast.
	want := perClient + clients*perClient
	for i, c := range conns {
		acks, broadcasts := 0, 0
		for n := 0; n < want; n++ {
			msg := readText(t, c)
			switch {
			case strings.HasPrefix(msg, ackPrefix):
				acks++
			case strings.HasPrefix(msg, "["):
				broadcasts++
			default:
				t.Fatalf("client %d: unexpected message %q", i, msg)
			}
		}
		assert.Equal(t, perClient, acks, "client %d acks", i)
		assert.Equal(t, clients*perClient, broadcasts, "client %d broadcasts", i)
	}
}
