// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

//go:embed testpage.html
var testPage string

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// WebSocketHandler upgrades GET requests to WebSocket and runs the session
// loop for the new connection until it ends.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	ws, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	cfg := h.config()
	ws.SetReadLimit(cfg.MaxMessageSize)

	conn := NewConn(ws, r.RemoteAddr)
	stop := conn.KeepAlive(cfg.PingInterval, cfg.PongWait, h.log)
	defer stop()

	h.Serve(r.Context(), conn)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (h *Hub) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "wsrelay is running! Connected clients: %d", h.ClientCount())
}

// statusResponse is the body served by StatusHandler.
type statusResponse struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusHandler reports hub status as JSON.
func (h *Hub) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := statusResponse{
		Status:        "ok",
		Clients:       h.ClientCount(),
		UptimeSeconds: int64(h.Uptime().Seconds()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn().Err(err).Msg("error writing status response")
	}
}

// TestPageHandler serves an HTML page for trying the relay from a browser.
func (h *Hub) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		h.log.Warn().Err(err).Msg("error writing HTML response")
	}
}
