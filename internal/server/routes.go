// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns an HTTP ServeMux with all relay routes.
func SetupRoutes(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.HealthHandler)
	mux.HandleFunc("/healthz", h.StatusHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	mux.HandleFunc("/test", h.TestPageHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
