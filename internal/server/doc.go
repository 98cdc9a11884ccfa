// Package server implements the relay: a registry of live WebSocket
// connections, a concurrent broadcast engine, the per-connection session
// loop, and the operator feed for server-authored messages.
//
// The implementation is organized into specialized files for configuration,
// the registry, broadcasting, sessions, routing, and HTTP handlers.
package server
