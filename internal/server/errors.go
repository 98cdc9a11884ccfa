// Package server defines the sentinel errors shared by the registry, the
// connection handle, and the hub.
package server

import "errors"

// Registry errors
var (
	// ErrNilPeer is returned when a nil connection handle is registered.
	ErrNilPeer = errors.New("nil peer")

	// ErrAlreadyRegistered is returned when a handle is registered twice.
	ErrAlreadyRegistered = errors.New("peer already registered")

	// ErrNotRegistered is returned when a handle that is not live is
	// unregistered. It indicates a double deregistration.
	ErrNotRegistered = errors.New("peer not registered")
)

// Connection errors
var (
	// ErrConnClosed is returned by Send once the connection has been closed.
	ErrConnClosed = errors.New("connection closed")

	// ErrHubClosed is returned when a connection tries to register after
	// Shutdown began.
	ErrHubClosed = errors.New("hub is shutting down")
)
