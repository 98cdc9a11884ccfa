// Package server defines the relay's protocol strings and small helpers that
// are reused across session and broadcast logic.
package server

import "strings"

const (
	welcomeMessage = "Server: Welcome! You are now connected."
	ackPrefix      = "Server received: "
)

// FormatMessage renders message the way recipients see it. Messages from a
// client carry the sender's address; operator messages have an empty prefix.
func FormatMessage(message string, origin Peer) string {
	if origin == nil {
		return ": " + message
	}
	return "[" + origin.Addr() + "]: " + message
}

// ackMessage is the direct reply sent only to the sender of message.
func ackMessage(message string) string {
	return ackPrefix + message
}

// source names the originator of a broadcast for logs and metrics.
func source(origin Peer) string {
	if origin == nil {
		return "operator"
	}
	return "client"
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
