// Package server reads operator input lines and relays them to every
// connected client as server-authored broadcasts.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const maxOperatorLine = 64 * 1024

// OperatorFeed turns lines from a local input into server-authored
// broadcasts that reach every connected client.
type OperatorFeed struct {
	hub *Hub
	in  io.Reader
	log zerolog.Logger
}

// NewOperatorFeed creates a feed reading lines from in.
func NewOperatorFeed(hub *Hub, in io.Reader, log zerolog.Logger) *OperatorFeed {
	return &OperatorFeed{
		hub: hub,
		in:  in,
		log: log.With().Str("component", "operator").Logger(),
	}
}

// Run broadcasts each non-empty line until the input ends, a read fails, or
// ctx is done. Reads happen on their own goroutine so a blocked read never
// holds up broadcasts; that goroutine may outlive Run while its read is
// pending. A read failure is returned; end of input and cancellation are not
// errors. Live connections are unaffected either way.
func (f *OperatorFeed) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f.in)
		scanner.Buffer(make([]byte, 0, 4096), maxOperatorLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	f.log.Info().Msg("type a message to send to clients (Ctrl+C to stop the server)")

	for {
		select {
		case <-ctx.Done():
			f.log.Debug().Msg("operator feed stopped")
			return nil
		case line, ok := <-lines:
			if !ok {
				return f.finish(readErr)
			}
			message := strings.TrimSuffix(line, "\r")
			if message == "" {
				continue
			}
			f.hub.Broadcast(ctx, message, nil)
		}
	}
}

func (f *OperatorFeed) finish(readErr <-chan error) error {
	var err error
	select {
	case err = <-readErr:
	default:
	}
	if err != nil {
		f.log.Error().Err(err).Msg("error in operator input loop")
		return fmt.Errorf("read operator input: %w", err)
	}
	f.log.Info().Msg("operator input closed")
	return nil
}
