// Package server fans a message out to every live connection and gathers
// the outcome of each delivery.
package server

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/wsrelay/internal/logging"
)

// sendOutcome is the terminal result of one recipient's send.
type sendOutcome struct {
	peer Peer
	err  error
}

// Broadcast delivers message to every live connection concurrently and
// returns once every send has succeeded or failed. origin is nil for
// operator messages. A failed send is logged with the recipient's address
// and never affects delivery to the others.
func (h *Hub) Broadcast(ctx context.Context, message string, origin Peer) {
	start := time.Now()
	cfg := h.config()
	formatted := FormatMessage(message, origin)

	log := h.log.With().Str("source", source(origin)).Logger()
	if origin != nil {
		log = log.With().Str("from", origin.Addr()).Logger()
	}

	targets := h.registry.Snapshot()
	if origin != nil && cfg.ExcludeSender {
		targets = withoutPeer(targets, origin)
	}

	BroadcastsTotal.WithLabelValues(source(origin)).Inc()

	if len(targets) == 0 {
		log.Info().Msg("no target clients to broadcast to")
		return
	}

	log.Info().Int("targets", len(targets)).Str("content", formatted).Msg("broadcasting")

	outcomes := fanOut(ctx, targets, formatted, cfg.SendTimeout, cfg.BroadcastConcurrency)

	failed := 0
	for _, o := range outcomes {
		if o.err == nil {
			BroadcastSendsTotal.WithLabelValues("delivered").Inc()
			continue
		}
		failed++
		BroadcastSendsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(o.err).Str("addr", o.peer.Addr()).Str("conn_id", o.peer.ID()).Msg("error sending message to a client")
	}

	took := logging.Since(start)
	BroadcastDuration.Observe(took.Seconds())

	ev := log.Debug()
	if failed > 0 {
		ev = log.Warn()
	}
	ev.Int("targets", len(targets)).Int("failed", failed).Dur("took", took).Msg("broadcast finished")
}

// fanOut issues one send per target, at most limit at a time (0 means no
// limit), and gathers every outcome. Outcomes are indexed like targets.
func fanOut(ctx context.Context, targets []Peer, text string, timeout time.Duration, limit int) []sendOutcome {
	outcomes := make([]sendOutcome, len(targets))

	// A plain Group: one failure must not cancel the remaining sends.
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, p := range targets {
		i, p := i, p
		g.Go(func() error {
			outcomes[i] = sendOutcome{peer: p, err: sendOne(ctx, p, text, timeout)}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func sendOne(ctx context.Context, p Peer, text string, timeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send to %s panicked: %v", p.Addr(), r)
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.Send(ctx, text)
}

func withoutPeer(peers []Peer, exclude Peer) []Peer {
	out := peers[:0]
	for _, p := range peers {
		if p != exclude {
			out = append(out, p)
		}
	}
	return out
}
