// Package hub implements the coordinator process: a listener that accepts
// a fixed-size cohort of node connections, a per-client worker pair of
// reader/writer loops, a registry mapping node id to worker, a barrier
// table, and the control dispatcher for the out-of-band service calls
// (Init, Terminate, Barrier, Print, Broadcast).
package hub

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/kstuartsmith/MPI/message"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Hub is the coordinator for one cohort of N nodes.
type Hub struct {
	n        int
	registry *registry
	barriers *barrierTable
	log      zerolog.Logger
	stdout   io.Writer // Print service call target; os.Stdout in production
}

// New returns a Hub configured for an expected cohort of n nodes.
func New(n int, log zerolog.Logger) *Hub {
	return &Hub{
		n:        n,
		registry: newRegistry(),
		barriers: newBarrierTable(),
		log:      log,
		stdout:   os.Stdout,
	}
}

// Serve accepts connections on ln until ctx is cancelled or ln closes,
// spawning one worker per connection. It returns only on shutdown or a
// listener error.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("hub: accept: %w", err)
			}
			w := newWorker(conn)
			w.logCtx(h.log.Debug()).Str("remote", conn.RemoteAddr().String()).Msg("accepted connection")
			go h.serveWorker(w)
		}
	})

	return g.Wait()
}

// serveWorker runs one worker's reader and writer loops to completion and
// tears down its registry entry on exit (§4.1: "any per-client worker I/O
// error is fatal to that worker only").
func (h *Hub) serveWorker(w *worker) {
	errc := make(chan error, 2)
	go func() { errc <- w.readLoop(func(m message.Message) { h.route(w, m) }) }()
	go func() { errc <- w.writeLoop() }()

	<-errc
	w.close()
	if w.registered() {
		h.registry.remove(w.id)
		w.logCtx(h.log.Debug()).Msg("registry entry removed")
	}
}

// route dispatches an inbound message: service calls go to the control
// dispatcher, everything else is a point-to-point send resolved through
// the registry. A lookup miss is a silent drop (§4.1, §7).
func (h *Hub) route(w *worker, m message.Message) {
	if m.IsServiceCall() {
		h.dispatch(w, m)
		return
	}
	if target, ok := h.registry.lookup(m.Sink); ok {
		target.send(m)
	}
}
