package hub

import (
	"fmt"

	"github.com/kstuartsmith/MPI/message"
)

// dispatch handles one out-of-band service call (§4.1).
func (h *Hub) dispatch(w *worker, m message.Message) {
	switch m.Sink {
	case message.Init:
		h.handleInit(w, m)
	case message.Terminate:
		h.handleTerminate(w, m)
	case message.Barrier:
		h.handleBarrier(w, m)
	case message.Print:
		h.handlePrint(w, m)
	case message.Broadcast:
		h.handleBroadcast(w, m)
	}
}

// handleInit records the sender's node id (carried in the tag) on the
// worker's registry entry, then immediately replies with the cohort size
// so the node can unblock its own Init.
func (h *Hub) handleInit(w *worker, m message.Message) {
	id := m.Tag
	w.setID(id)
	h.registry.insert(id, w)
	w.logCtx(h.log.Debug()).Msg("registry entry created")

	payload, _ := message.NewPayload(nil)
	reply := message.New(message.Init, id, int64(h.n), payload)
	w.send(reply)
}

// handleTerminate is a no-op beyond acknowledging receipt; the reader loop
// observes EOF shortly after the node closes its socket.
func (h *Hub) handleTerminate(w *worker, m message.Message) {
	w.logCtx(h.log.Debug()).Msg("terminate received")
}

// handleBarrier decrements the counter for tag and, the instant it reaches
// zero, fans out a release to every currently registered worker.
func (h *Hub) handleBarrier(w *worker, m message.Message) {
	tag := m.Tag
	if h.barriers.arrive(tag, h.n) {
		payload, _ := message.NewPayload(nil)
		for _, target := range h.registry.snapshot() {
			release := message.New(message.Barrier, target.id, tag, payload)
			target.send(release)
		}
		h.log.Debug().Int64("tag", tag).Msg("barrier released")
	}
}

// handlePrint writes "[<source>]: <payload-as-text>" to the hub's stdout.
// This is a service, not a diagnostic, so it bypasses the structured
// logger entirely.
func (h *Hub) handlePrint(w *worker, m message.Message) {
	fmt.Fprintf(h.stdout, "[%d]: %s\n", m.Source, m.Payload.Text())
}

// handleBroadcast fans a copy of the payload out to every registered
// worker. A nonzero tag means "exclude originator".
func (h *Hub) handleBroadcast(w *worker, m message.Message) {
	excludeOriginator := m.Tag != 0
	for _, target := range h.registry.snapshot() {
		if excludeOriginator && target.id == m.Source {
			continue
		}
		cpy := message.New(m.Source, target.id, m.Tag, m.Payload)
		target.send(cpy)
	}
}
