package hub

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kstuartsmith/MPI/message"
	"github.com/kstuartsmith/MPI/queue"
	"github.com/rs/zerolog"
)

// worker owns one TCP connection and runs the reader and writer loops
// described in §4.1. The only mutable state it shares outside itself is
// its own outbound queue.
type worker struct {
	conn    net.Conn
	out     *queue.Outbound
	connID  string // correlation id for debug logs, not protocol state
	id      int64
	hasID   int32 // atomic bool; registry entry is created lazily on Init
}

func newWorker(conn net.Conn) *worker {
	return &worker{
		conn:   conn,
		out:    queue.NewOutbound(),
		connID: uuid.NewString(),
	}
}

func (w *worker) setID(id int64) {
	w.id = id
	atomic.StoreInt32(&w.hasID, 1)
}

func (w *worker) registered() bool {
	return atomic.LoadInt32(&w.hasID) == 1
}

// readLoop decodes framed messages until EOF or a transport error, handing
// each to handle. It returns the terminal error (io.EOF on clean close).
func (w *worker) readLoop(handle func(message.Message)) error {
	dec := message.NewDecoder(w.conn)
	for {
		m, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		handle(m)
	}
}

// writeLoop dequeues and encodes messages until the outbound queue is
// closed.
func (w *worker) writeLoop() error {
	enc := message.NewEncoder(w.conn)
	for {
		m, ok := w.out.Pop()
		if !ok {
			return nil
		}
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
}

func (w *worker) send(m message.Message) {
	w.out.Push(m)
}

func (w *worker) close() {
	w.out.Close()
	_ = w.conn.Close()
}

// logCtx returns the fields every log line for this worker should carry.
func (w *worker) logCtx(ev *zerolog.Event) *zerolog.Event {
	ev = ev.Str("conn", w.connID)
	if w.registered() {
		ev = ev.Int64("node", w.id)
	}
	return ev
}
