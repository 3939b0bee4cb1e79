// Package node is the library linked into every worker process: a
// connection manager (reader/writer loops over one TCP socket), the
// outbound/inbound queues, the control handler for service replies, and
// the public SendMsg/Recv/RecvAs/Barrier/Terminate/Print API. The
// hypercube collective engine built on top of this API lives in
// collective.go.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/kstuartsmith/MPI/message"
	"github.com/kstuartsmith/MPI/queue"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Reserved internal tags. Application Barrier calls require tag > 0
// (§4.2); these stay negative so the two tag subspaces never collide
// (§9 design notes, resolving the open question in favor of "engine uses
// negative, application uses positive").
const (
	tagInitBarrier    int64 = -1000
	tagCollectiveDone int64 = -2000
)

// Node is one participant process's connection to the hub.
type Node struct {
	IAm int64

	conn    net.Conn
	writeMu sync.Mutex // serializes every Encode onto conn: writeLoop and Terminate's direct write both take it
	out     *queue.Outbound
	in      *queue.Inbox

	nodeCount int64 // set from the Init reply's tag, read atomically

	latchMu sync.Mutex
	latches map[int64]chan struct{}

	log zerolog.Logger

	eg *errgroup.Group
}

// Init opens the TCP connection to the hub, starts the reader/writer
// loops, performs the Init handshake, and blocks on the distinguished
// internal barrier until the hub's Barrier-release unblocks it — at which
// point the cohort is fully connected and NodeCount is valid.
func Init(ctx context.Context, host string, port int, id int64, log zerolog.Logger) (*Node, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("node: dial %s: %w", addr, err)
	}

	eg := &errgroup.Group{}
	n := &Node{
		IAm:     id,
		conn:    conn,
		out:     queue.NewOutbound(),
		in:      queue.NewInbox(),
		latches: make(map[int64]chan struct{}),
		log:     log,
		eg:      eg,
	}

	eg.Go(func() error {
		err := n.writeLoop()
		if err != nil {
			n.log.Debug().Err(err).Msg("writer loop exited")
		}
		return nil
	})
	eg.Go(func() error {
		err := n.readLoop()
		if err != nil {
			n.log.Debug().Err(err).Msg("reader loop exited")
		}
		return nil
	})

	latch := n.newLatch(tagInitBarrier)
	initPayload, _ := message.NewPayload(nil)
	n.out.Push(message.New(n.IAm, message.Init, n.IAm, initPayload))
	n.out.Push(message.New(n.IAm, message.Barrier, tagInitBarrier, initPayload))

	n.log.Debug().Int64("node", n.IAm).Msg("init: waiting for cohort barrier")
	<-latch
	n.log.Debug().Int64("node", n.IAm).Int64("node_count", atomic.LoadInt64(&n.nodeCount)).Msg("init: cohort connected")
	return n, nil
}

// NodeCount returns the cohort size learned from the hub's Init reply.
// Valid only after Init returns.
func (n *Node) NodeCount() int {
	return int(atomic.LoadInt64(&n.nodeCount))
}

func (n *Node) writeLoop() error {
	enc := message.NewEncoder(n.conn)
	for {
		m, ok := n.out.Pop()
		if !ok {
			return nil
		}
		n.writeMu.Lock()
		err := enc.Encode(m)
		n.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
}

func (n *Node) readLoop() error {
	dec := message.NewDecoder(n.conn)
	for {
		m, err := dec.Decode()
		if err != nil {
			return err
		}
		if m.IsServiceReply() {
			n.handleServiceReply(m)
			continue
		}
		n.in.Append(m)
	}
}

// handleServiceReply processes an Init reply (sets NodeCount, releases the
// init latch via the Barrier-release path below) or a Barrier release
// (fires the latch for that tag).
func (n *Node) handleServiceReply(m message.Message) {
	switch m.Source {
	case message.Init:
		atomic.StoreInt64(&n.nodeCount, m.Tag)
	case message.Barrier:
		n.releaseLatch(m.Tag)
	}
}

// newLatch creates a single-shot latch keyed by tag and returns the
// channel that closes on release.
func (n *Node) newLatch(tag int64) <-chan struct{} {
	n.latchMu.Lock()
	defer n.latchMu.Unlock()
	ch := make(chan struct{})
	n.latches[tag] = ch
	return ch
}

func (n *Node) releaseLatch(tag int64) {
	n.latchMu.Lock()
	ch, ok := n.latches[tag]
	if ok {
		delete(n.latches, tag)
	}
	n.latchMu.Unlock()
	if ok {
		close(ch)
	}
}

// SendMsg constructs a Message with Source = n.IAm and enqueues it for
// transmission. It returns immediately; delivery order per (sender,
// receiver) pair is preserved by the hub (§5).
func (n *Node) SendMsg(sink int64, payload any, tag int64) error {
	p, err := message.NewPayload(payload)
	if err != nil {
		return err
	}
	n.out.Push(message.New(n.IAm, sink, tag, p))
	return nil
}

// Recv blocks until a message from source arrives (any source if source <
// 0) and returns it whole.
func (n *Node) Recv(source int64) message.Message {
	if source < 0 {
		return n.in.DequeueAny()
	}
	return n.in.DequeueSource(source)
}

// RecvAs blocks for a message (optionally from a specific source) and
// decodes its payload into T.
func RecvAs[T any](n *Node, source int64) (T, error) {
	var zero T
	m := n.Recv(source)
	var v T
	if err := m.Payload.Decode(&v); err != nil {
		return zero, err
	}
	return v, nil
}

// Barrier blocks every node posting the same tag until all of them have
// arrived. tag must be > 0 (§4.2); negative tags are reserved for the
// engine.
func (n *Node) Barrier(tag int64) error {
	if tag <= 0 {
		return fmt.Errorf("%w: got %d", ErrReservedTag, tag)
	}
	n.postBarrier(tag)
	return nil
}

// postBarrier is the low-level primitive shared by the public Barrier and
// the engine's internal completion barriers, which use reserved negative
// tags that the public API rejects.
func (n *Node) postBarrier(tag int64) {
	latch := n.newLatch(tag)
	payload, _ := message.NewPayload(nil)
	n.out.Push(message.New(n.IAm, message.Barrier, tag, payload))
	<-latch
}

// Terminate sends a Terminate service call and closes the socket. The call
// is written directly rather than through the outbound queue, since Close
// discards whatever is still queued (§4.1) and the Terminate notice itself
// must not be a casualty of that; the write is serialized against writeLoop
// through writeMu so the two can never interleave bytes on the same conn.
func (n *Node) Terminate(cause string) error {
	payload, err := message.NewPayload(cause)
	if err != nil {
		return err
	}
	enc := message.NewEncoder(n.conn)
	n.writeMu.Lock()
	encErr := enc.Encode(message.New(n.IAm, message.Terminate, n.IAm, payload))
	n.writeMu.Unlock()

	n.out.Close()
	closeErr := n.conn.Close()
	_ = n.eg.Wait()

	if encErr != nil {
		return encErr
	}
	return closeErr
}

// Print sends a Print service call carrying obj's text form.
func (n *Node) Print(obj any) error {
	payload, err := message.NewPayload(obj)
	if err != nil {
		return err
	}
	n.out.Push(message.New(n.IAm, message.Print, 0, payload))
	return nil
}

// BroadcastRaw invokes the hub's mediated Broadcast service call (§3, §4.1):
// the hub fans payload out to every registered worker, excluding the
// originator when excludeSelf is true. This is the hub-side primitive;
// Broadcast (in collective.go) is the point-to-point hypercube collective
// and does not use it.
func (n *Node) BroadcastRaw(payload any, excludeSelf bool) error {
	p, err := message.NewPayload(payload)
	if err != nil {
		return err
	}
	tag := int64(0)
	if excludeSelf {
		tag = 1
	}
	n.out.Push(message.New(n.IAm, message.Broadcast, tag, p))
	return nil
}
