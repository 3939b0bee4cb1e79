// Package queue implements the blocking FIFO queues used by the hub's
// per-client workers and the node's connection manager: a many-producer,
// one-consumer outbound queue, and an inbound buffer that additionally
// supports dequeue-by-source. Both are mutex+condition-variable based
// rather than channel-based, per the design notes' guidance for runtimes
// without a native blocking-queue primitive that also needs selective
// dequeue.
package queue

import (
	"sync"

	"github.com/kstuartsmith/MPI/message"
)

// Outbound is an unbounded, blocking, many-producers/one-consumer FIFO of
// messages awaiting transmission.
type Outbound struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []message.Message
	closed bool
}

func NewOutbound() *Outbound {
	o := &Outbound{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Push enqueues m and wakes one blocked consumer. No-op after Close.
func (o *Outbound) Push(m message.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.items = append(o.items, m)
	o.cond.Signal()
}

// Pop blocks until a message is available or the queue is closed, in which
// case ok is false. FIFO among all producers.
func (o *Outbound) Pop() (m message.Message, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.items) == 0 && !o.closed {
		o.cond.Wait()
	}
	if len(o.items) == 0 {
		return message.Message{}, false
	}
	m, o.items = o.items[0], o.items[1:]
	return m, true
}

// Close wakes any blocked consumer and discards remaining items, matching
// §4.1's "any messages remaining in the outbound queue at teardown are
// discarded."
func (o *Outbound) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.items = nil
	o.cond.Broadcast()
}

// Inbox is the node's inbound buffer: an ordered multiset supporting
// dequeue-any and dequeue-by-source, both strictly FIFO among matches.
type Inbox struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []message.Message
}

func NewInbox() *Inbox {
	ib := &Inbox{}
	ib.cond = sync.NewCond(&ib.mu)
	return ib
}

// Append adds m to the tail and wakes all waiters (a waiter may be
// filtering by source, so a simple Signal could wake the wrong one).
func (ib *Inbox) Append(m message.Message) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.items = append(ib.items, m)
	ib.cond.Broadcast()
}

// DequeueAny blocks until the buffer is non-empty, then removes and
// returns the head.
func (ib *Inbox) DequeueAny() message.Message {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	for len(ib.items) == 0 {
		ib.cond.Wait()
	}
	m := ib.items[0]
	ib.items = ib.items[1:]
	return m
}

// DequeueSource blocks until the buffer contains an entry whose Source
// equals source, then removes and returns the first such entry without
// disturbing the relative order of the rest.
func (ib *Inbox) DequeueSource(source int64) message.Message {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	for {
		if i := ib.indexOfSource(source); i >= 0 {
			m := ib.items[i]
			ib.items = append(ib.items[:i], ib.items[i+1:]...)
			return m
		}
		ib.cond.Wait()
	}
}

func (ib *Inbox) indexOfSource(source int64) int {
	for i, m := range ib.items {
		if m.Source == source {
			return i
		}
	}
	return -1
}
