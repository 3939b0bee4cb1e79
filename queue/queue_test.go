package queue

import (
	"testing"
	"time"

	"github.com/kstuartsmith/MPI/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundFIFO(t *testing.T) {
	o := NewOutbound()
	o.Push(message.New(0, 1, 1, message.Payload{}))
	o.Push(message.New(0, 1, 2, message.Payload{}))

	m1, ok := o.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(1), m1.Tag)

	m2, ok := o.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(2), m2.Tag)
}

func TestOutboundPopBlocksUntilPush(t *testing.T) {
	o := NewOutbound()
	done := make(chan message.Message, 1)
	go func() {
		m, _ := o.Pop()
		done <- m
	}()

	time.Sleep(20 * time.Millisecond)
	o.Push(message.New(0, 1, 9, message.Payload{}))

	select {
	case m := <-done:
		assert.Equal(t, int64(9), m.Tag)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Push")
	}
}

func TestOutboundCloseWakesConsumer(t *testing.T) {
	o := NewOutbound()
	done := make(chan bool, 1)
	go func() {
		_, ok := o.Pop()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	o.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Close")
	}
}

func TestInboxDequeueBySourcePreservesOtherOrder(t *testing.T) {
	ib := NewInbox()
	ib.Append(message.New(1, 9, 1, message.Payload{}))
	ib.Append(message.New(2, 9, 2, message.Payload{}))
	ib.Append(message.New(1, 9, 3, message.Payload{}))

	m := ib.DequeueSource(1)
	assert.Equal(t, int64(1), m.Tag)

	rest := ib.DequeueAny()
	assert.Equal(t, int64(2), rest.Tag)

	m2 := ib.DequeueSource(1)
	assert.Equal(t, int64(3), m2.Tag)
}

func TestInboxDequeueSourceBlocksForMatch(t *testing.T) {
	ib := NewInbox()
	done := make(chan message.Message, 1)
	go func() {
		done <- ib.DequeueSource(5)
	}()

	time.Sleep(10 * time.Millisecond)
	ib.Append(message.New(4, 9, 100, message.Payload{}))
	time.Sleep(10 * time.Millisecond)
	ib.Append(message.New(5, 9, 200, message.Payload{}))

	select {
	case m := <-done:
		assert.Equal(t, int64(200), m.Tag)
	case <-time.After(time.Second):
		t.Fatal("DequeueSource did not unblock on matching append")
	}

	remaining := ib.DequeueAny()
	assert.Equal(t, int64(100), remaining.Tag)
}
