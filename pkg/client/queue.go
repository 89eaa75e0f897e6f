package client

import (
	"sync"

	"github.com/roach88/fwrpc/pkg/packet"
)

// eventQueue is an unbounded FIFO of inbound EVENT frames.
//
// The dispatcher enqueues and never blocks on slow handlers; one worker
// drains the queue in arrival order.
type eventQueue struct {
	mu     sync.Mutex
	events []packet.Packet
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]packet.Packet, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds p to the back of the queue. Returns false once closed.
func (q *eventQueue) Enqueue(p packet.Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, p)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return packet.Packet{}, false
	}
	p := q.events[0]
	q.events[0] = packet.Packet{} // release the payload
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return p, true
}

// Wait signals when events may be available. The channel is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes the worker.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
