package client

import (
	"math"
	"time"
)

// DefaultCancelRetention is how long a cancelled request ID stays out of
// circulation while a late reply may still arrive.
const DefaultCancelRetention = 30 * time.Second

// idAllocator hands out request IDs 1..0xffff in order, wrapping back to 1.
// ID 0 is never issued; EVENT frames use it.
//
// Only the dispatcher goroutine touches an allocator.
type idAllocator struct {
	next      uint16
	retention time.Duration
	cancelled map[uint16]time.Time
}

func newIDAllocator(retention time.Duration) *idAllocator {
	return &idAllocator{next: 1, retention: retention, cancelled: make(map[uint16]time.Time)}
}

// allocate returns the next ID that is not busy and not held by a recent
// cancellation.
func (a *idAllocator) allocate(busy func(uint16) bool, now time.Time) (uint16, bool) {
	for range math.MaxUint16 {
		id := a.next
		a.next++
		if a.next == 0 {
			a.next = 1
		}
		if busy(id) {
			continue
		}
		if at, ok := a.cancelled[id]; ok {
			if now.Sub(at) < a.retention {
				continue
			}
			delete(a.cancelled, id)
		}
		return id, true
	}
	return 0, false
}

func (a *idAllocator) cancel(id uint16, now time.Time) {
	a.cancelled[id] = now
}

// late reports whether id belongs to a cancelled call, forgetting it.
func (a *idAllocator) late(id uint16) bool {
	if _, ok := a.cancelled[id]; ok {
		delete(a.cancelled, id)
		return true
	}
	return false
}
