package mark

import (
	"sync"

	"github.com/gammazero/deque"
)

// InFlightTracker is a per-TCP-flow FIFO of InFlightRecord. Records are
// pushed on TX and popped from the head once a cumulative ACK covers
// their EndSeq. It is backed by a ring-buffer deque rather than
// container/list, matching the pack's preferred queue-like buffer type
// for this access pattern (push back, pop front).
type InFlightTracker struct {
	mu sync.Mutex
	dq deque.Deque[InFlightRecord]
}

// NewInFlightTracker returns an empty tracker.
func NewInFlightTracker() *InFlightTracker {
	t := &InFlightTracker{}
	t.dq.SetMinCapacity(4)
	return t
}

// Push appends rec to the tail of the FIFO.
func (f *InFlightTracker) Push(rec InFlightRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dq.PushBack(rec)
}

// Len reports the number of records currently in flight.
func (f *InFlightTracker) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dq.Len()
}

// AckCumulative pops every record whose EndSeq is less than or equal to
// ackSeq, returning the popped records in FIFO order. After this call
// the FIFO contains exactly those records with EndSeq > ackSeq,
// matching the ACK-FIFO-cleanup property.
func (f *InFlightTracker) AckCumulative(ackSeq uint32) []InFlightRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	var acked []InFlightRecord
	for f.dq.Len() > 0 && f.dq.Front().EndSeq <= ackSeq {
		acked = append(acked, f.dq.PopFront())
	}
	return acked
}

// Front returns the oldest in-flight record, if any.
func (f *InFlightTracker) Front() (InFlightRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dq.Len() == 0 {
		return InFlightRecord{}, false
	}
	return f.dq.Front(), true
}
