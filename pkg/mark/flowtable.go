package mark

import (
	"math"
	"sync"
	"time"
)

// FlowTable maps five-tuples to FlowState, inserting lazily on first
// sighting. One FlowTable exists per Mark Entity.
type FlowTable struct {
	mu    sync.Mutex
	flows map[FiveTuple]*FlowState
}

// NewFlowTable returns an empty table.
func NewFlowTable() *FlowTable {
	return &FlowTable{flows: make(map[FiveTuple]*FlowState)}
}

// GetOrCreate returns the FlowState for tuple, creating it (bound to
// drb) if this is the first sighting.
func (t *FlowTable) GetOrCreate(tuple FiveTuple, drb drbID) *FlowState {
	t.mu.Lock()
	defer t.mu.Unlock()
	fs, ok := t.flows[tuple]
	if !ok {
		fs = &FlowState{
			DrbID:         drb,
			AckRaw:        math.MaxUint32,
			BytesWithECT1: 1, // AccECN bootstrap floors; see DESIGN.md
			BytesWithECT0: 1,
			PktsWithCE:    5,
			InFlight:      NewInFlightTracker(),
		}
		t.flows[tuple] = fs
	}
	return fs
}

// Lookup returns the FlowState for tuple without creating it.
func (t *FlowTable) Lookup(tuple FiveTuple) (*FlowState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fs, ok := t.flows[tuple]
	return fs, ok
}

// RTTEstimate returns a copy of tuple's RTT estimator state, for
// read-only inspection (metrics) without exposing the live FlowState.
func (t *FlowTable) RTTEstimate(tuple FiveTuple) (RTTEstimate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fs, ok := t.flows[tuple]
	if !ok {
		return RTTEstimate{}, false
	}
	return fs.RTT, true
}

// Len reports the number of tracked flows.
func (t *FlowTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// Prune removes flows whose RTT estimator has not observed the SYN or
// second segment more recently than cutoff. Used to bound unbounded
// per-flow map growth over an entity's lifetime.
func (t *FlowTable) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for tuple, fs := range t.flows {
		last := fs.RTT.IngressOfSecond
		if last.IsZero() {
			last = fs.RTT.IngressOfSYN
		}
		if last.IsZero() || last.Before(cutoff) {
			delete(t.flows, tuple)
			removed++
		}
	}
	return removed
}

// LowerAckBaseline implements the flow table's monotonic ack_raw
// lowering rule: on an uplink ACK whose ack_seq is strictly less than
// the stored baseline and strictly greater than zero, the baseline
// becomes ack_seq - 1.
func (fs *FlowState) LowerAckBaseline(ackSeq uint32) {
	if ackSeq > 0 && ackSeq < fs.AckRaw {
		fs.AckRaw = ackSeq - 1
	}
}

// SeedRTT records the ingress time of a SYN, or (if a SYN was already
// seen and Estimated hasn't been set) the ingress time of the first
// non-SYN segment, deriving the initial RTT estimate.
func (fs *FlowState) SeedRTT(now time.Time, isSYN bool) {
	if isSYN {
		if fs.RTT.IngressOfSYN.IsZero() {
			fs.RTT.IngressOfSYN = now
		}
		return
	}
	if !fs.RTT.IngressOfSYN.IsZero() && fs.RTT.IngressOfSecond.IsZero() {
		fs.RTT.IngressOfSecond = now
		fs.RTT.Estimated = now.Sub(fs.RTT.IngressOfSYN)
	}
}
