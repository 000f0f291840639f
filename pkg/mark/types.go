// Package mark implements the per-bearer ECN congestion-signalling
// entity: packet decoding, per-bearer ingress queueing, windowed
// dequeue-rate prediction, CE-mark probability control, and the
// uplink AccECN/RWND rewrite path.
package mark

import (
	"time"

	"github.com/ranmark/mark/pkg/mark/wire"
)

// RandMax mirrors the classic POSIX RAND_MAX (2^31-1). mark_l4s and
// mark_classic are probability thresholds expressed on this scale and
// compared against a uniform draw in [0, RandMax).
const RandMax uint32 = 1<<31 - 1

// ECTClass is the two-bit ECN codepoint read from the IPv4 ToS byte.
type ECTClass uint8

const (
	ECTNotECT ECTClass = wire.ECNNotECT
	ECTL4S    ECTClass = wire.ECNECT1 // ECT(1), scalable
	ECTClassic ECTClass = wire.ECNECT0 // ECT(0), classic ECN-capable
	ECTCE     ECTClass = wire.ECNCE
)

// FiveTuple identifies a flow. The zero value is never a valid tuple
// (protocol 0 does not occur on decoded packets).
type FiveTuple struct {
	SrcAddr  [4]byte
	DstAddr  [4]byte
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Reversed swaps source and destination, producing the ACK-side tuple
// used to match an uplink ACK back to its downlink flow.
func (t FiveTuple) Reversed() FiveTuple {
	return FiveTuple{
		SrcAddr:  t.DstAddr,
		DstAddr:  t.SrcAddr,
		SrcPort:  t.DstPort,
		DstPort:  t.SrcPort,
		Protocol: t.Protocol,
	}
}

// RTTEstimate tracks the ingress time of a flow's SYN and its first
// non-SYN segment to derive an initial RTT estimate.
type RTTEstimate struct {
	IngressOfSYN    time.Time
	IngressOfSecond time.Time
	Estimated       time.Duration
}

// FlowState is the per-five-tuple accounting state maintained by the
// flow table.
type FlowState struct {
	DrbID drbID

	BytesWithECT1 uint64
	BytesWithECT0 uint64
	BytesWithCE   uint64
	PktsWithECT1  uint64
	PktsWithECT0  uint64
	PktsWithCE    uint64

	// AckRaw is the lowest observed ACK number, used as the baseline
	// for AccECN byte-delta accounting. math.MaxUint32 before any ACK
	// has been seen.
	AckRaw uint32

	RTT RTTEstimate

	// InFlight tracks data segments sent downlink that have not yet
	// been cumulatively acknowledged uplink, refining RTT beyond the
	// SYN/second-segment seed.
	InFlight *InFlightTracker
}

// drbID identifies a data radio bearer within one Mark Entity.
type drbID = uint32

// InFlightRecord tracks one unacknowledged TCP segment on the uplink
// RTT/FIFO path. Invariant: EndSeq == SeqNum + PayloadLen.
type InFlightRecord struct {
	SeqNum          uint32
	EndSeq          uint32
	PayloadLen      uint16
	IPTotalLen      uint16
	TxTimestamp     time.Time
	IsRetransmission bool
}

// DrbQueueRecord is one downlink packet's accounting record on a
// bearer's ingress queue.
type DrbQueueRecord struct {
	PDCPSN     uint32
	SizeBytes  uint32
	FiveTuple  FiveTuple

	IngressTime     time.Time
	TransmittedTime time.Time
	DeliveredTime   time.Time

	StandingQueueSize uint64
	CalDequeueRate    float64 // bytes/us, realised
	PredDequeueRate   float64 // bytes/us, predicted at the time of this record
	EstDequeueRateErr float64 // stddev of CalDequeueRate over the prediction window

	QueueDelay       time.Duration
	EstQueueDelay    time.Duration
	DequeueRateError float64
	QueueDelayError  time.Duration
}

// DrbFlowState holds the per-bearer CE-mark probabilities and class
// presence flags the Mark Controller maintains.
type DrbFlowState struct {
	MarkL4S     uint32
	MarkClassic uint32

	HaveL4S     bool
	HaveClassic bool
	LastSeeL4S     time.Time
	LastSeeClassic time.Time

	RequiredDequeueRate  float64
	PredictedDequeueRate float64
	PredictedError       float64
	PredictedQDelay      time.Duration
}

// RWNDState is the per-bearer running state of the receive-window
// control law.
type RWNDState struct {
	MinRTT    time.Duration
	MaxTput   float64
	RWND      float64
	Primed    bool // MinRTT/MaxTput have been seeded at least once
}

