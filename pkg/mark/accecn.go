package mark

import (
	"time"

	"github.com/ranmark/mark/internal/markcfg"
	"github.com/ranmark/mark/pkg/mark/wire"
)

// StepRWND applies the receive-window control law: it folds d (the
// predicted queue delay, microseconds) and r (the predicted dequeue
// rate, bytes/microsecond) into the running Min_RTT/Max_tput extrema,
// then computes the next RWND value. The two contradictory
// formulations observed upstream are resolved in favour of the one
// that multiplies RWND by Min_RTT/d̂ (see DESIGN.md); the floor is 1
// segment, matching the control law's explicit saturation rule rather
// than the historical 20-segment clamp.
func (s *RWNDState) StepRWND(cfg markcfg.Config, d, r float64) uint16 {
	if d > 0 {
		if !s.Primed || d < s.MinRTT.Seconds()*1e6 {
			s.MinRTT = time.Duration(d) * time.Microsecond
		}
		s.Primed = true
	}
	if r > s.MaxTput {
		s.MaxTput = r
	}

	next := (1 - cfg.RWNDGamma) * s.RWND
	if d > 0 {
		minRTTus := float64(s.MinRTT.Microseconds())
		next += cfg.RWNDGamma * (minRTTus / d) * s.RWND
	}
	if s.MaxTput > 0 {
		next += cfg.RWNDGamma * cfg.RWNDAlpha * (1 - r/s.MaxTput)
	}
	s.RWND = next

	if s.RWND < float64(cfg.RWNDFloor) {
		return cfg.RWNDFloor
	}
	return uint16(s.RWND)
}

// AccECNState holds the config constants the AccECN rewrite derives
// its option-byte encoding from. The per-flow accounting it reads
// (bytes/packets with ECT0, ECT1, CE) lives on FlowState, the same
// counters the downlink Mark Decision Sampler maintains.
type AccECNState struct {
	cfg markcfg.Config
}

// NewAccECNState returns a rewriter bound to cfg.
func NewAccECNState(cfg markcfg.Config) *AccECNState {
	return &AccECNState{cfg: cfg}
}

// ShouldRewrite reports whether fs has accrued enough CE accounting to
// justify an AccECN option rewrite, given ect — the IP ECN codepoint
// carried by the ACK being processed. An ACK that is itself Not-ECT or
// CE takes neither branch: only an ACK echoing ECT(0) or ECT(1), with
// at least one packet previously accounted into that same class, is
// eligible.
func (a *AccECNState) ShouldRewrite(fs FlowState, ect ECTClass) bool {
	if fs.PktsWithCE <= uint64(a.cfg.AccECNCEPktFloor) {
		return false
	}
	switch ect {
	case ECTClassic:
		return fs.PktsWithECT0 >= 1
	case ECTL4S:
		return fs.PktsWithECT1 >= 1
	default:
		return false
	}
}

// RewritePlan is the computed set of values to write into the TCP
// header's r.cep bits and the AccECN option's three counters.
type RewritePlan struct {
	CEPkt   uint64
	CEBytes uint64
	ClassBytes uint64 // bytes attributed to the flow's ECN class (ECT0 or ECT1)
	OtherClassBytes uint64 // fixed floor for the unused class
	IsL4S bool
}

const accECN24BitMod = 1 << 24

// Plan derives the rewrite for an uplink ACK carrying ackSeq against a
// flow whose accounting is fs and whose sampled class is l4s (ECT1) or
// classic (ECT0).
func (a *AccECNState) Plan(fs FlowState, ackRaw uint64, ackSeq uint32, isL4S bool) RewritePlan {
	segBytes := a.cfg.AccECNSegmentBytes
	totalPkt := (int64(ackSeq) - int64(ackRaw) - 1) / segBytes
	if totalPkt < 0 {
		totalPkt = 0
	}

	classBytesAccrued := fs.BytesWithECT0
	if isL4S {
		classBytesAccrued = fs.BytesWithECT1
	}
	denom := classBytesAccrued + fs.BytesWithCE
	var portion float64
	if denom > 0 {
		portion = float64(fs.BytesWithCE) / float64(denom)
	}
	if isL4S {
		portion /= 10
	}

	cePkt := uint64(float64(totalPkt)*portion) + uint64(a.cfg.AccECNCEPktFloor)
	ceBytes := ((cePkt - uint64(a.cfg.AccECNCEPktFloor)) * uint64(segBytes)) % accECN24BitMod

	ackDelta := int64(ackSeq) - int64(ackRaw)
	if ackDelta < 0 {
		ackDelta = 0
	}
	classBytes := (uint64(ackDelta) - ceBytes) % accECN24BitMod

	return RewritePlan{
		CEPkt:           cePkt,
		CEBytes:         ceBytes,
		ClassBytes:      classBytes,
		OtherClassBytes: 1,
		IsL4S:           isL4S,
	}
}

// Apply writes plan into tcp's r.cep bits and the AccECN option found
// on the segment (kind 172 or 174), honouring each kind's distinct
// counter ordering.
func (plan RewritePlan) Apply(tcp wire.TCPHeader) error {
	setCEP(tcp, uint8(plan.CEPkt&0x7))

	opt, ok := tcp.FindAccECNOption()
	if !ok {
		return nil
	}

	var counters wire.AccECNCounters
	switch opt.Kind {
	case wire.OptKindAccECN1: // ECT1 / CE / ECT0 order
		if plan.IsL4S {
			counters = wire.AccECNCounters{Field0: uint32(plan.ClassBytes), Field1: uint32(plan.CEBytes), Field2: uint32(plan.OtherClassBytes)}
		} else {
			counters = wire.AccECNCounters{Field0: uint32(plan.OtherClassBytes), Field1: uint32(plan.CEBytes), Field2: uint32(plan.ClassBytes)}
		}
	case wire.OptKindAccECN0: // ECT0 / CE / ECT1 order
		if plan.IsL4S {
			counters = wire.AccECNCounters{Field0: uint32(plan.OtherClassBytes), Field1: uint32(plan.CEBytes), Field2: uint32(plan.ClassBytes)}
		} else {
			counters = wire.AccECNCounters{Field0: uint32(plan.ClassBytes), Field1: uint32(plan.CEBytes), Field2: uint32(plan.OtherClassBytes)}
		}
	default:
		return nil
	}
	return wire.EncodeAccECN(opt, counters)
}

// setCEP overwrites the reserved/CWR/ECE bits that carry the AccECN
// r.cep field, one source bit at a time: cep's bit2 (res1) overwrites
// the whole reserved nibble with 0 or 1, cep's bit1 becomes CWR, and
// cep's bit0 becomes ECE (see TCPHeader.CEP).
func setCEP(tcp wire.TCPHeader, cep uint8) {
	tcp.SetReservedNibble((cep >> 2) & 0x1)

	var flags uint8
	if cep&0x2 != 0 {
		flags |= wire.TCPFlagCWR
	}
	if cep&0x1 != 0 {
		flags |= wire.TCPFlagECE
	}
	tcp.SetCWRECE(flags)
}
