package mark

import (
	"math/rand/v2"
	"time"
)

// RNG is a uniform random source over [0, RandMax). Any generator with
// period >= 2^32 satisfies it; production code should share one RNG
// per Mark Entity rather than constructing one per sample.
type RNG interface {
	Uint32N(n uint32) uint32
}

// defaultRNG wraps math/rand/v2's generator. rand/v2's top-level
// functions are already safe for concurrent use.
type defaultRNG struct{}

func (defaultRNG) Uint32N(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return rand.Uint32N(n)
}

// DefaultRNG is the package-wide fallback RNG.
var DefaultRNG RNG = defaultRNG{}

// Sampler applies the downlink Mark Decision rule described for the
// mark entity: per-packet ECT-class dispatch against the bearer's
// current mark_l4s/mark_classic thresholds, with UDP getting an
// immediate CE rewrite and TCP deferred to the uplink AccECN path.
type Sampler struct {
	rng RNG
}

// NewSampler returns a Sampler using rng, or DefaultRNG if rng is nil.
func NewSampler(rng RNG) *Sampler {
	if rng == nil {
		rng = DefaultRNG
	}
	return &Sampler{rng: rng}
}

// Decision is the outcome of sampling one packet: which accounting
// bucket it fell into, and whether the caller must rewrite this
// packet's IP ECN field to CE in place (true only for UDP).
type Decision struct {
	Class        ECTClass
	MarkedCE     bool
	RewriteToCE  bool
}

// Sample classifies one downlink packet against bearer state bs and
// flow state fs, updating both in place, and returns the accounting
// decision. isTCPSYN packets are never sampled (SYN only seeds RTT).
func (s *Sampler) Sample(bs *DrbFlowState, fs *FlowState, class ECTClass, sizeBytes uint32, isUDP, isTCPSYN bool, now time.Time) Decision {
	if isTCPSYN {
		return Decision{Class: class}
	}

	switch class {
	case ECTCE:
		fs.BytesWithCE += uint64(sizeBytes)
		fs.PktsWithCE++
		bs.markLiveness(class, now)
		return Decision{Class: class, MarkedCE: true}

	case ECTL4S:
		bs.markLiveness(class, now)
		if s.rng.Uint32N(RandMax) < bs.MarkL4S {
			fs.BytesWithCE += uint64(sizeBytes)
			fs.PktsWithCE++
			return Decision{Class: class, MarkedCE: true, RewriteToCE: isUDP}
		}
		fs.BytesWithECT1 += uint64(sizeBytes)
		fs.PktsWithECT1++
		return Decision{Class: class}

	case ECTClassic:
		bs.markLiveness(class, now)
		if s.rng.Uint32N(RandMax) < bs.MarkClassic {
			fs.BytesWithCE += uint64(sizeBytes)
			fs.PktsWithCE++
			return Decision{Class: class, MarkedCE: true, RewriteToCE: isUDP}
		}
		fs.BytesWithECT0 += uint64(sizeBytes)
		fs.PktsWithECT0++
		return Decision{Class: class}

	default: // Not-ECT: legacy traffic is never marked, but it still
		// counts as classic liveness (classify_flow groups Not-ECT with
		// ECT(0): both are "not the scalable codepoint").
		bs.markLiveness(ECTClassic, now)
		return Decision{Class: class}
	}
}

const livenessWindow = time.Second

func (bs *DrbFlowState) markLiveness(class ECTClass, now time.Time) {
	switch class {
	case ECTL4S, ECTCE:
		bs.HaveL4S = true
		bs.LastSeeL4S = now
	case ECTClassic:
		bs.HaveClassic = true
		bs.LastSeeClassic = now
	}
}

// RefreshLiveness clears have_l4s/have_classic flags whose liveness
// window has expired as of now. Called on inspection (e.g. before each
// Mark Controller run) since there are no timers at the core level.
func (bs *DrbFlowState) RefreshLiveness(now time.Time) {
	if bs.HaveL4S && now.Sub(bs.LastSeeL4S) > livenessWindow {
		bs.HaveL4S = false
	}
	if bs.HaveClassic && now.Sub(bs.LastSeeClassic) > livenessWindow {
		bs.HaveClassic = false
	}
}
