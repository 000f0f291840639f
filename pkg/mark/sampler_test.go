package mark

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stepRNG returns Uint32N results from a fixed cycle, useful for
// deterministic boundary testing of the sampler's threshold compare.
type stepRNG struct {
	vals []uint32
	i    int
}

func (r *stepRNG) Uint32N(n uint32) uint32 {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v
}

func TestSamplerClassicBelowThresholdMarksCE(t *testing.T) {
	s := NewSampler(&stepRNG{vals: []uint32{10}})
	bs := &DrbFlowState{MarkClassic: 100}
	fs := &FlowState{AckRaw: math.MaxUint32}

	d := s.Sample(bs, fs, ECTClassic, 1500, false, false, time.Unix(0, 0))
	assert.True(t, d.MarkedCE)
	assert.False(t, d.RewriteToCE) // TCP: deferred to uplink
	assert.Equal(t, uint64(1500), fs.BytesWithCE)
	assert.Equal(t, uint64(1), fs.PktsWithCE)
}

func TestSamplerClassicAboveThresholdAccountsECT0(t *testing.T) {
	s := NewSampler(&stepRNG{vals: []uint32{500}})
	bs := &DrbFlowState{MarkClassic: 100}
	fs := &FlowState{AckRaw: math.MaxUint32}

	d := s.Sample(bs, fs, ECTClassic, 1500, false, false, time.Unix(0, 0))
	assert.False(t, d.MarkedCE)
	assert.Equal(t, uint64(1500), fs.BytesWithECT0)
}

func TestSamplerUDPRewritesToCE(t *testing.T) {
	s := NewSampler(&stepRNG{vals: []uint32{0}})
	bs := &DrbFlowState{MarkL4S: RandMax}
	fs := &FlowState{AckRaw: math.MaxUint32}

	d := s.Sample(bs, fs, ECTL4S, 500, true, false, time.Unix(0, 0))
	assert.True(t, d.MarkedCE)
	assert.True(t, d.RewriteToCE)
}

func TestSamplerSYNNeverSampled(t *testing.T) {
	s := NewSampler(&stepRNG{vals: []uint32{0}})
	bs := &DrbFlowState{MarkClassic: RandMax}
	fs := &FlowState{AckRaw: math.MaxUint32}

	d := s.Sample(bs, fs, ECTClassic, 0, false, true, time.Unix(0, 0))
	assert.False(t, d.MarkedCE)
	assert.Equal(t, uint64(0), fs.BytesWithCE)
	assert.Equal(t, uint64(0), fs.BytesWithECT0)
}

func TestSamplerCEClassAccountsWithoutResampling(t *testing.T) {
	s := NewSampler(&stepRNG{vals: []uint32{0}})
	bs := &DrbFlowState{}
	fs := &FlowState{AckRaw: math.MaxUint32}

	d := s.Sample(bs, fs, ECTCE, 1000, false, false, time.Unix(0, 0))
	assert.True(t, d.MarkedCE)
	assert.Equal(t, uint64(1000), fs.BytesWithCE)
}

func TestSamplerNotECTMarksClassicLivenessWithoutAccounting(t *testing.T) {
	s := NewSampler(&stepRNG{vals: []uint32{0}})
	bs := &DrbFlowState{}
	fs := &FlowState{AckRaw: math.MaxUint32}

	d := s.Sample(bs, fs, ECTNotECT, 1500, false, false, time.Unix(0, 0))
	assert.False(t, d.MarkedCE)
	assert.Equal(t, uint64(0), fs.BytesWithECT0) // legacy traffic: no ECT accounting
	assert.True(t, bs.HaveClassic)               // but a purely-legacy bearer still activates Classic
}

func TestLivenessDecay(t *testing.T) {
	bs := &DrbFlowState{}
	t0 := time.Unix(0, 0)
	bs.markLiveness(ECTClassic, t0)
	assert.True(t, bs.HaveClassic)

	bs.RefreshLiveness(t0.Add(2 * time.Second))
	assert.False(t, bs.HaveClassic)
}

func TestLivenessWithinWindowStaysLive(t *testing.T) {
	bs := &DrbFlowState{}
	t0 := time.Unix(0, 0)
	bs.markLiveness(ECTL4S, t0)
	bs.RefreshLiveness(t0.Add(500 * time.Millisecond))
	assert.True(t, bs.HaveL4S)
}
