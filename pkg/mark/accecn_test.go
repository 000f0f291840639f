package mark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ranmark/mark/internal/markcfg"
	"github.com/ranmark/mark/pkg/mark/wire"
)

func TestRWNDControlStep(t *testing.T) {
	// Scenario: RWND=100, Min_RTT=10, Max_tput=1000, d=20, r=500.
	cfg := markcfg.Default()
	s := &RWNDState{RWND: 100, MinRTT: 10 * time.Microsecond, MaxTput: 1000, Primed: true}

	w := s.StepRWND(cfg, 20, 500)
	assert.Equal(t, uint16(95), w)
}

func TestRWNDFloorSaturatesAtOne(t *testing.T) {
	cfg := markcfg.Default()
	s := &RWNDState{RWND: 0.5, MinRTT: 10 * time.Microsecond, MaxTput: 1000, Primed: true}
	w := s.StepRWND(cfg, 1_000_000, 1)
	assert.Equal(t, cfg.RWNDFloor, w)
}

func TestAccECNPlanMatchesByteRewriteScenario(t *testing.T) {
	// Scenario S3: bytes_with_ecn0=13_360, bytes_with_ce=2_672,
	// pkts_with_ce=6, ack_raw=0, ack_seq=16_032, classic flow.
	cfg := markcfg.Default()
	a := NewAccECNState(cfg)
	ts := FlowState{BytesWithECT0: 13_360, BytesWithCE: 2_672, PktsWithCE: 6, PktsWithECT0: 1}

	require.True(t, a.ShouldRewrite(ts, ECTClassic))
	plan := a.Plan(ts, 0, 16_032, false)

	// total_pkt = (16_032 - 0 - 1) / 1336 = 11 (integer truncation);
	// portion = 2_672 / 16_032; ce_pkt = floor(11 * portion) + 5 = 6.
	assert.Equal(t, uint64(6), plan.CEPkt)
	assert.Equal(t, uint64(1_336), plan.CEBytes)
	assert.Equal(t, uint64(14_696), plan.ClassBytes)
	assert.Equal(t, uint64(1), plan.OtherClassBytes)
}

func TestAccECNShouldRewriteRequiresFloorAndClassPacket(t *testing.T) {
	cfg := markcfg.Default()
	a := NewAccECNState(cfg)

	below := FlowState{BytesWithECT1: 1, BytesWithECT0: 1, PktsWithCE: 5} // floor values, not yet > floor
	assert.False(t, a.ShouldRewrite(below, ECTClassic))

	below.PktsWithCE++
	assert.False(t, a.ShouldRewrite(below, ECTClassic)) // still no class packets observed

	below.PktsWithECT0 = 1
	assert.True(t, a.ShouldRewrite(below, ECTClassic))
	assert.False(t, a.ShouldRewrite(below, ECTL4S)) // ACK's own ECT doesn't match this flavour
	assert.False(t, a.ShouldRewrite(below, ECTNotECT))
	assert.False(t, a.ShouldRewrite(below, ECTCE))
}

func TestSetCEPPlacesEachBitIndividually(t *testing.T) {
	// A uniform cep=7 cannot distinguish correct per-bit placement from
	// a collapsed encoding that only ever sets one wire bit; exercise
	// each source bit in isolation instead.
	buf := buildTCPSegmentWithAccECN(wire.OptKindAccECN1)
	tcp, err := wire.DecodeTCP(buf)
	require.NoError(t, err)

	setCEP(tcp, 0b001) // ece only
	assert.True(t, tcp.HasFlag(wire.TCPFlagECE))
	assert.False(t, tcp.HasFlag(wire.TCPFlagCWR))
	assert.Equal(t, uint8(0b001), tcp.CEP())

	setCEP(tcp, 0b010) // cwr only
	assert.False(t, tcp.HasFlag(wire.TCPFlagECE))
	assert.True(t, tcp.HasFlag(wire.TCPFlagCWR))
	assert.Equal(t, uint8(0b010), tcp.CEP())

	setCEP(tcp, 0b100) // res1 only
	assert.False(t, tcp.HasFlag(wire.TCPFlagECE))
	assert.False(t, tcp.HasFlag(wire.TCPFlagCWR))
	assert.Equal(t, uint8(0b100), tcp.CEP())
}

func buildTCPSegmentWithAccECN(kind uint8) []byte {
	buf := make([]byte, 20+12)
	buf[12] = 0x80 // data offset 8 (32 bytes)
	buf[13] = wire.TCPFlagACK
	opt := buf[20:]
	opt[0] = kind
	opt[1] = 11
	opt[11] = wire.OptKindNOP
	return buf
}

func TestRewritePlanApplySetsCEPAndOptionBytes(t *testing.T) {
	cfg := markcfg.Default()
	a := NewAccECNState(cfg)
	ts := FlowState{BytesWithECT0: 13_360, BytesWithCE: 2_672, PktsWithCE: 6, PktsWithECT0: 1}
	plan := a.Plan(ts, 0, 16_032, false)

	buf := buildTCPSegmentWithAccECN(wire.OptKindAccECN1)
	tcp, err := wire.DecodeTCP(buf)
	require.NoError(t, err)

	require.NoError(t, plan.Apply(tcp))
	assert.Equal(t, uint8(0b110), tcp.CEP())

	opt, ok := tcp.FindAccECNOption()
	require.True(t, ok)
	counters, err := wire.DecodeAccECN(opt)
	require.NoError(t, err)
	// kind 174 (AccECN1) carries ECN1/CE/ECN0 order; flow is classic so
	// ECN1 gets the floor and ECN0 gets the real byte count.
	assert.Equal(t, uint32(1), counters.Field0)
	assert.Equal(t, uint32(1_336), counters.Field1)
	assert.Equal(t, uint32(14_696), counters.Field2)
}

func TestRewritePlanApplyKind172Ordering(t *testing.T) {
	cfg := markcfg.Default()
	a := NewAccECNState(cfg)
	ts := FlowState{BytesWithECT0: 13_360, BytesWithCE: 2_672, PktsWithCE: 6, PktsWithECT0: 1}
	plan := a.Plan(ts, 0, 16_032, false)

	buf := buildTCPSegmentWithAccECN(wire.OptKindAccECN0)
	tcp, err := wire.DecodeTCP(buf)
	require.NoError(t, err)
	require.NoError(t, plan.Apply(tcp))

	opt, ok := tcp.FindAccECNOption()
	require.True(t, ok)
	counters, err := wire.DecodeAccECN(opt)
	require.NoError(t, err)
	// kind 172 carries ECN0/CE/ECN1 order.
	assert.Equal(t, uint32(14_696), counters.Field0)
	assert.Equal(t, uint32(1_336), counters.Field1)
	assert.Equal(t, uint32(1), counters.Field2)
}
