package mark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ranmark/mark/internal/markcfg"
	"github.com/ranmark/mark/pkg/mark/wire"
)

func TestFeedbackAdvancesTransmittedCursor(t *testing.T) {
	q := NewDrbQueue(wire.PDCPSNSize12Bit, 0)
	now := time.Unix(0, 0)
	for i := 0; i < 100; i++ {
		_, err := q.Append(1500, FiveTuple{}, now)
		require.NoError(t, err)
	}

	h := NewFeedbackHandler(NewRatePredictor(50), NewController(markcfg.Default()))
	bs := &DrbFlowState{HaveClassic: true}

	advanced, err := h.Apply(q, bs, FeedbackReport{HighestTransmitted: 49}, now.Add(10*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, 50, q.NextTxID())

	for i := 0; i < 50; i++ {
		rec, err := q.RecordAt(i)
		require.NoError(t, err)
		assert.False(t, rec.TransmittedTime.IsZero())
	}
}

func TestFeedbackBatchDequeueRateUsesTotalBatchSize(t *testing.T) {
	// Scenario S2: a single feedback report confirming 50 records of
	// 1500 bytes each must yield cal_dequeue_rate ==
	// (50*1500)/total_time on every one of the 50 advanced records, not
	// a single record's own size.
	q := NewDrbQueue(wire.PDCPSNSize12Bit, 0)
	now := time.Unix(0, 0)
	for i := 0; i < 52; i++ {
		_, err := q.Append(1500, FiveTuple{}, now)
		require.NoError(t, err)
	}

	h := NewFeedbackHandler(NewRatePredictor(50), NewController(markcfg.Default()))
	bs := &DrbFlowState{}

	// Seed a prior transmitted record (SN 0 and 1) so the batch that
	// follows has a transmitted_time to measure total_time against.
	_, err := h.Apply(q, bs, FeedbackReport{HighestTransmitted: 1}, now)
	require.NoError(t, err)
	require.Equal(t, 2, q.NextTxID())

	later := now.Add(10 * time.Millisecond)
	_, err = h.Apply(q, bs, FeedbackReport{HighestTransmitted: 51}, later)
	require.NoError(t, err)
	require.Equal(t, 52, q.NextTxID())

	wantRate := float64(50*1500) / float64(later.Sub(now).Microseconds())
	for i := 2; i < 52; i++ {
		rec, err := q.RecordAt(i)
		require.NoError(t, err)
		assert.InDelta(t, wantRate, rec.CalDequeueRate, 1e-9)
	}
}

func TestFeedbackIsIdempotent(t *testing.T) {
	q := NewDrbQueue(wire.PDCPSNSize12Bit, 0)
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		_, err := q.Append(1500, FiveTuple{}, now)
		require.NoError(t, err)
	}

	h := NewFeedbackHandler(NewRatePredictor(50), NewController(markcfg.Default()))
	bs := &DrbFlowState{}

	_, err := h.Apply(q, bs, FeedbackReport{HighestTransmitted: 5}, now)
	require.NoError(t, err)
	firstSnapshot := *bs

	advanced, err := h.Apply(q, bs, FeedbackReport{HighestTransmitted: 5}, now)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, firstSnapshot, *bs)
}

func TestFeedbackZeroFieldsAreNoOp(t *testing.T) {
	q := NewDrbQueue(wire.PDCPSNSize12Bit, 0)
	now := time.Unix(0, 0)
	_, err := q.Append(1500, FiveTuple{}, now)
	require.NoError(t, err)

	h := NewFeedbackHandler(NewRatePredictor(50), NewController(markcfg.Default()))
	bs := &DrbFlowState{}

	advanced, err := h.Apply(q, bs, FeedbackReport{}, now)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, 0, q.NextTxID())
}

func TestFeedbackTriggersControllerWhenClassPresent(t *testing.T) {
	q := NewDrbQueue(wire.PDCPSNSize12Bit, 0)
	now := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		_, err := q.Append(1500, FiveTuple{}, now)
		require.NoError(t, err)
	}

	h := NewFeedbackHandler(NewRatePredictor(50), NewController(markcfg.Default()))
	bs := &DrbFlowState{HaveClassic: true}

	_, err := h.Apply(q, bs, FeedbackReport{HighestTransmitted: 9}, now.Add(5*time.Millisecond))
	require.NoError(t, err)
	assert.LessOrEqual(t, bs.MarkClassic, RandMax)
}
