package mark

import (
	"sync"
	"time"

	"github.com/ranmark/mark/internal/markerr"
	"github.com/ranmark/mark/pkg/mark/wire"
)

// DrbQueue is the per-bearer FIFO of DrbQueueRecord, plus the three
// cursors that partition it into delivered / in-flight / not-yet-sent
// regions. TX append and feedback cursor advancement can run on
// different goroutines; mu protects both.
type DrbQueue struct {
	mu sync.Mutex

	snSize      wire.PDCPSNSize
	maxHistory  int // 0 = unbounded; trims delivered records beyond this cap

	records        []DrbQueueRecord
	nextPDCPSN     uint32
	nextTxID       int
	nextDeliveryID int

	// trimmed counts how many records have been dropped from the front
	// of records due to maxHistory, so cursor indices into records stay
	// correct relative to logical position.
	trimmed int
}

// NewDrbQueue creates an empty queue for a bearer with the given PDCP
// SN width and trailing-history cap (0 = unbounded).
func NewDrbQueue(snSize wire.PDCPSNSize, maxHistory int) *DrbQueue {
	return &DrbQueue{snSize: snSize, maxHistory: maxHistory}
}

// Len returns the number of records currently retained (after any
// trimming).
func (q *DrbQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// NextTxID and NextDeliveryID return the current cursor positions as
// logical indices (including trimmed records), matching the spec's
// `0 ≤ next_delivery_id ≤ next_tx_id ≤ len(queue)` invariant.
func (q *DrbQueue) NextTxID() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextTxID
}

func (q *DrbQueue) NextDeliveryID() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextDeliveryID
}

func (q *DrbQueue) logicalLen() int {
	return q.trimmed + len(q.records)
}

// Append adds a new downlink record, assigning it the next PDCP SN.
// Returns the assigned SN.
func (q *DrbQueue) Append(sizeBytes uint32, tuple FiveTuple, ingressTime time.Time) (uint32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	snMax, err := q.snSize.Max()
	if err != nil {
		return 0, err
	}
	sn := q.nextPDCPSN % snMax
	q.nextPDCPSN = (q.nextPDCPSN + 1) % snMax

	q.records = append(q.records, DrbQueueRecord{
		PDCPSN:      sn,
		SizeBytes:   sizeBytes,
		FiveTuple:   tuple,
		IngressTime: ingressTime,
	})
	q.trimIfNeeded()
	return sn, nil
}

func (q *DrbQueue) trimIfNeeded() {
	if q.maxHistory <= 0 {
		return
	}
	// Only delivered records (index < nextDeliveryID, in local coords)
	// are eligible for trimming, so cursors never point past a trimmed
	// record.
	localDeliveryID := q.nextDeliveryID - q.trimmed
	excess := localDeliveryID - q.maxHistory
	if excess <= 0 {
		return
	}
	q.records = q.records[excess:]
	q.trimmed += excess
}

// recordAt resolves a logical index to the backing slice, or ok=false
// if it has been trimmed away or is out of range.
func (q *DrbQueue) recordAt(logicalIdx int) (int, bool) {
	local := logicalIdx - q.trimmed
	if local < 0 || local >= len(q.records) {
		return 0, false
	}
	return local, true
}

// AdvanceTransmitted walks forward from nextTxID while the record's
// PDCP SN is less-or-equal (modularly) to reportedSN, calling visit for
// each advanced record. Returns the number of records advanced.
func (q *DrbQueue) AdvanceTransmitted(reportedSN uint32, now time.Time, visit func(idx int, rec *DrbQueueRecord)) (int, error) {
	return q.advanceCursor(&q.nextTxID, reportedSN, func(idx int, rec *DrbQueueRecord) {
		rec.TransmittedTime = now
		if visit != nil {
			visit(idx, rec)
		}
	})
}

// AdvanceDelivered walks forward from nextDeliveryID under the same
// modular rule, stamping DeliveredTime.
func (q *DrbQueue) AdvanceDelivered(reportedSN uint32, now time.Time) (int, error) {
	return q.advanceCursor(&q.nextDeliveryID, reportedSN, func(idx int, rec *DrbQueueRecord) {
		rec.DeliveredTime = now
	})
}

func (q *DrbQueue) advanceCursor(cursor *int, reportedSN uint32, stamp func(idx int, rec *DrbQueueRecord)) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	advanced := 0
	for {
		local, ok := q.recordAt(*cursor)
		if !ok {
			break
		}
		le, err := q.snSize.LessOrEqual(q.records[local].PDCPSN, reportedSN)
		if err != nil {
			return advanced, err
		}
		if !le {
			break
		}
		stamp(*cursor, &q.records[local])
		*cursor++
		advanced++
	}
	q.trimIfNeeded()
	return advanced, nil
}

// RecordAt returns a copy of the record at logical index idx.
func (q *DrbQueue) RecordAt(idx int) (DrbQueueRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	local, ok := q.recordAt(idx)
	if !ok {
		return DrbQueueRecord{}, markerr.Errorf(markerr.KindInternal, "mark: queue record %d not retained", idx)
	}
	return q.records[local], nil
}

// MutateAt applies fn to the record at logical index idx, in place.
func (q *DrbQueue) MutateAt(idx int, fn func(*DrbQueueRecord)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	local, ok := q.recordAt(idx)
	if !ok {
		return markerr.Errorf(markerr.KindInternal, "mark: queue record %d not retained", idx)
	}
	fn(&q.records[local])
	return nil
}

// TransmittedWindow returns up to the last n transmitted records
// ending at (and including) the record just before nextTxID, oldest
// first.
func (q *DrbQueue) TransmittedWindow(n int) []DrbQueueRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	end := q.nextTxID - q.trimmed
	if end > len(q.records) {
		end = len(q.records)
	}
	if end < 0 {
		end = 0
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	out := make([]DrbQueueRecord, end-start)
	copy(out, q.records[start:end])
	return out
}

// StandingQueue returns the records in [nextTxID, end) — those
// appended but not yet confirmed transmitted — and their total size in
// bytes.
func (q *DrbQueue) StandingQueue() (records []DrbQueueRecord, totalBytes uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	start := q.nextTxID - q.trimmed
	if start < 0 {
		start = 0
	}
	if start > len(q.records) {
		start = len(q.records)
	}
	out := make([]DrbQueueRecord, len(q.records)-start)
	copy(out, q.records[start:])
	for _, r := range out {
		totalBytes += uint64(r.SizeBytes)
	}
	return out, totalBytes
}
