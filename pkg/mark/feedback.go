package mark

import "time"

// FeedbackReport is the tuple the radio layer delivers asynchronously:
// highest confirmed PDCP SN for each of the four report kinds. A zero
// value in any field means "no update" for that kind.
type FeedbackReport struct {
	HighestTransmitted         uint32
	HighestDelivered           uint32
	HighestRetransmitted       uint32
	HighestDeliveredRetransmit uint32
}

// FeedbackHandler applies radio-layer delivery reports to one bearer's
// DrbQueue, recording dequeue-rate samples and triggering the Rate
// Predictor and Mark Controller whenever the transmitted cursor
// advances. It is the sole mutator of cursors; TX appends are the only
// other writer, and the two only ever touch disjoint regions of the
// queue (append tail vs. cursor-bounded prefix).
type FeedbackHandler struct {
	predictor  *RatePredictor
	controller *Controller
}

// NewFeedbackHandler wires a predictor and controller for reuse across
// Apply calls.
func NewFeedbackHandler(predictor *RatePredictor, controller *Controller) *FeedbackHandler {
	return &FeedbackHandler{predictor: predictor, controller: controller}
}

const minDequeueInterval = 1000 * time.Microsecond

// Apply processes one FeedbackReport against q and bs. now is the
// arrival time of the feedback. Returns true if the transmitted cursor
// advanced (i.e. the predictor and controller ran).
func (h *FeedbackHandler) Apply(q *DrbQueue, bs *DrbFlowState, report FeedbackReport, now time.Time) (bool, error) {
	advancedAny := false

	if report.HighestTransmitted != 0 {
		n, err := h.advanceTransmitted(q, report.HighestTransmitted, now)
		if err != nil {
			return false, err
		}
		advancedAny = advancedAny || n > 0
	}
	if report.HighestRetransmitted != 0 {
		n, err := h.advanceTransmitted(q, report.HighestRetransmitted, now)
		if err != nil {
			return false, err
		}
		advancedAny = advancedAny || n > 0
	}
	if report.HighestDelivered != 0 {
		if _, err := q.AdvanceDelivered(report.HighestDelivered, now); err != nil {
			return false, err
		}
	}
	if report.HighestDeliveredRetransmit != 0 {
		if _, err := q.AdvanceDelivered(report.HighestDeliveredRetransmit, now); err != nil {
			return false, err
		}
	}

	if advancedAny {
		h.runPredictionAndControl(q, bs)
	}
	return advancedAny, nil
}

// advanceTransmitted walks the transmitted cursor forward and stamps a
// single batch-wide CalDequeueRate on every record it advances: the
// total size of the whole newly-confirmed-transmitted range divided by
// the total time since the prior transmitted record, per the
// total_size/total_time rule (falling back to the prior record's own
// rate when total_time is too small to be numerically stable).
func (h *FeedbackHandler) advanceTransmitted(q *DrbQueue, reportedSN uint32, now time.Time) (int, error) {
	priorTxID := q.NextTxID()
	var priorTransmittedTime time.Time
	var priorRate float64
	if priorTxID > 0 {
		if rec, err := q.RecordAt(priorTxID - 1); err == nil {
			priorTransmittedTime = rec.TransmittedTime
			priorRate = rec.CalDequeueRate
		}
	}

	var advancedIdx []int
	var totalSize uint64

	n, err := q.AdvanceTransmitted(reportedSN, now, func(idx int, rec *DrbQueueRecord) {
		advancedIdx = append(advancedIdx, idx)
		totalSize += uint64(rec.SizeBytes)
	})
	if err != nil {
		return n, err
	}

	var rate float64
	if priorTxID > 0 && n > 0 {
		totalTime := now.Sub(priorTransmittedTime)
		if totalTime >= minDequeueInterval {
			rate = float64(totalSize) / float64(totalTime.Microseconds())
		} else {
			rate = priorRate
		}
	}

	for _, idx := range advancedIdx {
		_ = q.MutateAt(idx, func(rec *DrbQueueRecord) {
			rec.CalDequeueRate = rate
			if rec.PredDequeueRate != 0 {
				rec.DequeueRateError = rec.CalDequeueRate - rec.PredDequeueRate
				rec.QueueDelay = now.Sub(rec.IngressTime)
				rec.QueueDelayError = rec.QueueDelay - rec.EstQueueDelay
			}
		})
	}
	return n, nil
}

func (h *FeedbackHandler) runPredictionAndControl(q *DrbQueue, bs *DrbFlowState) {
	transmitted := q.TransmittedWindow(h.predictor.window)
	standing, _ := q.StandingQueue()

	pred := h.predictor.Predict(transmitted, standing)

	if len(transmitted) > 0 {
		_ = q.MutateAt(q.NextTxID()-1, func(rec *DrbQueueRecord) {
			rec.PredDequeueRate = pred.PredDequeueRate
			rec.EstDequeueRateErr = pred.EstDequeueRateErr
			rec.StandingQueueSize = pred.StandingQueueSize
			rec.EstQueueDelay = time.Duration(pred.EstQueueDelay) * time.Microsecond
		})
	}

	bs.PredictedQDelay = time.Duration(pred.EstQueueDelay) * time.Microsecond
	h.controller.Update(bs, pred.StandingQueueSize, pred.PredDequeueRate, pred.EstDequeueRateErr, pred.EstQueueDelay)
}
