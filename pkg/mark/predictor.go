package mark

import "math"

// RatePredictor computes the windowed mean and standard deviation of a
// bearer's realised dequeue rate, and the resulting standing-queue
// delay estimate. Grounded on the same trailing-window statistics
// discipline as a sliding-window rate estimator, adapted to the
// spec's plain mean/stddev (no linear regression).
type RatePredictor struct {
	window int
}

// NewRatePredictor returns a predictor using the most recent window
// transmitted records (W, default 50).
func NewRatePredictor(window int) *RatePredictor {
	if window <= 0 {
		window = 50
	}
	return &RatePredictor{window: window}
}

// Prediction is the result of one predictor run.
type Prediction struct {
	PredDequeueRate   float64// bytes/us
	EstDequeueRateErr float64 // stddev, bytes/us
	StandingQueueSize uint64
	EstQueueDelay     float64 // us
}

// Predict computes the mean/stddev of transmitted's CalDequeueRate
// (the most recent up-to-window records, oldest first) and combines it
// with the bytes currently standing in standing (the not-yet-transmitted
// tail of the queue).
func (p *RatePredictor) Predict(transmitted []DrbQueueRecord, standing []DrbQueueRecord) Prediction {
	mean, stddev := windowedMeanStddev(transmitted, p.window)

	var standingBytes uint64
	for _, r := range standing {
		standingBytes += uint64(r.SizeBytes)
	}

	var delay float64
	if mean > 0 {
		delay = float64(standingBytes) / mean
	}

	return Prediction{
		PredDequeueRate:   mean,
		EstDequeueRateErr: stddev,
		StandingQueueSize: standingBytes,
		EstQueueDelay:     delay,
	}
}

func windowedMeanStddev(records []DrbQueueRecord, window int) (mean, stddev float64) {
	n := len(records)
	if n > window {
		records = records[n-window:]
		n = window
	}
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, r := range records {
		sum += r.CalDequeueRate
	}
	mean = sum / float64(n)

	var sqDiff float64
	for _, r := range records {
		d := r.CalDequeueRate - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(n))
	return mean, stddev
}
