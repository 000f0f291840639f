package mark

import "github.com/ranmark/mark/internal/markcfg"

// Controller derives mark_l4s and mark_classic from a bearer's current
// rate prediction, per the L4S bang-bang/linear rule and the Classic
// quadratic-probability rule.
type Controller struct {
	cfg markcfg.Config
}

// NewController returns a Controller using cfg's L4S target delay and
// Classic threshold constants.
func NewController(cfg markcfg.Config) *Controller {
	return &Controller{cfg: cfg}
}

// Update recomputes bs.MarkL4S and bs.MarkClassic in place from the
// standing queue size q (bytes), predicted dequeue rate r (bytes/us)
// and its stddev sigma (bytes/us), and predicted queue delay d (us).
// Both classes are evaluated independently and only touch the fields
// of the class that is actually present on the bearer.
func (c *Controller) Update(bs *DrbFlowState, q uint64, r, sigma, d float64) {
	if bs.HaveL4S {
		bs.MarkL4S = c.markL4S(float64(q), r, sigma)
	}
	if bs.HaveClassic {
		bs.MarkClassic = c.markClassic(float64(q), r, d)
	}
	bs.RequiredDequeueRate = float64(q) / c.cfg.L4STargetDelayMicros
	bs.PredictedDequeueRate = r
	bs.PredictedError = sigma
}

func (c *Controller) markL4S(q, r, sigma float64) uint32 {
	rReq := q / c.cfg.L4STargetDelayMicros

	switch {
	case rReq > r+sigma:
		return RandMax
	case rReq < r-sigma:
		return 0
	default:
		if sigma == 0 {
			// Degenerate window (sigma collapses to 0): r_req sits
			// exactly between the two bang-bang branches, so split the
			// difference rather than dividing by zero.
			return RandMax / 2
		}
		frac := (rReq - r + sigma) / (2 * sigma)
		return scaleProbability(frac)
	}
}

func (c *Controller) markClassic(q, r, d float64) uint32 {
	threshold := c.cfg.ClassicThresholdPerUE()
	if q <= threshold {
		return 0
	}
	if r <= 0 || d <= 0 {
		return RandMax
	}
	p := (1460 * 8 * 1.75) / (2 * r * d)
	return scaleProbability(p * p)
}

// scaleProbability clamps frac to [0, 1] and scales it onto [0, RandMax].
func scaleProbability(frac float64) uint32 {
	if frac <= 0 {
		return 0
	}
	if frac >= 1 {
		return RandMax
	}
	return uint32(frac * float64(RandMax))
}
