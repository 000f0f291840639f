package mark

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/ranmark/mark/internal/clock"
	"github.com/ranmark/mark/internal/markcfg"
	"github.com/ranmark/mark/internal/markerr"
	"github.com/ranmark/mark/internal/obslog"
	"github.com/ranmark/mark/pkg/mark/wire"
)

// RLCMode identifies the radio-link-control mode a DRB was configured
// with. The mark entity does not interpret it beyond storing it; it is
// surfaced for diagnostics and for callers that branch on it upstream.
type RLCMode uint8

const (
	RLCModeUnknown RLCMode = iota
	RLCModeAM
	RLCModeUM
)

// bearer bundles the per-DRB state the entity owns: its ingress queue,
// flow-marking state, AccECN/RWND control state, and configuration.
type bearer struct {
	id      drbID
	rlcMode RLCMode
	snSize  wire.PDCPSNSize

	queue *DrbQueue
	flow  DrbFlowState
	rwnd  RWNDState

	mu sync.Mutex // protects flow and rwnd; queue has its own lock
}

// Entity is one Mark Entity: it owns a TX path, an RX path, and a
// feedback sink for a single UE PDU session. All public methods are
// safe for concurrent use; internally the feedback path is the sole
// mutator of queue cursors while TX append-only touches the tail.
type Entity struct {
	id  string
	cfg markcfg.Config
	log *obslog.Logger

	flows    *FlowTable
	sampler  *Sampler
	predictor *RatePredictor
	controller *Controller
	feedback *FeedbackHandler
	accecn   *AccECNState
	metrics  *Metrics

	// wrapWarnLimiter bounds how often a sequence-wrap-ambiguous
	// decode error gets logged; the condition recurs on every packet
	// for a misconfigured bearer and would otherwise flood the log.
	wrapWarnLimiter *rate.Limiter

	clk clock.Clock

	mu       sync.RWMutex
	bearers  map[drbID]*bearer
	qfiToDrb map[uint32]drbID
	nofUE    int

	// Flow-table cleanup lifecycle, mirroring the teacher's interceptor
	// startOnce/closed/wg cleanup-loop discipline.
	cleanupOnce sync.Once
	closed      chan struct{}
	wg          sync.WaitGroup
}

// EntityOption configures an Entity at construction time.
type EntityOption func(*Entity)

// WithClock overrides the entity's time source. Defaults to a
// Monotonic (system) clock.
func WithClock(c clock.Clock) EntityOption {
	return func(e *Entity) { e.clk = c }
}

// WithLogger overrides the entity's logger. Defaults to a discard
// logger.
func WithLogger(l *obslog.Logger) EntityOption {
	return func(e *Entity) { e.log = l }
}

// WithMetricsRegisterer registers the entity's Prometheus
// instrumentation on reg. If omitted, metrics calls are no-ops.
func WithMetricsRegisterer(reg prometheus.Registerer) EntityOption {
	return func(e *Entity) { e.metrics = NewMetrics(reg) }
}

// NewEntity creates a Mark Entity for one PDU session using cfg.
func NewEntity(cfg markcfg.Config, opts ...EntityOption) *Entity {
	e := &Entity{
		id:         uuid.Must(uuid.NewV7()).String(),
		cfg:        cfg,
		log:        obslog.Discard(),
		flows:      NewFlowTable(),
		sampler:    NewSampler(nil),
		predictor:  NewRatePredictor(cfg.RateWindow),
		controller: NewController(cfg),
		accecn:          NewAccECNState(cfg),
		wrapWarnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		clk:             clock.Monotonic{},
		bearers:    make(map[drbID]*bearer),
		qfiToDrb:   make(map[uint32]drbID),
		nofUE:      cfg.NofUE,
		closed:     make(chan struct{}),
	}
	e.feedback = NewFeedbackHandler(e.predictor, e.controller)
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("entity_id", e.id)
	return e
}

// AddDRB configures a new bearer. sn_bits defaults to 12 until
// SetPDCPSNSize is called.
func (e *Entity) AddDRB(drb drbID, rlcMode RLCMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bearers[drb] = &bearer{
		id:      drb,
		rlcMode: rlcMode,
		snSize:  wire.PDCPSNSize12Bit,
		queue:   NewDrbQueue(wire.PDCPSNSize12Bit, e.cfg.MaxQueueHistory),
		rwnd:    RWNDState{RWND: e.cfg.InitialRWND},
	}
}

// SetPDCPSNSize sets the PDCP SN width for an already-added bearer.
func (e *Entity) SetPDCPSNSize(drb drbID, snBits uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bearers[drb]
	if !ok {
		return markerr.Errorf(markerr.KindUnknownQosFlow, "mark: set_pdcp_sn_size on unknown drb %d", drb)
	}
	size := wire.PDCPSNSize(snBits)
	if _, err := size.Max(); err != nil {
		return err
	}
	b.snSize = size
	b.queue = NewDrbQueue(size, e.cfg.MaxQueueHistory)
	return nil
}

// AddMapping seeds the QoS-flow-to-DRB table.
func (e *Entity) AddMapping(qfi uint32, drb drbID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.qfiToDrb[qfi] = drb
}

// SetNofUE updates the active-UE count used by the Classic threshold.
func (e *Entity) SetNofUE(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nofUE = n
	e.cfg.NofUE = n
	// The controller holds its own copy of the config; take every
	// bearer's lock so no controller run overlaps the update.
	for _, b := range e.bearers {
		b.mu.Lock()
		defer b.mu.Unlock()
	}
	e.controller.cfg.NofUE = n
}

// StartFlowCleanup launches a background goroutine that calls
// FlowTable.Prune every interval with a cutoff of idleAfter before now,
// bounding the flow table's otherwise unbounded growth over an entity's
// lifetime. A flow is removed once its SYN/second-segment ingress time
// is older than the cutoff, or on the first pass if no SYN was seen;
// packets after the second segment do not keep a flow alive. Safe
// to call multiple times; only the first call starts the goroutine.
// Call Close to stop it.
func (e *Entity) StartFlowCleanup(interval, idleAfter time.Duration) {
	e.cleanupOnce.Do(func() {
		e.wg.Add(1)
		go e.cleanupLoop(interval, idleAfter)
	})
}

func (e *Entity) cleanupLoop(interval, idleAfter time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			removed := e.flows.Prune(e.clk.Now().Add(-idleAfter))
			if removed > 0 {
				e.log.Debug("pruned idle flows", "count", removed)
			}
		}
	}
}

// Close stops the flow-cleanup goroutine, if running, and waits for it
// to exit.
func (e *Entity) Close() error {
	close(e.closed)
	e.wg.Wait()
	return nil
}

func (e *Entity) bearerFor(drb drbID) (*bearer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.bearers[drb]
	if !ok {
		return nil, markerr.Errorf(markerr.KindUnknownQosFlow, "mark: no such drb %d", drb)
	}
	return b, nil
}

// logSequenceWrapAmbiguous records a KindSequenceWrapAmbiguous error,
// rate-limiting the log line so a misconfigured bearer's every packet
// does not flood the log while still counting every occurrence.
func (e *Entity) logSequenceWrapAmbiguous(err error) {
	if markerr.GetKind(err) != markerr.KindSequenceWrapAmbiguous {
		return
	}
	e.metrics.incSequenceWrapAmbiguous()
	if e.wrapWarnLimiter.Allow() {
		e.log.Warn("sequence wrap ambiguous", "error", err)
	}
}

func (e *Entity) drbForQFI(qfi uint32) (drbID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	drb, ok := e.qfiToDrb[qfi]
	if !ok {
		return 0, markerr.Errorf(markerr.KindUnknownQosFlow, "mark: no drb mapping for qfi %d", qfi)
	}
	return drb, nil
}

// HandleSDU is the TX-path entry point: a downlink IP packet arriving
// from the upper PDCP layer, destined for a QoS flow. It decodes the
// packet, applies the mark decision sampler, appends a DrbQueueRecord,
// and returns the (possibly rewritten) bytes to forward to the lower
// RLC layer.
func (e *Entity) HandleSDU(buf []byte, qfi uint32) ([]byte, error) {
	drb, err := e.drbForQFI(qfi)
	if err != nil {
		return nil, err
	}
	b, err := e.bearerFor(drb)
	if err != nil {
		return nil, err
	}

	ip, err := wire.DecodeIPv4(buf)
	if err != nil {
		e.metrics.incMalformed()
		return buf, nil
	}

	now := e.clk.Now()
	tuple := e.decodeTuple(ip, buf, false)
	class := ECTClass(ip.ECT())

	switch ip.Protocol() {
	case wire.ProtocolTCP, wire.ProtocolUDP:
	default:
		e.metrics.incUnsupportedProtocol()
		return buf, nil
	}

	fs := e.flows.GetOrCreate(tuple, drb)

	isTCP := ip.Protocol() == wire.ProtocolTCP
	isSYN := false
	var tcp wire.TCPHeader
	if isTCP {
		tcp, err = wire.DecodeTCP(buf[ip.HeaderLen():])
		if err != nil {
			e.metrics.incMalformed()
			return buf, nil
		}
		isSYN = tcp.HasFlag(wire.TCPFlagSYN)
		fs.SeedRTT(now, isSYN)
		if fs.RTT.Estimated > 0 {
			e.metrics.setEstimatedRTT(fs.RTT.Estimated)
		}

		if payload := buf[ip.HeaderLen()+tcp.HeaderLen():]; len(payload) > 0 {
			fs.InFlight.Push(InFlightRecord{
				SeqNum:      tcp.Seq(),
				EndSeq:      tcp.Seq() + uint32(len(payload)),
				PayloadLen:  uint16(len(payload)),
				IPTotalLen:  ip.TotalLen(),
				TxTimestamp: now,
			})
		}
	}

	b.mu.Lock()
	decision := e.sampler.Sample(&b.flow, fs, class, uint32(len(buf)), !isTCP, isSYN, now)
	b.mu.Unlock()

	if decision.MarkedCE {
		e.metrics.incCEMarked(class)
	}
	if decision.RewriteToCE {
		ip.SetECT(wire.ECNCE)
		ip.RecomputeChecksum()
	}

	if _, err := b.queue.Append(uint32(len(buf)), tuple, now); err != nil {
		e.logSequenceWrapAmbiguous(err)
		return nil, err
	}

	return buf, nil
}

// decodeTuple extracts the canonical five-tuple. forAck selects the
// ACK-side (swapped) variant used to match uplink segments back to
// their downlink flow.
func (e *Entity) decodeTuple(ip wire.IPv4Header, buf []byte, forAck bool) FiveTuple {
	var srcPort, dstPort uint16
	switch ip.Protocol() {
	case wire.ProtocolTCP:
		if tcp, err := wire.DecodeTCP(buf[ip.HeaderLen():]); err == nil {
			srcPort, dstPort = tcp.SrcPort(), tcp.DstPort()
		}
	case wire.ProtocolUDP:
		if udp, err := wire.DecodeUDP(buf[ip.HeaderLen():]); err == nil {
			srcPort, dstPort = udp.SrcPort(), udp.DstPort()
		}
	}
	t := FiveTuple{SrcAddr: ip.SrcAddr(), DstAddr: ip.DstAddr(), SrcPort: srcPort, DstPort: dstPort, Protocol: ip.Protocol()}
	if forAck {
		return t.Reversed()
	}
	return t
}

// HandlePDU is the RX-path entry point: an uplink PDU (typically a TCP
// ACK) arriving from the lower RLC layer, to be forwarded upward as an
// SDU after the RWND/AccECN rewrite.
func (e *Entity) HandlePDU(buf []byte, qfi uint32) ([]byte, error) {
	drb, err := e.drbForQFI(qfi)
	if err != nil {
		return nil, err
	}
	b, err := e.bearerFor(drb)
	if err != nil {
		return nil, err
	}

	ip, err := wire.DecodeIPv4(buf)
	if err != nil {
		e.metrics.incMalformed()
		return buf, nil
	}
	if ip.Protocol() != wire.ProtocolTCP {
		return buf, nil
	}

	tcp, err := wire.DecodeTCP(buf[ip.HeaderLen():])
	if err != nil {
		e.metrics.incMalformed()
		return buf, nil
	}
	if !tcp.HasFlag(wire.TCPFlagACK) {
		return buf, nil
	}

	ackSideTuple := e.decodeTuple(ip, buf, true)
	fs, ok := e.flows.Lookup(ackSideTuple)
	if ok {
		fs.LowerAckBaseline(tcp.AckSeq())
		if acked := fs.InFlight.AckCumulative(tcp.AckSeq()); len(acked) > 0 {
			fs.RTT.Estimated = e.clk.Now().Sub(acked[len(acked)-1].TxTimestamp)
		}
	}

	b.mu.Lock()
	d := b.flow.PredictedQDelay.Microseconds()
	r := b.flow.PredictedDequeueRate
	rwndVal := b.rwnd.StepRWND(e.cfg, float64(d), r)
	b.mu.Unlock()

	// Both flavours may coexist on one bearer (§4.7). Which branch this
	// ACK is eligible for is decided by the ACK's own IP ECN codepoint,
	// not the bearer-wide liveness flags or the flow's accounting alone:
	// an ACK echoing Not-ECT or CE takes neither branch, matching the
	// original's ect-gated rewrite decision.
	ect := ECTClass(ip.ECT())
	isL4S := ect == ECTL4S

	tcp.SetWindow(rwndVal)
	e.metrics.setRWND(rwndVal)
	e.metrics.setPrediction(r, float64(d))

	if ok && e.accecn.ShouldRewrite(*fs, ect) {
		plan := e.accecn.Plan(*fs, uint64(fs.AckRaw), tcp.AckSeq(), isL4S)
		if err := plan.Apply(tcp); err != nil {
			e.metrics.incMalformed()
		}
	}

	ip.RecomputeChecksum()
	tcp.RecomputeChecksum(ip.SrcAddr(), ip.DstAddr(), buf[ip.HeaderLen():])
	return buf, nil
}

// HandleFeedback applies an asynchronous radio-layer delivery report
// to drb's queue, triggering the rate predictor and mark controller if
// the transmitted cursor advances.
func (e *Entity) HandleFeedback(report FeedbackReport, drb drbID) error {
	b, err := e.bearerFor(drb)
	if err != nil {
		return err
	}
	now := e.clk.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.flow.RefreshLiveness(now)
	_, err = e.feedback.Apply(b.queue, &b.flow, report, now)
	return err
}
