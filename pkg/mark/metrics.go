package mark

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instrumentation for one Mark Entity.
// All fields are safe to use on a nil *Metrics (every method is a
// no-op), so callers that don't care about metrics can pass nil.
type Metrics struct {
	malformedPackets  prometheus.Counter
	unsupportedProto  prometheus.Counter
	ceMarkedPackets   *prometheus.CounterVec // labeled by ect_class
	rwndAdvertised    prometheus.Gauge
	predictedDequeue  prometheus.Gauge
	predictedQueueDelay prometheus.Gauge
	sequenceWrapAmbiguous prometheus.Counter
	estimatedRTT        prometheus.Gauge
}

// NewMetrics registers the mark entity's instrumentation on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		malformedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mark", Name: "malformed_packets_total",
			Help: "Packets forwarded unchanged due to decode failure.",
		}),
		unsupportedProto: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mark", Name: "unsupported_protocol_total",
			Help: "Packets forwarded unchanged due to an unrecognised IP protocol.",
		}),
		ceMarkedPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mark", Name: "ce_marked_packets_total",
			Help: "Packets accounted into the CE bucket by the mark decision sampler.",
		}, []string{"ect_class"}),
		rwndAdvertised: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mark", Name: "rwnd_advertised_segments",
			Help: "Most recently advertised receive window.",
		}),
		predictedDequeue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mark", Name: "predicted_dequeue_rate_bytes_per_us",
			Help: "Most recent predicted dequeue rate.",
		}),
		predictedQueueDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mark", Name: "predicted_queue_delay_us",
			Help: "Most recent predicted standing-queue delay.",
		}),
		sequenceWrapAmbiguous: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mark", Name: "sequence_wrap_ambiguous_total",
			Help: "Downlink SDUs whose queue append failed with a sequence-wrap-ambiguous error.",
		}),
		estimatedRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mark", Name: "estimated_rtt_seconds",
			Help: "Most recently seeded per-flow RTT estimate (SYN to second segment).",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.malformedPackets, m.unsupportedProto, m.ceMarkedPackets,
			m.rwndAdvertised, m.predictedDequeue, m.predictedQueueDelay, m.sequenceWrapAmbiguous,
			m.estimatedRTT)
	}
	return m
}

func (m *Metrics) incMalformed() {
	if m == nil {
		return
	}
	m.malformedPackets.Inc()
}

func (m *Metrics) incUnsupportedProtocol() {
	if m == nil {
		return
	}
	m.unsupportedProto.Inc()
}

func (m *Metrics) incCEMarked(class ECTClass) {
	if m == nil {
		return
	}
	m.ceMarkedPackets.WithLabelValues(ectClassLabel(class)).Inc()
}

func (m *Metrics) setRWND(v uint16) {
	if m == nil {
		return
	}
	m.rwndAdvertised.Set(float64(v))
}

func (m *Metrics) setPrediction(rate, delay float64) {
	if m == nil {
		return
	}
	m.predictedDequeue.Set(rate)
	m.predictedQueueDelay.Set(delay)
}

func (m *Metrics) setEstimatedRTT(d time.Duration) {
	if m == nil {
		return
	}
	m.estimatedRTT.Set(d.Seconds())
}

func (m *Metrics) incSequenceWrapAmbiguous() {
	if m == nil {
		return
	}
	m.sequenceWrapAmbiguous.Inc()
}

func ectClassLabel(class ECTClass) string {
	switch class {
	case ECTNotECT:
		return "not_ect"
	case ECTL4S:
		return "l4s"
	case ECTClassic:
		return "classic"
	case ECTCE:
		return "ce"
	default:
		return "unknown"
	}
}
