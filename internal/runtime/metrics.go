package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "postbox"

type Metrics struct {
	InstructionsTotal  *prometheus.CounterVec
	InstructionSeconds *prometheus.HistogramVec
	EventsTotal        *prometheus.CounterVec
	SubscriberDrops    prometheus.Counter
	SnapshotsTotal     *prometheus.CounterVec
	JournalErrors      prometheus.Counter
	Seq                prometheus.Gauge
}

// NewMetrics registers runtime collectors with reg. A nil reg creates
// unregistered collectors, which is what tests that do not scrape want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InstructionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "instructions_total",
			Help:      "Instructions applied, by op and result code.",
		}, []string{"op", "code"}),
		InstructionSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "instruction_seconds",
			Help:      "Time spent executing one instruction.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"op"}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "events_total",
			Help:      "Events emitted by committed instructions.",
		}, []string{"type"}),
		SubscriberDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "subscriber_drops_total",
			Help:      "Events not delivered because a subscriber was full.",
		}),
		SnapshotsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "snapshots_total",
			Help:      "Snapshot attempts, by outcome.",
		}, []string{"result"}),
		JournalErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "journal_errors_total",
			Help:      "Committed instructions whose journal entry could not be written.",
		}),
		Seq: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "seq",
			Help:      "Sequence number of the last applied instruction.",
		}),
	}
}
