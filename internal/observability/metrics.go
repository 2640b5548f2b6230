package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event statuses recorded on EventsTotal.
const (
	StatusProcessed    = "processed"
	StatusParseError   = "parse_error"
	StatusReportError  = "report_error"
	StatusDeadLettered = "dead_lettered"
)

// phaseBuckets run from 100µs to about 1.6s. Pricing itself is far below
// DefBuckets' 5ms floor; report and sink phases are network bound.
var phaseBuckets = prometheus.ExponentialBuckets(0.0001, 4, 8)

// Metrics holds all pricer Prometheus metrics.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	EventDuration    *prometheus.HistogramVec
	DeadLetterTotal  *prometheus.CounterVec
	ResultsDelivered *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	WorkersRunning   prometheus.Gauge
}

// NewMetrics creates and registers all pricer metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricer_events_total",
			Help: "Events popped from the queue, by worker and outcome.",
		}, []string{"worker", "status"}),

		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricer_event_duration_seconds",
			Help:    "Processing time per event phase.",
			Buckets: phaseBuckets,
		}, []string{"phase"}),

		DeadLetterTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricer_dead_letter_total",
			Help: "Raw payloads sent to the dead-letter destination.",
		}, []string{"worker"}),

		ResultsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricer_results_delivered_total",
			Help: "Results delivered to a sink.",
		}, []string{"sink"}),

		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricer_sink_errors_total",
			Help: "Sink delivery failures.",
		}, []string{"sink"}),

		WorkersRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pricer_workers_running",
			Help: "Workers currently in the Running state.",
		}),
	}
}
