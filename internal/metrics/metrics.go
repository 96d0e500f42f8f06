package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ring / membership metrics
	EndpointsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ringcoord_endpoints_total",
			Help: "Known endpoints by STATUS value",
		},
		[]string{"status"},
	)

	PendingRangesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ringcoord_pending_ranges_total",
			Help: "Pending ranges by keyspace",
		},
		[]string{"keyspace"},
	)

	PhiValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ringcoord_phi_value",
			Help: "Most recently computed phi-accrual suspicion value per endpoint",
		},
		[]string{"endpoint"},
	)

	ConvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringcoord_convictions_total",
			Help: "Total number of failure-detector convictions",
		},
		[]string{"endpoint"},
	)

	// Gossip metrics
	GossipRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ringcoord_gossip_rounds_total",
			Help: "Total number of gossip SYN exchanges attempted",
		},
	)

	GossipRoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ringcoord_gossip_round_duration_seconds",
			Help:    "Wall-clock time of one gossip SYN request and its reply",
			Buckets: prometheus.DefBuckets,
		},
	)

	GenerationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringcoord_generation_rejections_total",
			Help: "Generation jumps larger than MAX_GENERATION_DIFFERENCE that were dropped",
		},
		[]string{"endpoint"},
	)

	// Write coordinator metrics
	WritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringcoord_writes_total",
			Help: "Total writes by consistency level and outcome",
		},
		[]string{"consistency_level", "outcome"},
	)

	WriteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ringcoord_write_latency_seconds",
			Help:    "Write coordinator latency by consistency level",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consistency_level"},
	)

	BackgroundWriteBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringcoord_background_write_bytes",
			Help: "Bytes held by write handlers that completed CL but still await stragglers",
		},
	)

	QueuedWriteBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringcoord_queued_write_bytes",
			Help: "Bytes held by writes waiting on the admission queue",
		},
	)

	HintsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringcoord_hints_total",
			Help: "Hints generated for dead replicas by target endpoint",
		},
		[]string{"endpoint"},
	)

	// Read coordinator metrics
	ReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringcoord_reads_total",
			Help: "Total reads by consistency level and outcome",
		},
		[]string{"consistency_level", "outcome"},
	)

	ReadLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ringcoord_read_latency_seconds",
			Help:    "Read coordinator latency by consistency level",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consistency_level"},
	)

	DigestMismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ringcoord_digest_mismatches_total",
			Help: "Reads where digest comparison disagreed and a reconciling read fired",
		},
	)

	ShortReadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ringcoord_short_reads_total",
			Help: "Reads trimmed due to a short-read signal from a replica",
		},
	)

	SpeculativeRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ringcoord_speculative_retries_total",
			Help: "Reconciling reads retried with a grown row limit after incomplete information",
		},
	)

	BackgroundReadsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringcoord_background_reads_in_flight",
			Help: "Background repair reads currently outstanding",
		},
	)

	// Control plane metrics
	StorageServiceMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringcoord_storage_service_mode",
			Help: "Current StorageServiceController mode, as an enum ordinal",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EndpointsTotal,
		PendingRangesTotal,
		PhiValue,
		ConvictionsTotal,
		GossipRoundsTotal,
		GossipRoundDuration,
		GenerationRejectionsTotal,
		WritesTotal,
		WriteLatency,
		BackgroundWriteBytes,
		QueuedWriteBytes,
		HintsTotal,
		ReadsTotal,
		ReadLatency,
		DigestMismatchesTotal,
		ShortReadsTotal,
		SpeculativeRetriesTotal,
		BackgroundReadsInFlight,
		StorageServiceMode,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an in-flight operation for later histogram observation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }
