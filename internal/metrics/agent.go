package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	datasourceLabel = "datasource"
	outcomeLabel    = "outcome"
	resultLabel     = "result"
)

// Agent holds the metrics recorded during detection. A nil *Agent records nothing.
type Agent struct {
	Probes            *prometheus.CounterVec
	FetchAttempts     *prometheus.CounterVec
	CacheHits         prometheus.Counter
	DetectionDuration *prometheus.HistogramVec
}

// NewAgent creates the agent metrics and registers them with registrar.
func NewAgent(registrar prometheus.Registerer) *Agent {
	a := &Agent{
		Probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sprout_probe_total",
				Help: "Count of datasource probes by outcome",
			},
			[]string{datasourceLabel, outcomeLabel},
		),
		FetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sprout_fetch_attempts_total",
				Help: "Count of metadata service requests by result",
			},
			[]string{datasourceLabel, resultLabel},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sprout_cache_hits_total",
			Help: "Count of detections satisfied by the persisted record",
		}),
		DetectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sprout_detection_duration_seconds",
				Help:    "Histogram of detection duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{resultLabel},
		),
	}

	registrar.MustRegister(a.Probes, a.FetchAttempts, a.CacheHits, a.DetectionDuration)

	return a
}

// ObserveProbe counts a probe of datasource with outcome.
func (a *Agent) ObserveProbe(datasource, outcome string) {
	if a == nil {
		return
	}
	a.Probes.WithLabelValues(datasource, outcome).Inc()
}

// ObserveFetch counts a single request made for datasource.
func (a *Agent) ObserveFetch(datasource, result string) {
	if a == nil {
		return
	}
	a.FetchAttempts.WithLabelValues(datasource, result).Inc()
}

// ObserveCacheHit counts a detection satisfied from the persisted record.
func (a *Agent) ObserveCacheHit() {
	if a == nil {
		return
	}
	a.CacheHits.Inc()
}

// ObserveDetection records how long a detection took.
func (a *Agent) ObserveDetection(result string, d time.Duration) {
	if a == nil {
		return
	}
	a.DetectionDuration.WithLabelValues(result).Observe(d.Seconds())
}
