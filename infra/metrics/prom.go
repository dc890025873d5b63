package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/dispatchsync/core/metrics"
)

// PromSink exposes cache, telemetry and mutation activity as Prometheus
// metrics. The /metrics endpoint is served separately by StartPromServer.
type PromSink struct {
	cache         *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	invalidations *prometheus.CounterVec
	samples       *prometheus.CounterVec
	feeds         prometheus.Gauge
	mutations     *prometheus.CounterVec
	mutationTime  *prometheus.HistogramVec
}

var (
	_ coremetrics.CacheRecorder     = (*PromSink)(nil)
	_ coremetrics.TelemetryRecorder = (*PromSink)(nil)
	_ coremetrics.FeedRecorder      = (*PromSink)(nil)
)

// NewPromSink registers the metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_cache_events_total",
			Help: "Snapshot store hits, misses, fetches and fetch errors",
		}, []string{"resource", "kind"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snapshot_fetch_duration_seconds",
			Help:    "Duration of backend reads behind the snapshot store",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_invalidated_entries_total",
			Help: "Entries marked stale by invalidation",
		}, []string{"resource"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_samples_total",
			Help: "Telemetry samples applied or discarded as out of order",
		}, []string{"result"}),
		feeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_open_feeds",
			Help: "Vehicles with at least one telemetry subscriber",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mutations_total",
			Help: "Mutation attempts by operation and outcome",
		}, []string{"operation", "outcome"}),
		mutationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mutation_duration_seconds",
			Help:    "Time from invocation to refreshed cache",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}
	if err := register(reg, &s.cache); err != nil {
		return nil, err
	}
	if err := register(reg, &s.fetchLatency); err != nil {
		return nil, err
	}
	if err := register(reg, &s.invalidations); err != nil {
		return nil, err
	}
	if err := register(reg, &s.samples); err != nil {
		return nil, err
	}
	if err := register(reg, &s.feeds); err != nil {
		return nil, err
	}
	if err := register(reg, &s.mutations); err != nil {
		return nil, err
	}
	if err := register(reg, &s.mutationTime); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds *c to reg, swapping in the existing collector when an
// identical one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			*c = existing
			return nil
		}
	}
	return err
}

// RecordMutation counts the attempt and observes its latency.
func (s *PromSink) RecordMutation(ev coremetrics.MutationEvent) error {
	outcome := string(ev.Outcome)
	s.mutations.WithLabelValues(ev.Operation, outcome).Inc()
	s.mutationTime.WithLabelValues(ev.Operation, outcome).Observe(ev.Latency.Seconds())
	return nil
}

// RecordCacheEvent updates the cache counters. Fetch events also feed the
// latency histogram; invalidations count the affected entries.
func (s *PromSink) RecordCacheEvent(ev coremetrics.CacheEvent) error {
	switch ev.Kind {
	case coremetrics.CacheInvalidate:
		s.invalidations.WithLabelValues(ev.Resource).Add(float64(ev.Count))
		return nil
	case coremetrics.CacheFetch, coremetrics.CacheError:
		s.fetchLatency.WithLabelValues(ev.Resource).Observe(ev.Duration.Seconds())
	}
	s.cache.WithLabelValues(ev.Resource, string(ev.Kind)).Inc()
	return nil
}

// RecordTelemetry counts applied and discarded samples.
func (s *PromSink) RecordTelemetry(ev coremetrics.TelemetryEvent) error {
	result := "applied"
	if ev.Discarded {
		result = "discarded"
	}
	s.samples.WithLabelValues(result).Inc()
	return nil
}

// RecordOpenFeeds sets the open feeds gauge.
func (s *PromSink) RecordOpenFeeds(n int) error {
	s.feeds.Set(float64(n))
	return nil
}
