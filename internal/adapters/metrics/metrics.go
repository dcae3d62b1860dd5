package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/workerpool"
	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

const namespace = "visionrelay"

// PoolStats is implemented by the worker pool.
type PoolStats interface {
	Stats() workerpool.Stats
}

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	// Unit metrics
	UnitsTotal   *prometheus.CounterVec
	UnitDuration *prometheus.HistogramVec
	UnitWait     *prometheus.HistogramVec

	// Stream metrics
	StreamsTotal    *prometheus.CounterVec
	StreamFragments *prometheus.CounterVec
	StreamDuration  *prometheus.HistogramVec

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, including the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		factory:  f,

		UnitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Work units that left the pool, by outcome",
			},
			[]string{"op", "status"},
		),
		UnitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Time a work unit held its slot",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"op"},
		),
		UnitWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_wait_seconds",
				Help:      "Time a work unit spent queued before a slot picked it up",
				Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"op"},
		),

		StreamsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_total",
				Help:      "Closed streams, by final state",
			},
			[]string{"op", "state"},
		),
		StreamFragments: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_fragments_total",
				Help:      "Fragments pushed by stream producers",
			},
			[]string{"op"},
		),
		StreamDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stream_duration_seconds",
				Help:      "Time from opening a stream to its close",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"op"},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RegisterPool exports live pool occupancy as gauges.
func (m *Metrics) RegisterPool(pool PoolStats) {
	gauge := func(name, help string, value func(workerpool.Stats) int) {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(pool.Stats())) })
	}
	gauge("slots", "Number of pool slots", func(s workerpool.Stats) int { return s.Size })
	gauge("busy_slots", "Slots currently running a unit", func(s workerpool.Stats) int { return s.Busy })
	gauge("queued_units", "Units waiting for a slot", func(s workerpool.Stats) int { return s.Queued })
}

// Observe folds one lifecycle event into the collectors.
func (m *Metrics) Observe(ev domain.Event) {
	switch data := ev.Data.(type) {
	case domain.UnitEvent:
		switch data.Status {
		case domain.Completed, domain.Failed:
			m.UnitsTotal.WithLabelValues(data.Op, data.Status.String()).Inc()
			m.UnitDuration.WithLabelValues(data.Op).Observe(data.Duration.Seconds())
			m.UnitWait.WithLabelValues(data.Op).Observe(data.Waited.Seconds())
		case domain.Abandoned:
			m.UnitsTotal.WithLabelValues(data.Op, data.Status.String()).Inc()
		}
	case domain.StreamEvent:
		if ev.Topic != domain.TopicStreamClosed {
			return
		}
		m.StreamsTotal.WithLabelValues(data.Op, data.State.String()).Inc()
		m.StreamFragments.WithLabelValues(data.Op).Add(float64(data.Fragments))
		m.StreamDuration.WithLabelValues(data.Op).Observe(data.Duration.Seconds())
	}
}

// Consume observes events until the channel is closed.
func (m *Metrics) Consume(events <-chan domain.Event) {
	go func() {
		for ev := range events {
			m.Observe(ev)
		}
	}()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
