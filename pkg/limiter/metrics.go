package limiter

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives the limiter's observability signals. Implementations
// must be safe for concurrent use.
type Recorder interface {
	// Add increments a counter.
	Add(name string, value float64, tags map[string]string)
	// Observe records a value into a distribution (latencies, counts).
	Observe(name string, value float64, tags map[string]string)
}

// NoOpRecorder is a placeholder that does nothing. It ensures we never have
// to check for a nil recorder on the hot path.
type NoOpRecorder struct{}

func (NoOpRecorder) Add(name string, value float64, tags map[string]string)     {}
func (NoOpRecorder) Observe(name string, value float64, tags map[string]string) {}

// PrometheusRecorder exposes limiter signals as Prometheus metrics. Vectors
// are registered lazily on first use; the tag set for a given metric name
// must stay consistent across calls.
type PrometheusRecorder struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusRecorder builds a recorder registering against reg, or the
// default registerer when reg is nil.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusRecorder{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (r *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	r.counterVec(name, tags).With(prometheus.Labels(tags)).Add(value)
}

func (r *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	r.histogramVec(name, tags).With(prometheus.Labels(tags)).Observe(value)
}

func (r *PrometheusRecorder) counterVec(name string, tags map[string]string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: promName(name) + "_total",
			Help: "floodgate counter " + name,
		}, labelKeys(tags))
		r.reg.MustRegister(vec)
		r.counters[name] = vec
	}
	return vec
}

func (r *PrometheusRecorder) histogramVec(name string, tags map[string]string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    promName(name),
			Help:    "floodgate distribution " + name,
			Buckets: prometheus.DefBuckets,
		}, labelKeys(tags))
		r.reg.MustRegister(vec)
		r.histograms[name] = vec
	}
	return vec
}

func promName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func labelKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	return keys
}
