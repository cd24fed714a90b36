package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records engine metrics.
type Collector interface {
	// RegisterCounter registers a counter with the given name and labels.
	RegisterCounter(ctx context.Context, name string, labels ...string) (prometheus.Counter, error)
	// AddCounter adds a value to a registered counter.
	AddCounter(ctx context.Context, name string, value float64, labels ...string) error
	// UnregisterCounter removes a registered counter.
	UnregisterCounter(ctx context.Context, name string, labels ...string) error
	// RegisterGauge registers a gauge with the given name and labels.
	RegisterGauge(ctx context.Context, name string, labels ...string) (prometheus.Gauge, error)
	// SetGauge sets a registered gauge to a value.
	SetGauge(ctx context.Context, name string, value float64, labels ...string) error
	// UnregisterGauge removes a registered gauge.
	UnregisterGauge(ctx context.Context, name string, labels ...string) error
	// RegisterHistogram registers a histogram with the given name and labels.
	RegisterHistogram(ctx context.Context, name string, labels ...string) (prometheus.Observer, error)
	// ObserveHistogram records an observation on a registered histogram.
	ObserveHistogram(ctx context.Context, name string, value float64, labels ...string) error
	// UnregisterHistogram removes a registered histogram.
	UnregisterHistogram(ctx context.Context, name string, labels ...string) error
	// MeasureFunctionExecutionTime times a function; call the returned stop func when done.
	MeasureFunctionExecutionTime(ctx context.Context, name string) (func(), error)
	// MetricsHandler returns an http.Handler exposing the collector's registry.
	MetricsHandler() http.Handler
}

// prometheusCollector implements Collector on a private registry.
type prometheusCollector struct {
	prefix     string
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

type contextKey string

func collectorKey(prefix string) contextKey {
	return contextKey("metrics_" + prefix)
}

// WithMetrics returns a context carrying a Collector for the given prefix.
func WithMetrics(ctx context.Context, prefix string) context.Context {
	if _, ok := ctx.Value(collectorKey(prefix)).(Collector); ok {
		return ctx
	}
	return context.WithValue(ctx, collectorKey(prefix), newCollector(prefix))
}

// FromContext returns the Collector stored in the context, creating one if absent.
func FromContext(ctx context.Context, prefix string) Collector {
	if c, ok := ctx.Value(collectorKey(prefix)).(Collector); ok {
		return c
	}
	return newCollector(prefix)
}

func newCollector(prefix string) *prometheusCollector {
	return &prometheusCollector{
		prefix:     prefix,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (c *prometheusCollector) fullName(name string) string {
	return fmt.Sprintf("%s_%s", c.prefix, name)
}

// RegisterCounter registers a counter with the given name and labels.
func (c *prometheusCollector) RegisterCounter(_ context.Context, name string,
	labels ...string) (prometheus.Counter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fullName := c.fullName(name)
	if _, exists := c.counters[fullName]; exists {
		return nil, fmt.Errorf("counter %q already registered", fullName)
	}
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: fullName,
		Help: fmt.Sprintf("Counter for %s", fullName),
	}, labels)
	if err := c.registry.Register(counterVec); err != nil {
		return nil, fmt.Errorf("failed to register counter %q: %w", fullName, err)
	}
	c.counters[fullName] = counterVec
	return counterVec.WithLabelValues(labels...), nil
}

// AddCounter adds a value to a registered counter.
func (c *prometheusCollector) AddCounter(_ context.Context, name string, value float64, labels ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	counterVec, ok := c.counters[c.fullName(name)]
	if !ok {
		return fmt.Errorf("counter %q not found", c.fullName(name))
	}
	counterVec.WithLabelValues(labels...).Add(value)
	return nil
}

// UnregisterCounter removes a registered counter. Unregistering a counter
// that does not exist is not an error.
func (c *prometheusCollector) UnregisterCounter(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fullName := c.fullName(name)
	if counterVec, ok := c.counters[fullName]; ok {
		c.registry.Unregister(counterVec)
		delete(c.counters, fullName)
	}
	return nil
}

// RegisterGauge registers a gauge with the given name and labels.
func (c *prometheusCollector) RegisterGauge(_ context.Context, name string,
	labels ...string) (prometheus.Gauge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fullName := c.fullName(name)
	if _, exists := c.gauges[fullName]; exists {
		return nil, fmt.Errorf("gauge %q already registered", fullName)
	}
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: fullName,
		Help: fmt.Sprintf("Gauge for %s", fullName),
	}, labels)
	if err := c.registry.Register(gaugeVec); err != nil {
		return nil, fmt.Errorf("failed to register gauge %q: %w", fullName, err)
	}
	c.gauges[fullName] = gaugeVec
	return gaugeVec.WithLabelValues(labels...), nil
}

// SetGauge sets a registered gauge to a value.
func (c *prometheusCollector) SetGauge(_ context.Context, name string, value float64, labels ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	gaugeVec, ok := c.gauges[c.fullName(name)]
	if !ok {
		return fmt.Errorf("gauge %q not found", c.fullName(name))
	}
	gaugeVec.WithLabelValues(labels...).Set(value)
	return nil
}

// UnregisterGauge removes a registered gauge.
func (c *prometheusCollector) UnregisterGauge(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fullName := c.fullName(name)
	if gaugeVec, ok := c.gauges[fullName]; ok {
		c.registry.Unregister(gaugeVec)
		delete(c.gauges, fullName)
	}
	return nil
}

// RegisterHistogram registers a histogram with the given name and labels.
func (c *prometheusCollector) RegisterHistogram(_ context.Context, name string,
	labels ...string) (prometheus.Observer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fullName := c.fullName(name)
	if _, exists := c.histograms[fullName]; exists {
		return nil, fmt.Errorf("histogram %q already registered", fullName)
	}
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    fullName,
		Help:    fmt.Sprintf("Histogram for %s", fullName),
		Buckets: prometheus.DefBuckets,
	}, labels)
	if err := c.registry.Register(histogramVec); err != nil {
		return nil, fmt.Errorf("failed to register histogram %q: %w", fullName, err)
	}
	c.histograms[fullName] = histogramVec
	return histogramVec.WithLabelValues(labels...), nil
}

// ObserveHistogram records an observation on a registered histogram.
func (c *prometheusCollector) ObserveHistogram(_ context.Context, name string,
	value float64, labels ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	histogramVec, ok := c.histograms[c.fullName(name)]
	if !ok {
		return fmt.Errorf("histogram %q not found", c.fullName(name))
	}
	histogramVec.WithLabelValues(labels...).Observe(value)
	return nil
}

// UnregisterHistogram removes a registered histogram.
func (c *prometheusCollector) UnregisterHistogram(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fullName := c.fullName(name)
	if histogramVec, ok := c.histograms[fullName]; ok {
		c.registry.Unregister(histogramVec)
		delete(c.histograms, fullName)
	}
	return nil
}

// MeasureFunctionExecutionTime times a function using a shared duration histogram.
func (c *prometheusCollector) MeasureFunctionExecutionTime(_ context.Context, name string) (func(), error) {
	c.mu.Lock()
	fullName := c.fullName("function_duration_seconds")
	histogramVec, ok := c.histograms[fullName]
	if !ok {
		histogramVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fullName,
			Help:    "Time spent executing functions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"function"})
		if err := c.registry.Register(histogramVec); err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("failed to register duration histogram: %w", err)
		}
		c.histograms[fullName] = histogramVec
	}
	c.mu.Unlock()

	start := time.Now()
	return func() {
		histogramVec.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}, nil
}

// MetricsHandler returns an http.Handler exposing the collector's registry.
func (c *prometheusCollector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
