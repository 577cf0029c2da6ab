// internal/utils/metrics.go
package utils

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metric names shared by the pipeline, media batch and API layers.
const (
	MetricLLMAttempts        = "llm_attempts_total"
	MetricLLMRetries         = "llm_retries_total"
	MetricLLMPromptTokens    = "llm_prompt_tokens_total"
	MetricLLMOutputTokens    = "llm_output_tokens_total"
	MetricNodesGenerated     = "nodes_generated_total"
	MetricNodesExhausted     = "nodes_exhausted_total"
	MetricDocumentSaves      = "document_saves_total"
	MetricDurableSaveFailure = "document_durable_failures_total"
	MetricMediaGenerated     = "media_generated_total"
	MetricMediaSkipped       = "media_skipped_total"
	MetricMediaFailures      = "media_failures_total"
	MetricAPIRequests        = "api_requests_total"

	HistogramLLMLatency   = "llm_latency_ms"
	HistogramMediaLatency = "media_latency_ms"
	HistogramAPILatency   = "api_latency_ms"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram metric (count, sum, min, max)
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

// NewMetricsCollector creates an empty collector. One collector is created per
// process in app wiring and handed to the services that report into it.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	m.AddCounter(name, 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	if m == nil {
		return
	}

	// Fast path for existing counters
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		counter, exists = m.counters[name]
		if !exists {
			counter = new(int64)
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(counter, value)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		return 0
	}
	return atomic.LoadInt64(counter)
}

// ObserveDuration records a duration in milliseconds
func (m *MetricsCollector) ObserveDuration(name string, d time.Duration) {
	m.RecordHistogram(name, d.Milliseconds())
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	if m == nil {
		return
	}

	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	result := map[string]interface{}{
		"counters":   map[string]int64{},
		"histograms": map[string]interface{}{},
	}
	if m == nil {
		return result
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(counter)
	}

	histograms := make(map[string]interface{}, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		avg := int64(0)
		if h.count > 0 {
			avg = h.sum / h.count
		}
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
			"avg":   avg,
		}
		h.mu.Unlock()
	}

	result["counters"] = counters
	result["histograms"] = histograms
	return result
}
