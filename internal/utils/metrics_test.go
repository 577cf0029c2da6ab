// internal/utils/metrics_test.go
package utils

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsCollectorCounters(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter(MetricLLMAttempts)
		}()
	}
	wg.Wait()

	if got := m.GetCounterValue(MetricLLMAttempts); got != 50 {
		t.Fatalf("计数器应为50, got %d", got)
	}
	if got := m.GetCounterValue("missing"); got != 0 {
		t.Fatalf("不存在的计数器应为0, got %d", got)
	}
}

func TestMetricsCollectorHistogram(t *testing.T) {
	m := NewMetricsCollector()
	m.ObserveDuration(HistogramLLMLatency, 10*time.Millisecond)
	m.ObserveDuration(HistogramLLMLatency, 30*time.Millisecond)

	snapshot := m.GetMetrics()
	histograms := snapshot["histograms"].(map[string]interface{})
	h := histograms[HistogramLLMLatency].(map[string]int64)

	if h["count"] != 2 || h["min"] != 10 || h["max"] != 30 || h["avg"] != 20 {
		t.Fatalf("unexpected histogram snapshot: %+v", h)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var m *MetricsCollector
	m.IncrementCounter(MetricLLMAttempts)
	m.ObserveDuration(HistogramLLMLatency, time.Second)
	if m.GetCounterValue(MetricLLMAttempts) != 0 {
		t.Fatal("nil collector should report zero")
	}
}
