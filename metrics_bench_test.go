package goPullToken

import (
	"sync/atomic"
	"testing"
	"time"
)

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricSpendRecorded)
	}
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricSpendRecorded)
	}
}

func BenchmarkMetricsObserveLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	d := 3 * time.Millisecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricExchangeLatency, d)
		}
	})
}

type packedBenchmarkMetrics struct {
	counters [metricIDCount]uint64
}

func (m *packedBenchmarkMetrics) Inc(id MetricID) {
	atomic.AddUint64(&m.counters[id], 1)
}

// The counters touched on every spend event.
var spendHotMetricIDs = [...]MetricID{
	MetricSpendRecorded,
	MetricCeilingIssued,
	MetricSpendOverBudget,
	MetricPeriodRolled,
}

func BenchmarkMetricsIncSpendParallelPadded(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(spendHotMetricIDs[idx])
			idx = (idx + 1) % len(spendHotMetricIDs)
		}
	})
}

func BenchmarkMetricsIncSpendParallelPacked(b *testing.B) {
	m := &packedBenchmarkMetrics{}
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(spendHotMetricIDs[idx])
			idx = (idx + 1) % len(spendHotMetricIDs)
		}
	})
}
