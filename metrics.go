package goPullToken

import (
	"sync/atomic"
	"time"
)

// MetricID identifies an engine counter or histogram.
type MetricID uint16

const (
	// MetricIssueSuccess counts minted tokens.
	MetricIssueSuccess MetricID = iota
	// MetricIssueFailure counts rejected issue requests.
	MetricIssueFailure
	// MetricVerifySuccess counts tokens that passed Verify.
	MetricVerifySuccess
	// MetricVerifyFailure counts tokens that failed Verify.
	MetricVerifyFailure
	// MetricExchangeSuccess counts completed exchanges.
	MetricExchangeSuccess
	// MetricExchangeFailure counts exchanges rejected for the token itself.
	MetricExchangeFailure
	// MetricExchangeDuplicate counts tokens presented after they were already exchanged.
	MetricExchangeDuplicate
	// MetricExchangeRateLimited counts exchanges refused by the IP throttle.
	MetricExchangeRateLimited
	// MetricExchangeUnavailable counts exchanges that failed on Redis.
	MetricExchangeUnavailable
	// MetricStreamAttached counts streams bound to a token.
	MetricStreamAttached
	// MetricCeilingIssued counts send ceilings pushed to streams.
	MetricCeilingIssued
	// MetricSpendRecorded counts spends within budget.
	MetricSpendRecorded
	// MetricSpendOverBudget counts spends that overshot the period budget.
	MetricSpendOverBudget
	// MetricPeriodRolled counts budget window rollovers.
	MetricPeriodRolled
	// MetricBudgetExhausted counts budgets whose last window closed.
	MetricBudgetExhausted
	// MetricTimerFailure counts boundary timer errors and recovered panics.
	MetricTimerFailure
	// MetricTokenReleased counts tokens released by the caller.
	MetricTokenReleased
	// MetricExchangeLatency is the exchange latency histogram.
	MetricExchangeLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. Each counter sits on its own cache line.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of [Metrics].
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns metrics configured by cfg. Disabled metrics ignore every update.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only [MetricExchangeLatency] has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricExchangeLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricExchangeLatency].buckets[i])
		}
		s.Histograms[MetricExchangeLatency] = buckets
	}

	return s
}

// bucketIndex maps d to upper bounds of 1, 2, 5, 10, 25, 50 and 100ms plus overflow.
func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 1000:
		return 0
	case us <= 2000:
		return 1
	case us <= 5000:
		return 2
	case us <= 10000:
		return 3
	case us <= 25000:
		return 4
	case us <= 50000:
		return 5
	case us <= 100000:
		return 6
	default:
		return 7
	}
}
