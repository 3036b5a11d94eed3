package internaldefs

import (
	goPullToken "github.com/MrEthical07/goPullToken"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   goPullToken.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   goPullToken.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: goPullToken.MetricIssueSuccess, Name: "pulltoken_issue_success_total", Help: "Tokens issued."},
	{ID: goPullToken.MetricIssueFailure, Name: "pulltoken_issue_failure_total", Help: "Rejected issue requests."},
	{ID: goPullToken.MetricVerifySuccess, Name: "pulltoken_verify_success_total", Help: "Tokens that passed verification."},
	{ID: goPullToken.MetricVerifyFailure, Name: "pulltoken_verify_failure_total", Help: "Tokens that failed verification."},
	{ID: goPullToken.MetricExchangeSuccess, Name: "pulltoken_exchange_success_total", Help: "Completed token exchanges."},
	{ID: goPullToken.MetricExchangeFailure, Name: "pulltoken_exchange_failure_total", Help: "Exchanges rejected for an invalid token."},
	{ID: goPullToken.MetricExchangeDuplicate, Name: "pulltoken_exchange_duplicate_total", Help: "Exchanges of an already exchanged token."},
	{ID: goPullToken.MetricExchangeRateLimited, Name: "pulltoken_exchange_rate_limited_total", Help: "Exchanges refused by the IP throttle."},
	{ID: goPullToken.MetricExchangeUnavailable, Name: "pulltoken_exchange_unavailable_total", Help: "Exchanges that failed on the Redis backend."},
	{ID: goPullToken.MetricStreamAttached, Name: "pulltoken_stream_attached_total", Help: "Streams bound to an exchanged token."},
	{ID: goPullToken.MetricCeilingIssued, Name: "pulltoken_ceiling_issued_total", Help: "Send ceilings pushed to streams."},
	{ID: goPullToken.MetricSpendRecorded, Name: "pulltoken_spend_recorded_total", Help: "Spends within the period budget."},
	{ID: goPullToken.MetricSpendOverBudget, Name: "pulltoken_spend_over_budget_total", Help: "Spends that overshot the period budget."},
	{ID: goPullToken.MetricPeriodRolled, Name: "pulltoken_period_rolled_total", Help: "Budget window rollovers."},
	{ID: goPullToken.MetricBudgetExhausted, Name: "pulltoken_budget_exhausted_total", Help: "Budgets whose final window closed."},
	{ID: goPullToken.MetricTimerFailure, Name: "pulltoken_timer_failure_total", Help: "Boundary timer errors and recovered panics."},
	{ID: goPullToken.MetricTokenReleased, Name: "pulltoken_token_released_total", Help: "Tokens released by the caller."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goPullToken.MetricExchangeLatency, Name: "pulltoken_exchange_latency_seconds", Help: "Exchange latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets in seconds.
var HistogramBounds = []string{
	"0.001",
	"0.002",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for instrument names.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

const (
	// AuditDroppedName is the counter of audit events lost to backpressure.
	AuditDroppedName = "pulltoken_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
	// ExchangedTokensName is the gauge of tokens currently holding a budget.
	ExchangedTokensName = "pulltoken_exchanged_tokens"
	ExchangedTokensHelp = "Exchanged tokens currently holding a budget."
)

// NormalizeBuckets copies raw into a fixed array, zero filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
