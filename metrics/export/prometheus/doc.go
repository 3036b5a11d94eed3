// Package prometheus renders engine metrics in Prometheus text exposition format.
//
// [NewExporter] wraps a [goPullToken.Engine] and exposes an [http.Handler]. Counter
// names are prefixed pulltoken_ and suffixed _total; the single histogram is
// pulltoken_exchange_latency_seconds. Nothing is registered globally; callers mount the
// handler themselves.
package prometheus
