// Package otel publishes engine metrics through OpenTelemetry.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter, one
// Int64ObservableGauge per latency bucket, and gauges for dropped audit events and
// exchanged tokens. A single callback reads [goPullToken.Engine.MetricsSnapshot] on each
// collection cycle. The caller owns the MeterProvider.
package otel
