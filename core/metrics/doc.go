// Package metrics defines the observability contract of the reconciliation
// layer. MetricsSink is the minimal interface; sinks opt into cache, telemetry
// and feed events by implementing the matching recorder interface. Sinks are
// built from configuration through the registry and combined with MultiSink.
package metrics
