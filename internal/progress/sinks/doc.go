// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and a terminal progress bar. Each satisfies progress.Sink.
package sinks
