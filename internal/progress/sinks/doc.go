// Package sinks implements progress consumers: Prometheus collectors,
// structured logging, and an in-memory run statistics snapshot. Each sink
// satisfies progress.Sink and tolerates repeated Consume/Close cycles.
package sinks
