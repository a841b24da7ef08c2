// Package metrics provides a cached OpenTelemetry instrument factory and the
// counters recorded by the transfer engine.
package metrics
