// Package otel bridges the engine's counter snapshot onto an OpenTelemetry
// meter via observable counters.
package otel
