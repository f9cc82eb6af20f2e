// Package sinks implements progress consumers for Prometheus, the resolution
// repository and structured logs.
package sinks
