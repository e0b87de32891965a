// Package metrics exposes Prometheus metrics for sessions, segments,
// decodes, and wake word detection.
package metrics
