// Package metrics defines the Prometheus instrumentation for recordings,
// uploads and the local control API.
package metrics
