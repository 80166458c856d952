// Package server implements the local control and status HTTP API for the
// recorder. It exposes health and status, start/stop/reset controls,
// downloads of the last recording and transcript, a WebSocket stream of
// recorder snapshots on /events and Prometheus metrics on /metrics.
package server
