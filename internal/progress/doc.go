// Package progress provides the event model, progress snapshot, and serial
// event processor used to track a migration run. Producers submit lifecycle
// events without blocking; a single background goroutine applies them in
// order to the snapshot and fans the result out to pluggable observers such
// as a terminal display, analytics telemetry, or Prometheus metrics.
package progress
