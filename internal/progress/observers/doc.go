// Package observers implements concrete progress observers: structured
// logging, Prometheus metrics, run history persistence, and a terminal
// display. Each satisfies progress.Observer and is invoked serially by the
// processor's worker.
package observers
