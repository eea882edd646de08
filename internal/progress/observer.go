package progress

import "context"

// Observer receives every committed event together with the snapshot that
// resulted from it. Calls for one observer never overlap and arrive in
// submission order. A call that outlives its ctx deadline is abandoned, and
// the observer misses events until it returns. Implementations should honor
// ctx and perform any UI or device specific dispatch themselves. Returned errors are
// logged by the processor and never reach other observers or the producer.
type Observer interface {
	Observe(ctx context.Context, evt Event, snap Snapshot) error
}

// Closer is implemented by observers that hold resources. The processor
// calls Close once after draining pending events during shutdown.
type Closer interface {
	Close(ctx context.Context) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, evt Event, snap Snapshot) error

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, evt Event, snap Snapshot) error {
	return f(ctx, evt, snap)
}

// Submitter accepts events from a producer; Processor satisfies this
// interface so workloads can remain agnostic about how events are applied.
type Submitter interface {
	Submit(evt Event) error
}

// IDGenerator mints correlation ids for new runs.
type IDGenerator interface {
	NewID() (string, error)
}
