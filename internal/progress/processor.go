package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	idgen "github.com/JakeFAU/migration-progress/internal/id/uuid"
)

// Config controls observer dispatch for the Processor.
//   - ObserverTimeout: deadline applied to each observer call (default 5s). A
//     call still running at the deadline is abandoned and that observer is
//     skipped until it returns.
//   - BaseContext: parent context passed to observer calls (defaults to context.Background()).
//   - Logger: optional structured logger used for violations and observer failures.
//   - IDs: correlation id generator for new runs (defaults to UUIDv7).
//   - OnViolation: optional hook invoked from the worker for every rejected event.
type Config struct {
	ObserverTimeout time.Duration
	BaseContext     context.Context
	Logger          *zap.Logger
	IDs             IDGenerator
	OnViolation     func(evt Event, err *InvariantError)
}

const (
	defaultObserverTimeout = 5 * time.Second
	slowLogInterval        = 5 * time.Second
)

// Processor serializes submitted events onto a single worker goroutine that
// applies them to the Snapshot and notifies observers. Submit is safe for
// concurrent use and never blocks on downstream processing; the queue is
// bounded only by memory.
type Processor struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	pending []Event
	closed  bool
	wake    chan struct{}

	obsMu     sync.RWMutex
	observers []*observerSlot

	// state is owned by the worker goroutine.
	state  Snapshot
	latest atomic.Pointer[Snapshot]

	violations    atomic.Int64
	runViolations atomic.Int64
	timeouts      atomic.Int64
	skipped       atomic.Int64
	slowLimiter   rateLimiter

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewProcessor initializes a Processor and starts its worker goroutine. The
// observers are notified in the order given.
func NewProcessor(cfg Config, observers ...Observer) *Processor {
	if cfg.ObserverTimeout <= 0 {
		cfg.ObserverTimeout = defaultObserverTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.NewUUIDGenerator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		cfg:         cfg,
		logger:      logger,
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		slowLimiter: rateLimiter{interval: slowLogInterval},
	}
	for _, obs := range observers {
		if obs != nil {
			p.observers = append(p.observers, &observerSlot{obs: obs})
		}
	}
	go p.run()
	return p
}

// Register appends an observer. Observers added mid-run start receiving
// notifications from the next event the worker applies.
func (p *Processor) Register(obs Observer) {
	if obs == nil {
		return
	}
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	next := make([]*observerSlot, 0, len(p.observers)+1)
	next = append(next, p.observers...)
	p.observers = append(next, &observerSlot{obs: obs})
}

// Submit enqueues an event for the worker. It returns ErrProcessorClosed once
// Close has been called; otherwise it always accepts the event.
func (p *Processor) Submit(evt Event) error {
	if p == nil {
		return ErrProcessorClosed
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProcessorClosed
	}
	p.pending = append(p.pending, evt)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Snapshot returns a copy of the most recently committed snapshot.
func (p *Processor) Snapshot() Snapshot {
	latest := p.latest.Load()
	if latest == nil {
		return Snapshot{}
	}
	return latest.Clone()
}

// Violations returns how many events have been rejected since construction.
func (p *Processor) Violations() int64 {
	return p.violations.Load()
}

// ObserverTimeouts returns how many observer calls were abandoned at their
// deadline.
func (p *Processor) ObserverTimeouts() int64 {
	return p.timeouts.Load()
}

// SkippedNotifications returns how many notifications were not delivered
// because the observer was still busy with an abandoned call.
func (p *Processor) SkippedNotifications() int64 {
	return p.skipped.Load()
}

// Compromised reports whether the current run has had any event rejected.
// The flag resets when a new run starts.
func (p *Processor) Compromised() bool {
	return p.runViolations.Load() > 0
}

// Close stops accepting events, applies everything already queued, closes
// observers, and blocks until the worker exits. It is safe to call multiple
// times; subsequent calls only wait.
func (p *Processor) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.closeCtx = ctx
		close(p.stopCh)
	})
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress processor close wait: %w", ctx.Err())
	}
}

func (p *Processor) run() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.stopCh:
			p.drain()
			p.closeObservers()
			return
		}
	}
}

func (p *Processor) drain() {
	for {
		batch := p.take()
		if len(batch) == 0 {
			return
		}
		for _, evt := range batch {
			p.apply(evt)
		}
	}
}

func (p *Processor) take() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.pending
	p.pending = nil
	return batch
}

func (p *Processor) apply(evt Event) {
	var correlationID string
	if evt != nil && evt.Kind() == KindRunStarted {
		correlationID = p.newCorrelationID()
	}
	next, err := p.state.Apply(evt, correlationID)
	if err != nil {
		p.reportViolation(evt, err)
		return
	}
	if evt.Kind() == KindRunStarted {
		p.runViolations.Store(0)
	}
	p.state = next
	committed := next.Clone()
	p.latest.Store(&committed)
	p.notify(evt, next)
}

func (p *Processor) newCorrelationID() string {
	id, err := p.cfg.IDs.NewID()
	if err == nil && id != "" {
		return id
	}
	fallback := fmt.Sprintf("run-%d", time.Now().UnixNano())
	p.logger.Warn("correlation id generation failed", zap.Error(err), zap.String("fallback", fallback))
	return fallback
}

func (p *Processor) reportViolation(evt Event, err error) {
	p.violations.Add(1)
	p.runViolations.Add(1)

	var inv *InvariantError
	if !errors.As(err, &inv) {
		p.logger.Error("progress event rejected", zap.Error(err))
		return
	}
	p.logger.Error("progress invariant violation",
		zap.String("event", string(inv.Event)),
		zap.String("invariant", string(inv.Invariant)),
		zap.Uint("completed", inv.Completed),
		zap.Uint("total", inv.Total),
		zap.String("detail", inv.Detail),
		zap.String("correlation_id", p.state.CorrelationID),
	)
	if p.cfg.OnViolation == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("violation hook panicked", zap.Any("panic", r))
		}
	}()
	p.cfg.OnViolation(evt, inv)
}

// observerSlot tracks whether an abandoned call is still running so each
// observer only ever sees one call at a time.
type observerSlot struct {
	obs  Observer
	busy atomic.Bool
}

func (p *Processor) currentObservers() []*observerSlot {
	p.obsMu.RLock()
	defer p.obsMu.RUnlock()
	return p.observers
}

func (p *Processor) notify(evt Event, snap Snapshot) {
	for _, slot := range p.currentObservers() {
		name := fmt.Sprintf("%T", slot.obs)
		if !slot.busy.CompareAndSwap(false, true) {
			p.skipped.Add(1)
			if p.slowLimiter.Allow(time.Now()) {
				p.logger.Warn("progress observer still busy; notification skipped",
					zap.String("event", string(evt.Kind())),
					zap.String("observer", name),
				)
			}
			continue
		}

		ctx, cancel := context.WithTimeout(p.cfg.BaseContext, p.cfg.ObserverTimeout)
		result := make(chan error, 1)
		go func(obs Observer, snap Snapshot) {
			defer slot.busy.Store(false)
			result <- p.observe(ctx, obs, evt, snap)
		}(slot.obs, snap.Clone())

		select {
		case err := <-result:
			if err != nil {
				p.logger.Warn("progress observer failed",
					zap.String("event", string(evt.Kind())),
					zap.String("observer", name),
					zap.Error(err),
				)
			}
		case <-ctx.Done():
			p.timeouts.Add(1)
			p.logger.Warn("progress observer timed out; call abandoned",
				zap.String("event", string(evt.Kind())),
				zap.String("observer", name),
				zap.Duration("timeout", p.cfg.ObserverTimeout),
			)
		}
		cancel()
	}
}

func (p *Processor) observe(ctx context.Context, obs Observer, evt Event, snap Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return obs.Observe(ctx, evt, snap)
}

func (p *Processor) closeObservers() {
	ctx := p.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, slot := range p.currentObservers() {
		closer, ok := slot.obs.(Closer)
		if !ok {
			continue
		}
		if err := closer.Close(ctx); err != nil {
			p.logger.Warn("progress observer close failed", zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
