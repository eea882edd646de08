package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type notification struct {
	kind Kind
	snap Snapshot
}

type recordingObserver struct {
	mu      sync.Mutex
	seen    []notification
	closed  atomic.Bool
	active  atomic.Int32
	overlap atomic.Bool
}

func (r *recordingObserver) Observe(_ context.Context, evt Event, snap Snapshot) error {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, notification{kind: evt.Kind(), snap: snap})
	return nil
}

func (r *recordingObserver) Close(context.Context) error {
	r.closed.Store(true)
	return nil
}

func (r *recordingObserver) Seen() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.seen...)
}

type staticIDs string

func (s staticIDs) NewID() (string, error) { return string(s), nil }

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func twoItemRun() []Event {
	return []Event{
		RunStarted{PreviousVersion: "1.0", CurrentVersion: "2.0", TotalItems: 2, Time: at(0)},
		ItemStarted{Item: ItemDescriptor{Name: "A", RecordCount: 2}, Time: at(1)},
		RecordProcessed{Time: at(2)},
		RecordProcessed{Time: at(3)},
		ItemEnded{Time: at(4)},
		ItemStarted{Item: ItemDescriptor{Name: "B", RecordCount: 1}, Time: at(5)},
		RecordProcessed{Time: at(6)},
		ItemEnded{Time: at(7)},
		RunEnded{Time: at(8)},
	}
}

// TestProcessorDeliversInSubmissionOrder ensures every observer sees events in order with monotonically increasing sequences.
func TestProcessorDeliversInSubmissionOrder(t *testing.T) {
	t.Parallel()

	first := &recordingObserver{}
	second := &recordingObserver{}
	proc := NewProcessor(Config{IDs: staticIDs("corr-1")}, first, second)

	events := twoItemRun()
	for _, evt := range events {
		require.NoError(t, proc.Submit(evt))
	}
	require.NoError(t, proc.Close(context.Background()))

	for _, obs := range []*recordingObserver{first, second} {
		seen := obs.Seen()
		require.Len(t, seen, len(events))
		for i, n := range seen {
			require.Equal(t, events[i].Kind(), n.kind)
			require.Equal(t, uint64(i+1), n.snap.Sequence)
			require.Equal(t, "corr-1", n.snap.CorrelationID)
		}
		require.True(t, obs.closed.Load())
	}

	final := proc.Snapshot()
	require.Equal(t, uint(2), final.CompletedItems)
	require.Equal(t, final.TotalItems, final.CompletedItems)
	require.False(t, proc.Compromised())
	require.Zero(t, proc.Violations())
}

// TestProcessorSerializesConcurrentProducers verifies no two events are applied simultaneously.
func TestProcessorSerializesConcurrentProducers(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	proc := NewProcessor(Config{}, obs)
	require.NoError(t, proc.Submit(RunStarted{TotalItems: 1, Time: at(0)}))
	require.NoError(t, proc.Submit(ItemStarted{Item: ItemDescriptor{Name: "bulk", RecordCount: 400}, Time: at(1)}))

	const producers = 8
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				require.NoError(t, proc.Submit(RecordProcessed{Time: at(2)}))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, proc.Close(context.Background()))

	require.False(t, obs.overlap.Load())
	seen := obs.Seen()
	require.Len(t, seen, 2+producers*50)
	for i, n := range seen {
		require.Equal(t, uint64(i+1), n.snap.Sequence)
	}
	require.Equal(t, uint(400), proc.Snapshot().CompletedItemRecords)
}

// TestProcessorRejectsInvariantViolations covers the partial item scenario.
func TestProcessorRejectsInvariantViolations(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	obs := &recordingObserver{}
	var hooked []*InvariantError
	proc := NewProcessor(Config{
		Logger: zap.New(core),
		OnViolation: func(_ Event, err *InvariantError) {
			hooked = append(hooked, err)
		},
	}, obs)

	require.NoError(t, proc.Submit(RunStarted{TotalItems: 1, Time: at(0)}))
	require.NoError(t, proc.Submit(ItemStarted{Item: ItemDescriptor{Name: "C", RecordCount: 3}, Time: at(1)}))
	require.NoError(t, proc.Submit(RecordProcessed{Time: at(2)}))
	require.NoError(t, proc.Submit(RecordProcessed{Time: at(3)}))
	require.NoError(t, proc.Submit(ItemEnded{Time: at(4)}))
	require.NoError(t, proc.Close(context.Background()))

	snap := proc.Snapshot()
	require.Equal(t, uint(2), snap.CompletedItemRecords)
	require.True(t, snap.ItemOpen())
	require.Len(t, obs.Seen(), 4)
	require.Equal(t, int64(1), proc.Violations())
	require.True(t, proc.Compromised())

	require.Len(t, hooked, 1)
	require.Equal(t, InvariantRecordsUnreconciled, hooked[0].Invariant)

	entries := logs.FilterMessage("progress invariant violation").All()
	require.Len(t, entries, 1)
	require.Equal(t, "records_unreconciled", entries[0].ContextMap()["invariant"])
}

func TestProcessorCompromisedResetsOnNewRun(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(Config{})
	require.NoError(t, proc.Submit(RunEnded{Time: at(0)}))
	require.NoError(t, proc.Submit(RunStarted{TotalItems: 0, Time: at(1)}))
	require.NoError(t, proc.Close(context.Background()))

	require.Equal(t, int64(1), proc.Violations())
	require.False(t, proc.Compromised())
}

// TestProcessorIsolatesObserverFailures ensures errors and panics in one observer do not starve the others.
func TestProcessorIsolatesObserverFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	failing := ObserverFunc(func(context.Context, Event, Snapshot) error {
		return errors.New("transport down")
	})
	panicking := ObserverFunc(func(context.Context, Event, Snapshot) error {
		panic("boom")
	})
	healthy := &recordingObserver{}
	proc := NewProcessor(Config{Logger: zap.New(core)}, failing, panicking, healthy)

	require.NoError(t, proc.Submit(RunStarted{TotalItems: 0, Time: at(0)}))
	require.NoError(t, proc.Submit(RunEnded{Time: at(1)}))
	require.NoError(t, proc.Close(context.Background()))

	require.Len(t, healthy.Seen(), 2)
	require.Len(t, logs.FilterMessage("progress observer failed").All(), 4)
}

func TestProcessorObserverDeadline(t *testing.T) {
	t.Parallel()

	var sawDeadline atomic.Bool
	obs := ObserverFunc(func(ctx context.Context, _ Event, _ Snapshot) error {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		<-ctx.Done()
		return ctx.Err()
	})
	proc := NewProcessor(Config{ObserverTimeout: 10 * time.Millisecond}, obs)
	require.NoError(t, proc.Submit(RunStarted{Time: at(0)}))
	require.NoError(t, proc.Close(context.Background()))
	require.True(t, sawDeadline.Load())
}

// TestProcessorAbandonsObserverIgnoringContext ensures an observer that never
// honors its deadline does not hold back the observers registered after it.
func TestProcessorAbandonsObserverIgnoringContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	stuck := ObserverFunc(func(context.Context, Event, Snapshot) error {
		calls.Add(1)
		<-release
		return nil
	})
	next := &recordingObserver{}
	core, logs := observer.New(zap.WarnLevel)
	proc := NewProcessor(Config{ObserverTimeout: 10 * time.Millisecond, Logger: zap.New(core)}, stuck, next)

	for _, evt := range twoItemRun() {
		require.NoError(t, proc.Submit(evt))
	}
	require.Eventually(t, func() bool {
		return len(next.Seen()) == len(twoItemRun())
	}, 2*time.Second, 5*time.Millisecond)

	// The stuck call is abandoned once and every later event skips it.
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, int64(1), proc.ObserverTimeouts())
	require.Equal(t, int64(len(twoItemRun())-1), proc.SkippedNotifications())
	require.Len(t, logs.FilterMessage("progress observer timed out; call abandoned").All(), 1)

	close(release)
	require.NoError(t, proc.Close(context.Background()))
	require.Equal(t, uint(2), proc.Snapshot().CompletedItems)
}

// TestProcessorResumesObserverAfterAbandonedCallReturns verifies a slow observer
// receives notifications again once its abandoned call finishes.
func TestProcessorResumesObserverAfterAbandonedCallReturns(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var (
		mu    sync.Mutex
		kinds []Kind
	)
	slow := ObserverFunc(func(_ context.Context, evt Event, _ Snapshot) error {
		if evt.Kind() == KindRunStarted {
			<-release
		}
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, evt.Kind())
		return nil
	})
	proc := NewProcessor(Config{ObserverTimeout: 10 * time.Millisecond}, slow)

	require.NoError(t, proc.Submit(RunStarted{TotalItems: 0, Time: at(0)}))
	require.Eventually(t, func() bool { return proc.ObserverTimeouts() == 1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	require.Eventually(t, func() bool {
		return !proc.currentObservers()[0].busy.Load()
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, proc.Submit(RunEnded{Time: at(1)}))
	require.NoError(t, proc.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Kind{KindRunStarted, KindRunEnded}, kinds)
	require.Zero(t, proc.SkippedNotifications())
}

// TestProcessorSubmitNonBlocking asserts Submit returns promptly while an observer is stalled.
func TestProcessorSubmitNonBlocking(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	stalled := ObserverFunc(func(context.Context, Event, Snapshot) error {
		<-release
		return nil
	})
	proc := NewProcessor(Config{}, stalled)
	require.NoError(t, proc.Submit(RunStarted{TotalItems: 1, Time: at(0)}))

	start := time.Now()
	require.NoError(t, proc.Submit(ItemStarted{Item: ItemDescriptor{Name: "A", RecordCount: 1000}, Time: at(1)}))
	for i := 0; i < 1000; i++ {
		require.NoError(t, proc.Submit(RecordProcessed{Time: at(2)}))
	}
	require.Less(t, time.Since(start), time.Second)

	close(release)
	require.NoError(t, proc.Close(context.Background()))
	require.Equal(t, uint(1000), proc.Snapshot().CompletedItemRecords)
}

func TestProcessorSubmitAfterClose(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(Config{})
	require.NoError(t, proc.Close(context.Background()))
	require.ErrorIs(t, proc.Submit(RunStarted{Time: at(0)}), ErrProcessorClosed)
	require.NoError(t, proc.Close(context.Background()))
}

func TestProcessorCloseHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	blocked := ObserverFunc(func(context.Context, Event, Snapshot) error {
		<-release
		return nil
	})
	proc := NewProcessor(Config{}, blocked)
	require.NoError(t, proc.Submit(RunStarted{Time: at(0)}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := proc.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessorRegisterMidRun(t *testing.T) {
	t.Parallel()

	early := &recordingObserver{}
	proc := NewProcessor(Config{}, early)
	require.NoError(t, proc.Submit(RunStarted{TotalItems: 0, Time: at(0)}))
	require.Eventually(t, func() bool {
		return len(early.Seen()) == 1
	}, time.Second, 5*time.Millisecond)

	late := &recordingObserver{}
	proc.Register(late)
	require.NoError(t, proc.Submit(RunEnded{Time: at(1)}))
	require.NoError(t, proc.Close(context.Background()))

	require.Len(t, early.Seen(), 2)
	require.Len(t, late.Seen(), 1)
	require.Equal(t, KindRunEnded, late.Seen()[0].kind)
}

func TestProcessorCorrelationIDFallback(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(Config{IDs: failingIDs{}})
	require.NoError(t, proc.Submit(RunStarted{Time: at(0)}))
	require.NoError(t, proc.Close(context.Background()))
	require.NotEmpty(t, proc.Snapshot().CorrelationID)
}

func TestProcessorObserversGetIndependentCopies(t *testing.T) {
	t.Parallel()

	mutator := ObserverFunc(func(_ context.Context, _ Event, snap Snapshot) error {
		if snap.CurrentItem != nil {
			snap.CurrentItem.Name = "tampered"
		}
		return nil
	})
	obs := &recordingObserver{}
	proc := NewProcessor(Config{}, mutator, obs)
	require.NoError(t, proc.Submit(RunStarted{TotalItems: 1, Time: at(0)}))
	require.NoError(t, proc.Submit(ItemStarted{Item: ItemDescriptor{Name: "A", RecordCount: 1}, Time: at(1)}))
	require.NoError(t, proc.Close(context.Background()))

	seen := obs.Seen()
	require.Len(t, seen, 2)
	require.Equal(t, "A", seen[1].snap.CurrentItem.Name)
	require.Equal(t, "A", proc.Snapshot().CurrentItem.Name)
}

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()

	limiter := rateLimiter{interval: time.Second}
	now := time.Unix(100, 0)
	require.True(t, limiter.Allow(now))
	require.False(t, limiter.Allow(now.Add(500*time.Millisecond)))
	require.True(t, limiter.Allow(now.Add(2*time.Second)))
	require.True(t, (&rateLimiter{}).Allow(now))
}
