// Package simulation drives a mock migration workload through a progress
// submitter so the pipeline can be exercised end to end.
package simulation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/migration-progress/internal/clock"
	"github.com/JakeFAU/migration-progress/internal/clock/system"
	"github.com/JakeFAU/migration-progress/internal/progress"
)

const defaultMaxRecords = 20

// Config controls the mock workload.
type Config struct {
	PreviousVersion string
	CurrentVersion  string
	// Migrations defaults to DefaultCatalogue.
	Migrations []Migration
	// Seed fixes the record counts and delays; zero picks a random seed.
	Seed int64
	// MaxRecords bounds the records per migration (inclusive).
	MaxRecords int
	// MaxDelay bounds the simulated work per record. Zero disables sleeping.
	MaxDelay time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Runner emits the lifecycle events of one mock migration run.
type Runner struct {
	cfg Config
	rng *rand.Rand
}

// NewRunner applies defaults to cfg and seeds the generator.
func NewRunner(cfg Config) *Runner {
	if cfg.Migrations == nil {
		cfg.Migrations = DefaultCatalogue
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultMaxRecords
	}
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Runner{cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Plan returns the items the next Run will process, with record counts
// drawn from the generator.
func (r *Runner) Plan() []progress.ItemDescriptor {
	items := make([]progress.ItemDescriptor, 0, len(r.cfg.Migrations))
	for _, m := range r.cfg.Migrations {
		items = append(items, progress.ItemDescriptor{
			Name:             m.Name,
			Description:      m.Description,
			RecordCount:      uint(r.rng.IntN(r.cfg.MaxRecords + 1)),
			RegisteredNumber: m.RegisteredNumber,
		})
	}
	return items
}

// Run submits RunStarted, every item with its records, and RunEnded. It
// stops early with ctx's error when ctx is cancelled; the run is then left
// open.
func (r *Runner) Run(ctx context.Context, sub progress.Submitter) error {
	items := r.Plan()
	if err := r.submit(sub, progress.RunStarted{
		PreviousVersion: r.cfg.PreviousVersion,
		CurrentVersion:  r.cfg.CurrentVersion,
		TotalItems:      uint(len(items)),
		Time:            r.cfg.Clock.Now(),
	}); err != nil {
		return err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("simulation interrupted: %w", err)
		}
		if err := r.submit(sub, progress.ItemStarted{Item: item, Time: r.cfg.Clock.Now()}); err != nil {
			return err
		}
		for i := uint(0); i < item.RecordCount; i++ {
			if err := r.work(ctx); err != nil {
				return fmt.Errorf("simulation interrupted: %w", err)
			}
			if err := r.submit(sub, progress.RecordProcessed{Time: r.cfg.Clock.Now()}); err != nil {
				return err
			}
		}
		if err := r.submit(sub, progress.ItemEnded{Time: r.cfg.Clock.Now()}); err != nil {
			return err
		}
		r.cfg.Logger.Debug("simulated migration finished",
			zap.Uint("registered_number", item.RegisteredNumber),
			zap.String("name", item.Name),
			zap.Uint("records", item.RecordCount),
		)
	}

	return r.submit(sub, progress.RunEnded{Time: r.cfg.Clock.Now()})
}

// work sleeps for a random fraction of MaxDelay.
func (r *Runner) work(ctx context.Context) error {
	if r.cfg.MaxDelay <= 0 {
		return ctx.Err()
	}
	delay := time.Duration(r.rng.Int64N(int64(r.cfg.MaxDelay)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) submit(sub progress.Submitter, evt progress.Event) error {
	if err := sub.Submit(evt); err != nil {
		return fmt.Errorf("submit %s: %w", evt.Kind(), err)
	}
	return nil
}
