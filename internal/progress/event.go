// Package progress defines the lifecycle events emitted by a migration run.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes which lifecycle milestone an Event represents.
type Kind string

// Supported event kinds.
const (
	KindRunStarted      Kind = "RUN_STARTED"
	KindItemStarted     Kind = "ITEM_STARTED"
	KindRecordProcessed Kind = "RECORD_PROCESSED"
	KindItemEnded       Kind = "ITEM_ENDED"
	KindRunEnded        Kind = "RUN_ENDED"
)

// Event is one lifecycle milestone submitted by the producer. The set of
// implementations is closed; use a type switch to inspect the payload.
type Event interface {
	// Kind reports the milestone type.
	Kind() Kind
	// OccurredAt returns the producer-supplied wall clock time.
	OccurredAt() time.Time
	// Validate performs coarse payload validation.
	Validate() error

	sealed()
}

// ItemDescriptor describes one unit of work within a run. It is carried
// unchanged through the item's events.
type ItemDescriptor struct {
	// Name is the human readable label (e.g. "Customers").
	Name string
	// Description optionally explains what the item does.
	Description string
	// RecordCount is the number of records the item will process.
	RecordCount uint
	// RegisteredNumber is the item's registration ordinal; zero when unknown.
	RegisteredNumber uint
}

// RunStarted opens a new run and supersedes any previous one.
type RunStarted struct {
	PreviousVersion string
	CurrentVersion  string
	TotalItems      uint
	Time            time.Time
}

// ItemStarted opens the next item of the current run.
type ItemStarted struct {
	Item ItemDescriptor
	Time time.Time
}

// RecordProcessed counts one record against the currently open item.
type RecordProcessed struct {
	Time time.Time
}

// ItemEnded closes the currently open item.
type ItemEnded struct {
	Time time.Time
}

// RunEnded closes the current run.
type RunEnded struct {
	Time time.Time
}

var errTimestampRequired = errors.New("timestamp is required")

// Kind implements Event.
func (RunStarted) Kind() Kind { return KindRunStarted }

// OccurredAt implements Event.
func (e RunStarted) OccurredAt() time.Time { return e.Time }

// Validate implements Event.
func (e RunStarted) Validate() error {
	if e.Time.IsZero() {
		return errTimestampRequired
	}
	return nil
}

func (RunStarted) sealed() {}

// Kind implements Event.
func (ItemStarted) Kind() Kind { return KindItemStarted }

// OccurredAt implements Event.
func (e ItemStarted) OccurredAt() time.Time { return e.Time }

// Validate implements Event.
func (e ItemStarted) Validate() error {
	if e.Time.IsZero() {
		return errTimestampRequired
	}
	if e.Item.Name == "" {
		return errors.New("item name is required")
	}
	return nil
}

func (ItemStarted) sealed() {}

// Kind implements Event.
func (RecordProcessed) Kind() Kind { return KindRecordProcessed }

// OccurredAt implements Event.
func (e RecordProcessed) OccurredAt() time.Time { return e.Time }

// Validate implements Event.
func (e RecordProcessed) Validate() error {
	if e.Time.IsZero() {
		return errTimestampRequired
	}
	return nil
}

func (RecordProcessed) sealed() {}

// Kind implements Event.
func (ItemEnded) Kind() Kind { return KindItemEnded }

// OccurredAt implements Event.
func (e ItemEnded) OccurredAt() time.Time { return e.Time }

// Validate implements Event.
func (e ItemEnded) Validate() error {
	if e.Time.IsZero() {
		return errTimestampRequired
	}
	return nil
}

func (ItemEnded) sealed() {}

// Kind implements Event.
func (RunEnded) Kind() Kind { return KindRunEnded }

// OccurredAt implements Event.
func (e RunEnded) OccurredAt() time.Time { return e.Time }

// Validate implements Event.
func (e RunEnded) Validate() error {
	if e.Time.IsZero() {
		return errTimestampRequired
	}
	return nil
}

func (RunEnded) sealed() {}

// Describe renders a short label for logs.
func Describe(evt Event) string {
	if evt == nil {
		return "<nil>"
	}
	switch e := evt.(type) {
	case ItemStarted:
		return fmt.Sprintf("%s(%s, records=%d)", e.Kind(), e.Item.Name, e.Item.RecordCount)
	case RunStarted:
		return fmt.Sprintf("%s(%s->%s, items=%d)", e.Kind(), e.PreviousVersion, e.CurrentVersion, e.TotalItems)
	default:
		return string(evt.Kind())
	}
}
