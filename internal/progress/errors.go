package progress

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessorClosed is returned by Submit once shutdown has begun.
	ErrProcessorClosed = errors.New("progress processor closed")
	// ErrInvariantViolation matches every *InvariantError via errors.Is.
	ErrInvariantViolation = errors.New("progress invariant violation")
)

// Invariant names the rule an event broke.
type Invariant string

// Invariants enforced while applying events.
const (
	InvariantInvalidEvent        Invariant = "invalid_event"
	InvariantRunNotOpen          Invariant = "run_not_open"
	InvariantItemStillOpen       Invariant = "item_still_open"
	InvariantItemsExhausted      Invariant = "items_exhausted"
	InvariantNoOpenItem          Invariant = "no_open_item"
	InvariantRecordOverflow      Invariant = "record_overflow"
	InvariantRecordsUnreconciled Invariant = "records_unreconciled"
	InvariantItemsUnreconciled   Invariant = "items_unreconciled"
	InvariantTimeRegression      Invariant = "time_regression"
)

// InvariantError reports an event rejected because it contradicts the
// committed snapshot. It is a producer contract error, not a transient one.
type InvariantError struct {
	// Event is the kind of the rejected event.
	Event Kind
	// Invariant names the broken rule.
	Invariant Invariant
	// Completed and Total carry the counters relevant to the rule (records
	// for item rules, items for run rules).
	Completed uint
	Total     uint
	// Detail adds free-form context such as the item name.
	Detail string
}

func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("%s rejected: %s (completed %d of %d)", e.Event, e.Invariant, e.Completed, e.Total)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is lets errors.Is(err, ErrInvariantViolation) match.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariantViolation
}

func violation(kind Kind, inv Invariant, completed, total uint, detail string) *InvariantError {
	return &InvariantError{
		Event:     kind,
		Invariant: inv,
		Completed: completed,
		Total:     total,
		Detail:    detail,
	}
}
