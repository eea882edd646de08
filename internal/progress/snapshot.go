package progress

import "time"

// RunDescriptor identifies one run. It is fixed when RunStarted is applied.
type RunDescriptor struct {
	PreviousVersion string
	CurrentVersion  string
	TotalItems      uint
	// CorrelationID joins every telemetry record of the run.
	CorrelationID string
}

// Snapshot is the aggregate progress state after a committed event. Zero
// timestamps and empty strings mean "not set". Only the processor mutates
// its own copy; observers receive clones.
type Snapshot struct {
	RunStartTime time.Time
	RunEndTime   time.Time

	TotalItems     uint
	CompletedItems uint

	// CurrentItem is non-nil exactly while an item is open.
	CurrentItem *ItemDescriptor
	// LastItem is the most recently started item and survives ItemEnded.
	LastItem *ItemDescriptor

	ItemStartTime time.Time
	ItemEndTime   time.Time

	TotalItemRecords     uint
	CompletedItemRecords uint

	PreviousVersion string
	CurrentVersion  string
	CorrelationID   string

	// Sequence counts committed events.
	Sequence uint64
}

// CurrentItemOrdinal returns the 1-based position of the in-flight (or just
// finished) item.
func (s Snapshot) CurrentItemOrdinal() uint {
	if s.CompletedItems == s.TotalItems {
		return s.CompletedItems
	}
	return s.CompletedItems + 1
}

// Run returns the descriptor of the current run, if one has started.
func (s Snapshot) Run() (RunDescriptor, bool) {
	if s.RunStartTime.IsZero() {
		return RunDescriptor{}, false
	}
	return RunDescriptor{
		PreviousVersion: s.PreviousVersion,
		CurrentVersion:  s.CurrentVersion,
		TotalItems:      s.TotalItems,
		CorrelationID:   s.CorrelationID,
	}, true
}

// RunOpen reports whether a run has started and not yet ended.
func (s Snapshot) RunOpen() bool {
	return !s.RunStartTime.IsZero() && s.RunEndTime.IsZero()
}

// ItemOpen reports whether an item is in progress.
func (s Snapshot) ItemOpen() bool {
	return s.CurrentItem != nil
}

// Clone returns a deep copy that shares no pointers with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.CurrentItem != nil {
		item := *s.CurrentItem
		out.CurrentItem = &item
	}
	if s.LastItem != nil {
		item := *s.LastItem
		out.LastItem = &item
	}
	return out
}

// Apply returns the snapshot that results from evt, or an *InvariantError
// when evt contradicts s. The receiver is never modified. correlationID is
// consulted only for RunStarted.
func (s Snapshot) Apply(evt Event, correlationID string) (Snapshot, error) {
	if evt == nil {
		return s, violation("", InvariantInvalidEvent, 0, 0, "nil event")
	}
	if err := evt.Validate(); err != nil {
		return s, violation(evt.Kind(), InvariantInvalidEvent, 0, 0, err.Error())
	}
	next := s.Clone()
	var err *InvariantError
	switch e := evt.(type) {
	case RunStarted:
		next.startRun(e, correlationID)
	case ItemStarted:
		err = next.startItem(e)
	case RecordProcessed:
		err = next.recordProcessed()
	case ItemEnded:
		err = next.endItem(e)
	case RunEnded:
		err = next.endRun(e)
	default:
		err = violation(evt.Kind(), InvariantInvalidEvent, 0, 0, "unsupported event type")
	}
	if err != nil {
		return s, err
	}
	next.Sequence++
	return next, nil
}

func (s *Snapshot) startRun(e RunStarted, correlationID string) {
	s.PreviousVersion = e.PreviousVersion
	s.CurrentVersion = e.CurrentVersion
	s.TotalItems = e.TotalItems
	s.CompletedItems = 0
	s.CorrelationID = correlationID
	s.RunStartTime = e.Time
	s.RunEndTime = time.Time{}

	s.CurrentItem = nil
	s.LastItem = nil
	s.ItemStartTime = time.Time{}
	s.ItemEndTime = time.Time{}
	s.TotalItemRecords = 0
	s.CompletedItemRecords = 0
}

func (s *Snapshot) startItem(e ItemStarted) *InvariantError {
	if s.CurrentItem != nil {
		return violation(e.Kind(), InvariantItemStillOpen,
			s.CompletedItemRecords, s.TotalItemRecords, "item "+s.CurrentItem.Name+" was never ended")
	}
	if !s.RunOpen() {
		return violation(e.Kind(), InvariantRunNotOpen, s.CompletedItems, s.TotalItems, e.Item.Name)
	}
	if s.CompletedItems >= s.TotalItems {
		return violation(e.Kind(), InvariantItemsExhausted, s.CompletedItems, s.TotalItems, e.Item.Name)
	}
	item := e.Item
	s.CurrentItem = &item
	last := e.Item
	s.LastItem = &last
	s.ItemStartTime = e.Time
	s.ItemEndTime = time.Time{}
	s.TotalItemRecords = e.Item.RecordCount
	s.CompletedItemRecords = 0
	return nil
}

func (s *Snapshot) recordProcessed() *InvariantError {
	if s.CurrentItem == nil {
		return violation(KindRecordProcessed, InvariantNoOpenItem, s.CompletedItemRecords, s.TotalItemRecords, "")
	}
	if s.CompletedItemRecords >= s.TotalItemRecords {
		return violation(KindRecordProcessed, InvariantRecordOverflow,
			s.CompletedItemRecords, s.TotalItemRecords, s.CurrentItem.Name)
	}
	s.CompletedItemRecords++
	return nil
}

func (s *Snapshot) endItem(e ItemEnded) *InvariantError {
	if s.CurrentItem == nil {
		return violation(e.Kind(), InvariantNoOpenItem, s.CompletedItemRecords, s.TotalItemRecords, "")
	}
	if s.CompletedItemRecords != s.TotalItemRecords {
		return violation(e.Kind(), InvariantRecordsUnreconciled,
			s.CompletedItemRecords, s.TotalItemRecords, s.CurrentItem.Name)
	}
	if e.Time.Before(s.ItemStartTime) {
		return violation(e.Kind(), InvariantTimeRegression,
			s.CompletedItemRecords, s.TotalItemRecords, "item ended before it started")
	}
	s.ItemEndTime = e.Time
	s.CompletedItems++
	s.CurrentItem = nil
	return nil
}

func (s *Snapshot) endRun(e RunEnded) *InvariantError {
	if !s.RunOpen() {
		return violation(e.Kind(), InvariantRunNotOpen, s.CompletedItems, s.TotalItems, "")
	}
	if s.CompletedItems != s.TotalItems {
		return violation(e.Kind(), InvariantItemsUnreconciled, s.CompletedItems, s.TotalItems, "")
	}
	if e.Time.Before(s.RunStartTime) {
		return violation(e.Kind(), InvariantTimeRegression,
			s.CompletedItems, s.TotalItems, "run ended before it started")
	}
	s.RunEndTime = e.Time
	return nil
}
