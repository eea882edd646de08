package analytics

import (
	"strconv"
	"time"

	"github.com/JakeFAU/migration-progress/internal/progress"
)

// Record is one analytics event ready to ship to the collector.
type Record struct {
	EventType  string            `json:"event_type"`
	Attributes map[string]string `json:"attributes"`
}

// MessageAttributes exposes routing metadata to transports that support it.
func (r Record) MessageAttributes() map[string]string {
	attrs := map[string]string{"event_type": r.EventType}
	if id := r.Attributes[AttrCorrelationID]; id != "" {
		attrs[AttrCorrelationID] = id
	}
	return attrs
}

// Build maps a committed event and its resulting snapshot to a Record.
// RecordProcessed produces no record and reports false. Timestamps missing
// from the snapshot are replaced by now. Build has no side effects, so the
// same inputs always yield the same attributes.
func Build(evt progress.Event, snap progress.Snapshot, now time.Time) (Record, bool) {
	var (
		eventType string
		attrs     map[string]string
	)

	switch evt.Kind() {
	case progress.KindRunStarted:
		eventType = RunStart
		attrs = map[string]string{
			AttrStartTime:      formatTime(snap.RunStartTime, now),
			AttrItemsToMigrate: formatUint(snap.TotalItems),
		}
	case progress.KindRunEnded:
		eventType = RunFail
		if snap.CompletedItems == snap.TotalItems {
			eventType = RunSuccess
		}
		attrs = map[string]string{
			AttrEndTime:        formatTime(snap.RunEndTime, now),
			AttrItemsToMigrate: formatUint(snap.TotalItems),
			AttrItemsMigrated:  formatUint(snap.CompletedItems),
		}
	case progress.KindItemStarted:
		eventType = ItemStart
		attrs = map[string]string{
			AttrStartTime:        formatTime(snap.ItemStartTime, now),
			AttrRecordsToMigrate: formatUint(snap.TotalItemRecords),
		}
		addItem(attrs, itemOf(evt, snap))
	case progress.KindItemEnded:
		eventType = ItemFail
		if snap.CompletedItemRecords == snap.TotalItemRecords {
			eventType = ItemSuccess
		}
		attrs = map[string]string{
			AttrEndTime:          formatTime(snap.ItemEndTime, now),
			AttrRecordsToMigrate: formatUint(snap.TotalItemRecords),
			AttrRecordsMigrated:  formatUint(snap.CompletedItemRecords),
		}
		addItem(attrs, snap.LastItem)
	default:
		return Record{}, false
	}

	// Common attributes win over event specific ones.
	attrs[AttrOriginalAppVersion] = snap.PreviousVersion
	attrs[AttrNewAppVersion] = snap.CurrentVersion
	attrs[AttrCorrelationID] = snap.CorrelationID

	return Record{EventType: eventType, Attributes: attrs}, true
}

func itemOf(evt progress.Event, snap progress.Snapshot) *progress.ItemDescriptor {
	if snap.CurrentItem != nil {
		return snap.CurrentItem
	}
	if e, ok := evt.(progress.ItemStarted); ok {
		return &e.Item
	}
	return nil
}

func addItem(attrs map[string]string, item *progress.ItemDescriptor) {
	if item == nil {
		attrs[AttrItemName] = ""
		return
	}
	attrs[AttrItemName] = item.Name
	if item.RegisteredNumber != 0 {
		attrs[AttrItemRegisteredNumber] = formatUint(item.RegisteredNumber)
	}
}

func formatTime(t, now time.Time) string {
	if t.IsZero() {
		t = now
	}
	return t.UTC().Format(TimeLayout)
}

func formatUint(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
