// Package analytics translates committed progress events into named,
// attributed records for an external analytics collector.
//
// Event type names and attribute keys form a contract with the collector and
// must not change without versioning.
package analytics

import "strings"

// Node is one segment of a dotted event type name.
type Node string

// Event type segments.
const (
	NodeRegisterMigration Node = "register_migration"
	NodeItem              Node = "item"
	NodeStart             Node = "start"
	NodeSuccess           Node = "success"
	NodeFail              Node = "fail"
)

// Attribute keys understood by the collector.
const (
	AttrOriginalAppVersion   = "original_app_version"
	AttrNewAppVersion        = "new_app_version"
	AttrCorrelationID        = "correlation_id"
	AttrStartTime            = "start_time"
	AttrEndTime              = "end_time"
	AttrItemsToMigrate       = "items_to_migrate"
	AttrItemsMigrated        = "items_migrated"
	AttrItemName             = "item_name"
	AttrItemRegisteredNumber = "item_registered_number"
	AttrRecordsToMigrate     = "records_to_migrate"
	AttrRecordsMigrated      = "records_migrated"
)

// TimeLayout formats every timestamp attribute. Values are rendered in UTC.
const TimeLayout = "Monday, January 2, 2006 15:04:05 UTC"

// Event type names emitted by Build.
var (
	RunStart    = EventType(NodeRegisterMigration, NodeStart)
	RunSuccess  = EventType(NodeRegisterMigration, NodeSuccess)
	RunFail     = EventType(NodeRegisterMigration, NodeFail)
	ItemStart   = EventType(NodeRegisterMigration, NodeItem, NodeStart)
	ItemSuccess = EventType(NodeRegisterMigration, NodeItem, NodeSuccess)
	ItemFail    = EventType(NodeRegisterMigration, NodeItem, NodeFail)
)

// EventType joins nodes into a dotted event type name.
func EventType(nodes ...Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = string(n)
	}
	return strings.Join(parts, ".")
}
