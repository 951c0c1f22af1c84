// Package eventstream defines transport-neutral lifecycle events emitted by
// the memory lifecycle manager. Cache invalidation is modeled as an
// "evict(user)" event rather than ad hoc mutation, so other replicas and
// audit consumers see the same signal the local hot cache does.
package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMemoryCreated is emitted after a new memory root is inserted.
	EventTypeMemoryCreated = "intelmem.memory.created"

	// EventTypeMemoryVersioned is emitted after a new version supersedes an
	// existing record.
	EventTypeMemoryVersioned = "intelmem.memory.versioned"

	// EventTypeMemoryForgotten is emitted after a soft delete.
	EventTypeMemoryForgotten = "intelmem.memory.forgotten"

	// EventTypeMemoryDeleted is emitted after a hard delete.
	EventTypeMemoryDeleted = "intelmem.memory.deleted"

	// EventTypeMemoryConsolidated is emitted after a consolidation merge.
	EventTypeMemoryConsolidated = "intelmem.memory.consolidated"

	// EventTypeCacheEvict signals that a user's hot cache entry is stale.
	EventTypeCacheEvict = "intelmem.cache.evict"
)

// MemoryEvent is a transport-neutral lifecycle event payload.
type MemoryEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	UserID   string `json:"user_id"`
	RecordID string `json:"record_id,omitempty"`
	RootID   string `json:"root_id,omitempty"`

	// MergedIDs lists the superseded records of a consolidation.
	MergedIDs []string `json:"merged_ids,omitempty"`

	// Reason carries the forget reason for forgotten events.
	Reason string `json:"reason,omitempty"`
}
