// Package store defines the tiered store driver interface.
//
// The store is the source of truth for memory records. Drivers expose four
// operation shapes: point CRUD by id/user, a similarity query taking a
// vector plus user filter, threshold, and count, a keyword query for the
// lexical half of hybrid search, and batch updates for tier and importance
// changes. Version-chain flips are transactional per root: ReplaceLatest
// atomically marks superseded records non-latest and inserts their
// replacement, which is what keeps the single-latest invariant intact.
package store

import (
	"context"

	"github.com/justice-rest/intelmem/pkg/memory"
)

// Filters constrain similarity and keyword queries.
type Filters struct {
	// Tiers restricts results to the given tiers when non-empty.
	Tiers []memory.Tier

	// Kinds restricts results to the given kinds when non-empty.
	Kinds []memory.Kind

	// Tags requires at least one of the given tags when non-empty.
	Tags []string

	// IncludeForgotten includes soft-deleted records. Off for retrieval;
	// on only for administrative listings.
	IncludeForgotten bool
}

// SimilarityQuery is a vector search request scoped to one user.
type SimilarityQuery struct {
	UserID    string
	Embedding []float32

	// Threshold is the minimum cosine similarity; matches below it are
	// dropped.
	Threshold float64

	// Limit caps the number of matches returned.
	Limit int

	Filters Filters
}

// Match is a record with its similarity score (cosine, higher = closer).
type Match struct {
	Record *memory.Record
	Score  float64
}

// TierChange is one entry of a batch tier update.
type TierChange struct {
	ID   string
	Tier memory.Tier
}

// ImportanceChange is one entry of a batch importance update. LastDecayedAt
// is advanced alongside so decay stays idempotent within a day.
type ImportanceChange struct {
	ID            string
	Importance    float64
	LastDecayedAt int64 // unix nanos; zero leaves the column untouched
}

// Driver is the tiered store backend contract.
type Driver interface {
	// Insert stores a new record. The record's version chain fields must be
	// populated; inserting a second latest record for an existing root is
	// rejected with memory.ErrInvariantViolation.
	Insert(ctx context.Context, rec *memory.Record) error

	// Get retrieves a record by id. Returns memory.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*memory.Record, error)

	// Update rewrites a record's mutable lifecycle fields (tier, importance,
	// access stats, forgotten flags). Content and chain fields are not
	// updated in place.
	Update(ctx context.Context, rec *memory.Record) error

	// ReplaceLatest atomically marks the superseded record ids non-latest,
	// inserts the replacement record, and stores the given relations. Used
	// by createVersion (one superseded id) and consolidate (a cluster).
	ReplaceLatest(ctx context.Context, supersededIDs []string, rec *memory.Record, rels []memory.Relation) error

	// DeleteChain hard-deletes every version sharing the given root id,
	// along with incoming and outgoing relations.
	DeleteChain(ctx context.Context, rootID string) error

	// DeleteUser hard-deletes every record and relation belonging to a user.
	DeleteUser(ctx context.Context, userID string) error

	// ListActive returns the user's latest, non-forgotten records.
	ListActive(ctx context.Context, userID string) ([]*memory.Record, error)

	// Similar runs a vector similarity query.
	Similar(ctx context.Context, q SimilarityQuery) ([]Match, error)

	// Keyword returns the user's active records whose text contains any of
	// the given terms, scored by the fraction of terms matched.
	Keyword(ctx context.Context, userID string, terms []string, limit int, filters Filters) ([]Match, error)

	// UpdateTiers applies a batch of tier changes.
	UpdateTiers(ctx context.Context, changes []TierChange) error

	// UpdateImportance applies a batch of importance changes.
	UpdateImportance(ctx context.Context, changes []ImportanceChange) error

	// AddRelation stores a directed edge between two records.
	AddRelation(ctx context.Context, rel memory.Relation) error

	// RelationsFor returns edges touching the given record id.
	RelationsFor(ctx context.Context, id string) ([]memory.Relation, error)

	// Close releases driver resources.
	Close() error
}
