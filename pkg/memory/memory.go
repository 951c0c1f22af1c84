// Package memory defines the record model shared by the tiered store, the
// lifecycle manager, the hot cache, and the retrieval pipeline.
//
// A Record is a single fact unit about a user. Records are immutable once
// written: an update inserts a new version and flips the previous version's
// IsLatest flag, so a version chain is always a query by RootID, never a
// pointer walk.
package memory

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLen is the maximum stored text length. Longer text is truncated
// at ingestion.
const MaxContentLen = 2000

// Tier classifies a record's storage temperature. Hot records are eligible
// for the in-process cache, cold records are excluded from default retrieval.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Kind classifies what a record describes.
type Kind string

const (
	// KindEpisodic records describe events ("user asked about X yesterday").
	KindEpisodic Kind = "episodic"

	// KindSemantic records describe durable facts ("user works in finance").
	KindSemantic Kind = "semantic"

	// KindProcedural records describe how the user wants things done.
	KindProcedural Kind = "procedural"

	// KindProfile records describe stable identity facts and are always
	// hot-tier eligible.
	KindProfile Kind = "profile"
)

// RelationType names a directed edge between two records.
type RelationType string

const (
	// RelationUpdates links a new version to the version it supersedes.
	RelationUpdates RelationType = "updates"

	// RelationExtends links a record to one it adds detail to.
	RelationExtends RelationType = "extends"

	// RelationDerives links consolidated originals to their merged record.
	RelationDerives RelationType = "derives"
)

// Relation is a directed, weighted edge between two records.
type Relation struct {
	FromID string       `json:"from_id"`
	ToID   string       `json:"to_id"`
	Type   RelationType `json:"type"`

	// Weight carries the similarity or confidence that produced the edge.
	Weight float64 `json:"weight"`
}

// Record is a stored fact unit with content, embedding, and lifecycle
// metadata.
type Record struct {
	// Identity. RootID is the id of the first record in the version chain;
	// ParentID is the previous version (empty for roots). Exactly one record
	// per RootID has IsLatest set.
	ID       string `json:"id"`
	RootID   string `json:"root_id"`
	ParentID string `json:"parent_id,omitempty"`
	Version  int    `json:"version"`
	IsLatest bool   `json:"is_latest"`

	// Ownership and content.
	UserID         string    `json:"user_id"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Kind           Kind      `json:"kind"`
	IsStatic       bool      `json:"is_static"`
	Tags           []string  `json:"tags,omitempty"`

	// Lifecycle.
	Tier           Tier       `json:"tier"`
	Importance     float64    `json:"importance"`
	AccessCount    int        `json:"access_count"`
	AccessVelocity float64    `json:"access_velocity"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	IsForgotten    bool       `json:"is_forgotten"`
	ForgetAfter    *time.Time `json:"forget_after,omitempty"`
	ForgetReason   string     `json:"forget_reason,omitempty"`
	SourceCount    int        `json:"source_count"`
	LastDecayedAt  time.Time  `json:"last_decayed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Priority orders records for cache residency: importance scaled by how
// often the record is being touched.
func (r *Record) Priority() float64 {
	return r.Importance * (1 + r.AccessVelocity)
}

// Active reports whether the record participates in retrieval and
// consolidation: the latest version of its chain and not forgotten.
func (r *Record) Active() bool {
	return r.IsLatest && !r.IsForgotten
}

// Clone returns a deep copy. Cache snapshots hold clones so callers can
// never mutate store-owned state.
func (r *Record) Clone() *Record {
	dup := *r
	if r.Embedding != nil {
		dup.Embedding = make([]float32, len(r.Embedding))
		copy(dup.Embedding, r.Embedding)
	}
	if r.Tags != nil {
		dup.Tags = make([]string, len(r.Tags))
		copy(dup.Tags, r.Tags)
	}
	if r.ForgetAfter != nil {
		t := *r.ForgetAfter
		dup.ForgetAfter = &t
	}
	return &dup
}

// TruncateText bounds text to MaxContentLen bytes at ingestion, cutting on a
// rune boundary so stored text stays valid UTF-8.
func TruncateText(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= MaxContentLen {
		return text
	}
	cut := MaxContentLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
