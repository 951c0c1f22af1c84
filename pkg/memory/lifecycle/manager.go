// Package lifecycle owns every mutation of the tiered store: create with
// dedup, versioning, soft and hard deletion, consolidation, tier
// recomputation, decay, and access tracking.
//
// Read-path scoring components degrade to local fallbacks on dependency
// failure; the lifecycle manager does the opposite. Embedding or store
// failure fails the operation — an undetected duplicate or a broken version
// chain is worse than a failed write.
package lifecycle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/embeddings"
	"github.com/justice-rest/intelmem/pkg/eventstream"
	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/hotcache"
	"github.com/justice-rest/intelmem/pkg/memory/store"
)

const (
	// DefaultDedupThreshold is the cosine similarity at which a new fact is
	// treated as a version of an existing one.
	DefaultDedupThreshold = 0.9

	// DefaultConsolidateThreshold is the cosine similarity for clustering
	// during consolidation. Dedup-on-write wins the overlap with the dedup
	// threshold: consolidation only ever sees records that survived dedup.
	DefaultConsolidateThreshold = 0.85

	// versionImportanceBoost is added to importance when a fact is
	// re-observed, capped at 1.0.
	versionImportanceBoost = 0.1

	// accessVelocityAlpha is the EMA weight for new access observations.
	accessVelocityAlpha = 0.3

	// maxDailyAccessRate caps the instantaneous rate fed into the EMA so a
	// burst of accesses within an hour doesn't blow up the velocity.
	maxDailyAccessRate = 24.0
)

// Config holds the lifecycle manager's thresholds.
type Config struct {
	// DedupThreshold defaults to DefaultDedupThreshold.
	DedupThreshold float64

	// ConsolidateThreshold defaults to DefaultConsolidateThreshold.
	ConsolidateThreshold float64

	// HotVelocityThreshold is the access velocity at or above which a
	// record qualifies for the hot tier.
	HotVelocityThreshold float64

	// HotImportanceThreshold is the importance a record also needs for the
	// hot tier.
	HotImportanceThreshold float64

	// ColdInactivityDays demotes records not accessed for this many days.
	ColdInactivityDays int

	// ColdVelocityThreshold demotes records whose velocity fell below it.
	ColdVelocityThreshold float64
}

func (c *Config) applyDefaults() {
	if c.DedupThreshold == 0 {
		c.DedupThreshold = DefaultDedupThreshold
	}
	if c.ConsolidateThreshold == 0 {
		c.ConsolidateThreshold = DefaultConsolidateThreshold
	}
	if c.HotVelocityThreshold == 0 {
		c.HotVelocityThreshold = 2.0
	}
	if c.HotImportanceThreshold == 0 {
		c.HotImportanceThreshold = 0.6
	}
	if c.ColdInactivityDays == 0 {
		c.ColdInactivityDays = 30
	}
	if c.ColdVelocityThreshold == 0 {
		c.ColdVelocityThreshold = 0.1
	}
}

// Manager orchestrates memory mutations against the tiered store and keeps
// the hot cache and event stream consistent with them.
type Manager struct {
	config    Config
	store     store.Driver
	embedder  embeddings.Embedder
	cache     *hotcache.Cache
	publisher eventstream.Publisher
	logger    *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(config Config, s store.Driver, embedder embeddings.Embedder, cache *hotcache.Cache, publisher eventstream.Publisher, logger *zap.Logger) *Manager {
	config.applyDefaults()
	return &Manager{
		config:    config,
		store:     s,
		embedder:  embedder,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateInput is a candidate memory record, typically supplied by the fact
// extractor.
type CreateInput struct {
	UserID     string
	Text       string
	Kind       memory.Kind
	IsStatic   bool
	Importance float64
	Tags       []string
}

func initialTier(kind memory.Kind, isStatic bool) memory.Tier {
	if isStatic || kind == memory.KindProfile {
		return memory.TierHot
	}
	return memory.TierWarm
}

// Create stores a new fact. A near-duplicate of an existing active record
// (cosine at or above the dedup threshold) becomes a new version of that
// record instead of a new root. Embedding failure fails the call: skipping
// dedup silently would corrupt version chains over time.
func (m *Manager) Create(ctx context.Context, input CreateInput) (*memory.Record, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrInvalidInput)
	}
	text := memory.TruncateText(input.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", memory.ErrInvalidInput)
	}
	if input.Kind == "" {
		input.Kind = memory.KindSemantic
	}
	if input.Importance <= 0 {
		input.Importance = 0.5
	}
	if input.Importance > 1 {
		input.Importance = 1
	}

	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding new memory: %w", err)
	}

	dupes, err := m.store.Similar(ctx, store.SimilarityQuery{
		UserID:    input.UserID,
		Embedding: embedding,
		Threshold: m.config.DedupThreshold,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("searching for duplicates: %w", err)
	}
	if len(dupes) > 0 {
		return m.createVersion(ctx, dupes[0].Record, input, text, embedding, dupes[0].Score)
	}

	now := m.now()
	id := uuid.NewString()
	rec := &memory.Record{
		ID:             id,
		RootID:         id,
		Version:        1,
		IsLatest:       true,
		UserID:         input.UserID,
		Text:           text,
		Embedding:      embedding,
		EmbeddingModel: m.embedder.Model(),
		Kind:           input.Kind,
		IsStatic:       input.IsStatic,
		Tags:           input.Tags,
		Tier:           initialTier(input.Kind, input.IsStatic),
		Importance:     input.Importance,
		SourceCount:    1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("inserting memory: %w", err)
	}

	m.cache.Invalidate(input.UserID)
	m.publish(ctx, eventstream.EventTypeMemoryCreated, rec, nil, "")

	m.logger.Debug("created memory",
		zap.String("id", rec.ID),
		zap.String("user_id", rec.UserID),
		zap.String("tier", string(rec.Tier)),
	)
	return rec, nil
}

func unionTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, tag := range a {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	for _, tag := range b {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

func (m *Manager) createVersion(ctx context.Context, existing *memory.Record, input CreateInput, text string, embedding []float32, similarity float64) (*memory.Record, error) {
	now := m.now()

	importance := math.Max(existing.Importance, input.Importance) + versionImportanceBoost
	if importance > 1 {
		importance = 1
	}

	isStatic := existing.IsStatic || input.IsStatic
	tier := existing.Tier
	if isStatic || existing.Kind == memory.KindProfile {
		tier = memory.TierHot
	}

	rec := &memory.Record{
		ID:             uuid.NewString(),
		RootID:         existing.RootID,
		ParentID:       existing.ID,
		Version:        existing.Version + 1,
		IsLatest:       true,
		UserID:         existing.UserID,
		Text:           text,
		Embedding:      embedding,
		EmbeddingModel: m.embedder.Model(),
		Kind:           existing.Kind,
		IsStatic:       isStatic,
		Tags:           unionTags(existing.Tags, input.Tags),
		Tier:           tier,
		Importance:     importance,
		AccessCount:    existing.AccessCount,
		AccessVelocity: existing.AccessVelocity,
		LastAccessedAt: existing.LastAccessedAt,
		SourceCount:    existing.SourceCount + 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	rel := memory.Relation{
		FromID: rec.ID,
		ToID:   existing.ID,
		Type:   memory.RelationUpdates,
		Weight: similarity,
	}

	if err := m.store.ReplaceLatest(ctx, []string{existing.ID}, rec, []memory.Relation{rel}); err != nil {
		return nil, fmt.Errorf("inserting new version: %w", err)
	}

	m.cache.Invalidate(rec.UserID)
	m.publish(ctx, eventstream.EventTypeMemoryVersioned, rec, nil, "")

	m.logger.Debug("created memory version",
		zap.String("id", rec.ID),
		zap.String("root_id", rec.RootID),
		zap.Int("version", rec.Version),
	)
	return rec, nil
}

// Get returns a record by id.
func (m *Manager) Get(ctx context.Context, id string) (*memory.Record, error) {
	return m.store.Get(ctx, id)
}

// Forget soft-deletes a record: it is marked forgotten, demoted to cold,
// and removed from the hot cache. The record is never physically deleted.
func (m *Manager) Forget(ctx context.Context, id string, reason string) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.IsForgotten {
		return nil
	}

	rec.IsForgotten = true
	rec.Tier = memory.TierCold
	rec.ForgetReason = reason
	rec.UpdatedAt = m.now()

	if err := m.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("forgetting %s: %w", id, err)
	}

	m.cache.Remove(rec.UserID, rec.ID)
	m.publish(ctx, eventstream.EventTypeMemoryForgotten, rec, nil, reason)
	return nil
}

// DeleteByID hard-deletes the record's whole version chain and its
// relations. Used only for explicit user-initiated erasure; a chain is one
// logical fact, so erasing any version erases all of them.
func (m *Manager) DeleteByID(ctx context.Context, id string) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := m.store.DeleteChain(ctx, rec.RootID); err != nil {
		return fmt.Errorf("deleting chain %s: %w", rec.RootID, err)
	}

	m.cache.Invalidate(rec.UserID)
	m.publish(ctx, eventstream.EventTypeMemoryDeleted, rec, nil, "")
	return nil
}

// DeleteAll hard-deletes every record the user owns.
func (m *Manager) DeleteAll(ctx context.Context, userID string) error {
	if err := m.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("deleting records for %s: %w", userID, err)
	}

	m.cache.Invalidate(userID)
	m.publish(ctx, eventstream.EventTypeMemoryDeleted, &memory.Record{UserID: userID}, nil, "")
	return nil
}

func (m *Manager) publish(ctx context.Context, eventType string, rec *memory.Record, mergedIDs []string, reason string) {
	event := &eventstream.MemoryEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     m.now(),
		UserID:        rec.UserID,
		RecordID:      rec.ID,
		RootID:        rec.RootID,
		MergedIDs:     mergedIDs,
		Reason:        reason,
	}
	// Events are advisory; a broker outage must not fail the write that
	// already committed.
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish memory event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
