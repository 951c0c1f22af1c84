package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/eventstream"
	"github.com/justice-rest/intelmem/pkg/memory"
)

// ConsolidateOptions tunes one consolidation pass.
type ConsolidateOptions struct {
	// SimilarityThreshold overrides the configured consolidation threshold
	// when non-zero.
	SimilarityThreshold float64

	// MaxClusters caps how many clusters are merged in one pass. Zero means
	// no cap.
	MaxClusters int

	// DryRun computes clusters without mutating anything.
	DryRun bool
}

// ConsolidationResult reports what a consolidation pass found and did.
type ConsolidationResult struct {
	// Clusters holds the groups of near-duplicate records found, including
	// singletons' exclusion: only groups of two or more appear.
	Clusters [][]*memory.Record

	// Merged holds the synthesized records, one per cluster. Empty on dry
	// runs.
	Merged []*memory.Record
}

// Consolidate finds clusters of semantically overlapping active records and
// merges each into a single new version. The cluster's base record — highest
// importance, ties broken by longest text — anchors the merged version's
// chain; the other members are marked forgotten so their own chains keep a
// latest record. Every member is linked to the merged record with a derives
// relation.
func (m *Manager) Consolidate(ctx context.Context, userID string, opts ConsolidateOptions) (*ConsolidationResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrInvalidInput)
	}
	threshold := opts.SimilarityThreshold
	if threshold == 0 {
		threshold = m.config.ConsolidateThreshold
	}

	records, err := m.store.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing records for consolidation: %w", err)
	}

	clusters := clusterBySimilarity(records, threshold)
	if opts.MaxClusters > 0 && len(clusters) > opts.MaxClusters {
		clusters = clusters[:opts.MaxClusters]
	}

	result := &ConsolidationResult{Clusters: clusters}
	if opts.DryRun || len(clusters) == 0 {
		return result, nil
	}

	for _, cluster := range clusters {
		merged, err := m.mergeCluster(ctx, cluster)
		if err != nil {
			return result, err
		}
		result.Merged = append(result.Merged, merged)
	}

	m.cache.Invalidate(userID)
	m.logger.Info("consolidated memories",
		zap.String("user_id", userID),
		zap.Int("clusters", len(result.Merged)),
	)
	return result, nil
}

// clusterBySimilarity greedily groups records whose embeddings sit at or
// above the threshold relative to the cluster seed. Greedy single-pass
// clustering is deliberate: dedup-on-write already catches exact near
// duplicates, so clusters here are small and rare.
func clusterBySimilarity(records []*memory.Record, threshold float64) [][]*memory.Record {
	assigned := make(map[string]bool, len(records))
	var clusters [][]*memory.Record

	for i, seed := range records {
		if assigned[seed.ID] || len(seed.Embedding) == 0 {
			continue
		}
		cluster := []*memory.Record{seed}
		for _, other := range records[i+1:] {
			if assigned[other.ID] || len(other.Embedding) == 0 {
				continue
			}
			score, err := memory.Cosine(seed.Embedding, other.Embedding)
			if err != nil || score < threshold {
				continue
			}
			cluster = append(cluster, other)
			assigned[other.ID] = true
		}
		if len(cluster) > 1 {
			assigned[seed.ID] = true
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

// clusterBase picks the record that anchors the merged version: highest
// importance, ties broken by longest text.
func clusterBase(cluster []*memory.Record) *memory.Record {
	base := cluster[0]
	for _, rec := range cluster[1:] {
		if rec.Importance > base.Importance ||
			(rec.Importance == base.Importance && len(rec.Text) > len(base.Text)) {
			base = rec
		}
	}
	return base
}

func (m *Manager) mergeCluster(ctx context.Context, cluster []*memory.Record) (*memory.Record, error) {
	base := clusterBase(cluster)
	now := m.now()

	merged := base.Clone()
	merged.ID = uuid.NewString()
	merged.ParentID = base.ID
	merged.Version = base.Version + 1
	merged.IsLatest = true
	merged.CreatedAt = now
	merged.UpdatedAt = now
	merged.SourceCount = 0
	for _, rec := range cluster {
		merged.SourceCount += rec.SourceCount
		merged.Tags = unionTags(merged.Tags, rec.Tags)
		if rec.Importance > merged.Importance {
			merged.Importance = rec.Importance
		}
		merged.IsStatic = merged.IsStatic || rec.IsStatic
	}
	if merged.IsStatic || merged.Kind == memory.KindProfile {
		merged.Tier = memory.TierHot
	}

	memberIDs := make([]string, 0, len(cluster))
	rels := make([]memory.Relation, 0, len(cluster))
	for _, rec := range cluster {
		memberIDs = append(memberIDs, rec.ID)
		weight := 1.0
		if rec.ID != base.ID {
			if score, err := memory.Cosine(base.Embedding, rec.Embedding); err == nil {
				weight = score
			}
		}
		rels = append(rels, memory.Relation{
			FromID: merged.ID,
			ToID:   rec.ID,
			Type:   memory.RelationDerives,
			Weight: weight,
		})
	}

	if err := m.store.ReplaceLatest(ctx, []string{base.ID}, merged, rels); err != nil {
		return nil, fmt.Errorf("merging cluster anchored at %s: %w", base.ID, err)
	}

	// Non-base members keep their own chains' latest record but leave active
	// retrieval via the forgotten flag. These updates run outside the merge
	// transaction; if one fails, the merged record and the still-active member
	// remain within the consolidation threshold of each other, so the next
	// pass re-clusters them and finishes the retirement.
	reason := fmt.Sprintf("consolidated into %s", merged.ID)
	for _, rec := range cluster {
		if rec.ID == base.ID {
			continue
		}
		retired := rec.Clone()
		retired.IsForgotten = true
		retired.Tier = memory.TierCold
		retired.ForgetReason = reason
		retired.UpdatedAt = now
		if err := m.store.Update(ctx, retired); err != nil {
			return nil, fmt.Errorf("retiring %s after merge: %w", rec.ID, err)
		}
	}

	m.publish(ctx, eventstream.EventTypeMemoryConsolidated, merged, memberIDs, "")
	return merged, nil
}
