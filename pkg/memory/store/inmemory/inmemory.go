// Package inmemory provides an in-process implementation of the tiered
// store driver. Used for tests and local development; similarity is plain
// cosine over the user's records.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/store"
)

// Driver implements store.Driver using in-process data structures.
type Driver struct {
	mu        sync.RWMutex
	records   map[string]*memory.Record
	relations []memory.Relation
}

// NewDriver creates an empty in-memory tiered store.
func NewDriver() *Driver {
	return &Driver{
		records: make(map[string]*memory.Record),
	}
}

// Insert stores a new record.
func (d *Driver) Insert(_ context.Context, rec *memory.Record) error {
	if rec.ID == "" || rec.UserID == "" {
		return fmt.Errorf("%w: record id and user id are required", memory.ErrInvalidInput)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if rec.IsLatest {
		for _, existing := range d.records {
			if existing.RootID == rec.RootID && existing.IsLatest {
				return fmt.Errorf("%w: root %s already has a latest version", memory.ErrInvariantViolation, rec.RootID)
			}
		}
	}

	d.records[rec.ID] = rec.Clone()
	return nil
}

// Get retrieves a record by id.
func (d *Driver) Get(_ context.Context, id string) (*memory.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// Update rewrites a record's mutable lifecycle fields.
func (d *Driver) Update(_ context.Context, rec *memory.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.records[rec.ID]
	if !ok {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, rec.ID)
	}

	updated := existing.Clone()
	updated.Tier = rec.Tier
	updated.Importance = rec.Importance
	updated.AccessCount = rec.AccessCount
	updated.AccessVelocity = rec.AccessVelocity
	updated.LastAccessedAt = rec.LastAccessedAt
	updated.IsForgotten = rec.IsForgotten
	updated.ForgetAfter = rec.ForgetAfter
	updated.ForgetReason = rec.ForgetReason
	updated.SourceCount = rec.SourceCount
	updated.LastDecayedAt = rec.LastDecayedAt
	updated.UpdatedAt = rec.UpdatedAt
	d.records[rec.ID] = updated
	return nil
}

// ReplaceLatest atomically supersedes the given ids and inserts rec.
func (d *Driver) ReplaceLatest(_ context.Context, supersededIDs []string, rec *memory.Record, rels []memory.Relation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range supersededIDs {
		old, ok := d.records[id]
		if !ok || !old.IsLatest {
			return fmt.Errorf("%w: %s is not the latest version", memory.ErrInvariantViolation, id)
		}
	}

	now := time.Now()
	for _, id := range supersededIDs {
		old := d.records[id].Clone()
		old.IsLatest = false
		old.UpdatedAt = now
		d.records[id] = old
	}
	d.records[rec.ID] = rec.Clone()
	d.relations = append(d.relations, rels...)
	return nil
}

// DeleteChain hard-deletes a whole version chain and its relations.
func (d *Driver) DeleteChain(_ context.Context, rootID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []string
	for id, rec := range d.records {
		if rec.RootID == rootID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: chain %s", memory.ErrNotFound, rootID)
	}
	d.deleteLocked(ids)
	return nil
}

// DeleteUser hard-deletes all of a user's records and relations.
func (d *Driver) DeleteUser(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []string
	for id, rec := range d.records {
		if rec.UserID == userID {
			ids = append(ids, id)
		}
	}
	d.deleteLocked(ids)
	return nil
}

func (d *Driver) deleteLocked(ids []string) {
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
		delete(d.records, id)
	}

	kept := d.relations[:0]
	for _, rel := range d.relations {
		if !doomed[rel.FromID] && !doomed[rel.ToID] {
			kept = append(kept, rel)
		}
	}
	d.relations = kept
}

// ListActive returns the user's latest, non-forgotten records.
func (d *Driver) ListActive(_ context.Context, userID string) ([]*memory.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var recs []*memory.Record
	for _, rec := range d.records {
		if rec.UserID == userID && rec.Active() {
			recs = append(recs, rec.Clone())
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

func matchesFilters(rec *memory.Record, f store.Filters) bool {
	if !f.IncludeForgotten && rec.IsForgotten {
		return false
	}
	if len(f.Tiers) > 0 && !containsTier(f.Tiers, rec.Tier) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, rec.Kind) {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range rec.Tags {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsTier(tiers []memory.Tier, t memory.Tier) bool {
	for _, tier := range tiers {
		if tier == t {
			return true
		}
	}
	return false
}

func containsKind(kinds []memory.Kind, k memory.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Similar ranks the user's active records by cosine similarity.
func (d *Driver) Similar(ctx context.Context, q store.SimilarityQuery) ([]store.Match, error) {
	recs, err := d.ListActive(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	var matches []store.Match
	for _, rec := range recs {
		if !matchesFilters(rec, q.Filters) {
			continue
		}
		score, err := memory.Cosine(q.Embedding, rec.Embedding)
		if err != nil {
			return nil, err
		}
		if score < q.Threshold {
			continue
		}
		matches = append(matches, store.Match{Record: rec, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Keyword returns active records whose text contains any of the given terms.
func (d *Driver) Keyword(ctx context.Context, userID string, terms []string, limit int, filters store.Filters) ([]store.Match, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	recs, err := d.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	var matches []store.Match
	for _, rec := range recs {
		if !matchesFilters(rec, filters) {
			continue
		}
		lower := strings.ToLower(rec.Text)
		hits := 0
		for _, term := range terms {
			if strings.Contains(lower, strings.ToLower(term)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, store.Match{
			Record: rec,
			Score:  float64(hits) / float64(len(terms)),
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// UpdateTiers applies a batch of tier changes.
func (d *Driver) UpdateTiers(_ context.Context, changes []store.TierChange) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for _, change := range changes {
		rec, ok := d.records[change.ID]
		if !ok {
			continue
		}
		updated := rec.Clone()
		updated.Tier = change.Tier
		updated.UpdatedAt = now
		d.records[change.ID] = updated
	}
	return nil
}

// UpdateImportance applies a batch of importance changes.
func (d *Driver) UpdateImportance(_ context.Context, changes []store.ImportanceChange) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for _, change := range changes {
		rec, ok := d.records[change.ID]
		if !ok {
			continue
		}
		updated := rec.Clone()
		updated.Importance = change.Importance
		if change.LastDecayedAt != 0 {
			updated.LastDecayedAt = time.Unix(0, change.LastDecayedAt)
		}
		updated.UpdatedAt = now
		d.records[change.ID] = updated
	}
	return nil
}

// AddRelation stores a directed edge between two records.
func (d *Driver) AddRelation(_ context.Context, rel memory.Relation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.relations = append(d.relations, rel)
	return nil
}

// RelationsFor returns edges touching the given record id.
func (d *Driver) RelationsFor(_ context.Context, id string) ([]memory.Relation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var rels []memory.Relation
	for _, rel := range d.relations {
		if rel.FromID == id || rel.ToID == id {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

var _ store.Driver = (*Driver)(nil)
