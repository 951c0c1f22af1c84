package lifecycle

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/store"
)

// UpdateTiers recomputes every active record's tier from its access pattern
// and applies the changes in one batch. Returns the number of records moved.
//
// Static and profile records are pinned hot. Everything else earns hot with
// sustained velocity and importance, falls cold after prolonged inactivity,
// and sits warm otherwise.
func (m *Manager) UpdateTiers(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", memory.ErrInvalidInput)
	}

	records, err := m.store.ListActive(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing records for tier update: %w", err)
	}

	now := m.now()
	var changes []store.TierChange
	for _, rec := range records {
		desired := m.desiredTier(rec, now)
		if desired != rec.Tier {
			changes = append(changes, store.TierChange{ID: rec.ID, Tier: desired})
		}
	}
	if len(changes) == 0 {
		return 0, nil
	}

	if err := m.store.UpdateTiers(ctx, changes); err != nil {
		return 0, fmt.Errorf("applying tier changes: %w", err)
	}

	m.cache.Invalidate(userID)
	m.logger.Info("updated memory tiers",
		zap.String("user_id", userID),
		zap.Int("moved", len(changes)),
	)
	return len(changes), nil
}

func (m *Manager) desiredTier(rec *memory.Record, now time.Time) memory.Tier {
	if rec.IsStatic || rec.Kind == memory.KindProfile {
		return memory.TierHot
	}
	if rec.AccessVelocity >= m.config.HotVelocityThreshold &&
		rec.Importance >= m.config.HotImportanceThreshold {
		return memory.TierHot
	}

	lastActivity := rec.LastAccessedAt
	if lastActivity.IsZero() {
		lastActivity = rec.CreatedAt
	}
	inactiveDays := now.Sub(lastActivity).Hours() / 24
	if inactiveDays >= float64(m.config.ColdInactivityDays) &&
		rec.AccessVelocity < m.config.ColdVelocityThreshold {
		return memory.TierCold
	}

	return memory.TierWarm
}

// ApplyDecay multiplies each active record's importance by (1-dailyRate) per
// whole elapsed day since it last decayed, flooring at minImportance.
// Decay anchors on LastDecayedAt, so repeated runs within the same day are
// no-ops. Static records are exempt.
func (m *Manager) ApplyDecay(ctx context.Context, userID string, dailyRate, minImportance float64) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", memory.ErrInvalidInput)
	}
	if dailyRate <= 0 || dailyRate >= 1 {
		return 0, fmt.Errorf("%w: daily decay rate must be in (0, 1)", memory.ErrInvalidInput)
	}

	records, err := m.store.ListActive(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing records for decay: %w", err)
	}

	now := m.now()
	var changes []store.ImportanceChange
	for _, rec := range records {
		if rec.IsStatic {
			continue
		}
		anchor := rec.LastDecayedAt
		if anchor.IsZero() {
			anchor = rec.CreatedAt
		}
		days := int(now.Sub(anchor).Hours() / 24)
		if days < 1 {
			continue
		}

		decayed := rec.Importance * math.Pow(1-dailyRate, float64(days))
		if decayed < minImportance {
			decayed = minImportance
		}
		// Advance the anchor by whole days only, preserving the fractional
		// remainder for the next run.
		changes = append(changes, store.ImportanceChange{
			ID:            rec.ID,
			Importance:    decayed,
			LastDecayedAt: anchor.Add(time.Duration(days) * 24 * time.Hour).UnixNano(),
		})
	}
	if len(changes) == 0 {
		return 0, nil
	}

	if err := m.store.UpdateImportance(ctx, changes); err != nil {
		return 0, fmt.Errorf("applying decay: %w", err)
	}

	m.cache.Invalidate(userID)
	m.logger.Debug("applied importance decay",
		zap.String("user_id", userID),
		zap.Int("decayed", len(changes)),
	)
	return len(changes), nil
}

// RecordAccess updates a record's access statistics after it was served in a
// retrieval result: increments the access count, folds the instantaneous
// access rate into the velocity EMA, boosts importance, and refreshes the
// cached snapshot in place.
func (m *Manager) RecordAccess(ctx context.Context, id string, importanceBoost, maxImportance float64) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if maxImportance <= 0 || maxImportance > 1 {
		maxImportance = 1
	}

	now := m.now()
	rate := maxDailyAccessRate
	if !rec.LastAccessedAt.IsZero() {
		elapsedDays := now.Sub(rec.LastAccessedAt).Hours() / 24
		if elapsedDays > 1.0/maxDailyAccessRate {
			rate = 1 / elapsedDays
		}
	}

	rec.AccessCount++
	rec.AccessVelocity = accessVelocityAlpha*rate + (1-accessVelocityAlpha)*rec.AccessVelocity
	rec.LastAccessedAt = now
	rec.UpdatedAt = now
	if importanceBoost > 0 {
		rec.Importance = math.Min(rec.Importance+importanceBoost, maxImportance)
	}

	if err := m.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("recording access to %s: %w", id, err)
	}

	m.cache.Update(rec.UserID, rec)
	return nil
}
