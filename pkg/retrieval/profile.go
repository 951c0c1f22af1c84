package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/hotcache"
	"github.com/justice-rest/intelmem/pkg/memory/store"
)

// Profile partitions a user's memories into identity-stable and contextual
// buckets for prompt assembly.
type Profile struct {
	// Static holds identity-stable records: static-flagged or profile-kind.
	Static []*memory.Record

	// Dynamic holds contextual records. A record already chosen as static
	// never appears here.
	Dynamic []*memory.Record
}

// ProfileLoader assembles user profiles, serving from the hot cache when the
// snapshot is fresh and reloading it from the store on a miss.
type ProfileLoader struct {
	store store.Driver
	cache *hotcache.Cache
}

// NewProfileLoader creates a profile loader.
func NewProfileLoader(s store.Driver, cache *hotcache.Cache) *ProfileLoader {
	return &ProfileLoader{store: s, cache: cache}
}

func isStaticRecord(rec *memory.Record) bool {
	return rec.IsStatic || rec.Kind == memory.KindProfile
}

// Load returns the user's profile with up to staticLimit identity records
// and dynamicLimit contextual ones, each bucket ordered by priority.
func (p *ProfileLoader) Load(ctx context.Context, userID string, staticLimit, dynamicLimit int) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrInvalidInput)
	}
	if staticLimit <= 0 {
		staticLimit = DefaultLimit
	}
	if dynamicLimit <= 0 {
		dynamicLimit = DefaultLimit
	}

	records, ok := p.cache.Get(userID)
	if !ok {
		var err error
		records, err = p.store.ListActive(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("loading profile records: %w", err)
		}
		p.cache.Load(userID, records)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority() > records[j].Priority()
	})

	profile := &Profile{}
	chosen := make(map[string]bool, len(records))
	for _, rec := range records {
		if len(profile.Static) >= staticLimit {
			break
		}
		if isStaticRecord(rec) {
			profile.Static = append(profile.Static, rec)
			chosen[rec.ID] = true
		}
	}
	for _, rec := range records {
		if len(profile.Dynamic) >= dynamicLimit {
			break
		}
		if !chosen[rec.ID] && !isStaticRecord(rec) {
			profile.Dynamic = append(profile.Dynamic, rec)
		}
	}
	return profile, nil
}
