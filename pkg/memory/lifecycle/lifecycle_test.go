package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/eventstream"
	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/hotcache"
	"github.com/justice-rest/intelmem/pkg/memory/lifecycle"
	"github.com/justice-rest/intelmem/pkg/memory/store/inmemory"
	testutils "github.com/justice-rest/intelmem/pkg/utils/test"
)

func TestLifecycle(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Lifecycle Manager Suite")
}

// retireFailDriver fails the first Update of one record, simulating a crash
// between a committed merge and the member retirement that follows it.
type retireFailDriver struct {
	*inmemory.Driver
	failID string
	failed bool
}

func (d *retireFailDriver) Update(ctx context.Context, rec *memory.Record) error {
	if rec.ID == d.failID && !d.failed {
		d.failed = true
		return errors.New("update interrupted")
	}
	return d.Driver.Update(ctx, rec)
}

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		driver    *inmemory.Driver
		embedder  *testutils.MockEmbedder
		cache     *hotcache.Cache
		publisher *testutils.MockPublisher
		manager   *lifecycle.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		embedder = testutils.NewMockEmbedder()
		cache = hotcache.NewCache(hotcache.Config{}, zap.NewNop())
		publisher = testutils.NewMockPublisher()
		manager = lifecycle.NewManager(lifecycle.Config{}, driver, embedder, cache, publisher, zap.NewNop())
	})

	// assertSingleLatest checks the version-chain invariant across every
	// stored chain of the user.
	assertSingleLatest := func(userID string) {
		recs, err := driver.ListActive(ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		perRoot := make(map[string]int)
		for _, rec := range recs {
			perRoot[rec.RootID]++
		}
		for root, count := range perRoot {
			Expect(count).To(Equal(1), "root %s has %d latest records", root, count)
		}
	}

	Describe("Create", func() {
		It("should round-trip a new record with version 1 and warm tier", func() {
			rec, err := manager.Create(ctx, lifecycle.CreateInput{
				UserID: "u1",
				Text:   "user works in finance",
			})
			Expect(err).NotTo(HaveOccurred())

			got, err := manager.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Text).To(Equal("user works in finance"))
			Expect(got.Version).To(Equal(1))
			Expect(got.Tier).To(Equal(memory.TierWarm))
			Expect(got.RootID).To(Equal(got.ID))
			Expect(got.IsLatest).To(BeTrue())
		})

		It("should place static and profile records in the hot tier", func() {
			static, err := manager.Create(ctx, lifecycle.CreateInput{
				UserID:   "u1",
				Text:     "user is VP of Finance",
				IsStatic: true,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(static.Tier).To(Equal(memory.TierHot))

			profile, err := manager.Create(ctx, lifecycle.CreateInput{
				UserID: "u1",
				Text:   "user prefers short answers",
				Kind:   memory.KindProfile,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.Tier).To(Equal(memory.TierHot))
		})

		It("should reject empty input", func() {
			_, err := manager.Create(ctx, lifecycle.CreateInput{UserID: "u1"})
			Expect(err).To(MatchError(memory.ErrInvalidInput))

			_, err = manager.Create(ctx, lifecycle.CreateInput{Text: "no user"})
			Expect(err).To(MatchError(memory.ErrInvalidInput))
		})

		It("should fail closed when embedding fails", func() {
			embedder.FailOn = "cannot embed this"

			_, err := manager.Create(ctx, lifecycle.CreateInput{
				UserID: "u1",
				Text:   "cannot embed this",
			})
			Expect(err).To(HaveOccurred())

			recs, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})

		It("should emit a created event", func() {
			_, err := manager.Create(ctx, lifecycle.CreateInput{UserID: "u1", Text: "a fact"})
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.EventsOfType(eventstream.EventTypeMemoryCreated)).To(HaveLen(1))
		})
	})

	Describe("Dedup", func() {
		It("should turn a near-duplicate into version 2 of the existing root, not a second root", func() {
			first, err := manager.Create(ctx, lifecycle.CreateInput{
				UserID:     "u1",
				Text:       "user works in finance",
				Importance: 0.5,
			})
			Expect(err).NotTo(HaveOccurred())

			second, err := manager.Create(ctx, lifecycle.CreateInput{
				UserID:     "u1",
				Text:       "user works in finance",
				Importance: 0.5,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(second.RootID).To(Equal(first.RootID))
			Expect(second.Version).To(Equal(2))
			Expect(second.ParentID).To(Equal(first.ID))
			Expect(second.SourceCount).To(Equal(2))
			Expect(second.Importance).To(BeNumerically("~", 0.6, 1e-9))

			recs, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			assertSingleLatest("u1")

			gotFirst, err := manager.Get(ctx, first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotFirst.IsLatest).To(BeFalse())

			rels, err := driver.RelationsFor(ctx, first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rels).To(HaveLen(1))
			Expect(rels[0].Type).To(Equal(memory.RelationUpdates))

			Expect(publisher.EventsOfType(eventstream.EventTypeMemoryVersioned)).To(HaveLen(1))
		})

		It("should cap the boosted importance at 1.0", func() {
			_, err := manager.Create(ctx, lifecycle.CreateInput{
				UserID:     "u1",
				Text:       "very important fact",
				Importance: 0.95,
			})
			Expect(err).NotTo(HaveOccurred())

			second, err := manager.Create(ctx, lifecycle.CreateInput{
				UserID:     "u1",
				Text:       "very important fact",
				Importance: 0.95,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Importance).To(BeNumerically("~", 1.0, 1e-9))
		})

		It("should invalidate the user's hot cache entry", func() {
			first, err := manager.Create(ctx, lifecycle.CreateInput{UserID: "u1", Text: "cached fact"})
			Expect(err).NotTo(HaveOccurred())
			cache.Load("u1", []*memory.Record{first})

			_, ok := cache.Get("u1")
			Expect(ok).To(BeTrue())

			_, err = manager.Create(ctx, lifecycle.CreateInput{UserID: "u1", Text: "cached fact"})
			Expect(err).NotTo(HaveOccurred())

			_, ok = cache.Get("u1")
			Expect(ok).To(BeFalse(), "stale cache entry survived createVersion")
		})
	})

	Describe("Forget", func() {
		It("should soft-delete: forgotten implies cold, never removed from the store", func() {
			rec, err := manager.Create(ctx, lifecycle.CreateInput{UserID: "u1", Text: "embarrassing fact"})
			Expect(err).NotTo(HaveOccurred())
			cache.Load("u1", []*memory.Record{rec})

			Expect(manager.Forget(ctx, rec.ID, "user requested")).To(Succeed())

			got, err := manager.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.IsForgotten).To(BeTrue())
			Expect(got.Tier).To(Equal(memory.TierCold))
			Expect(got.ForgetReason).To(Equal("user requested"))

			recs, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())

			cached, ok := cache.Get("u1")
			Expect(ok).To(BeTrue())
			Expect(cached).To(BeEmpty())

			Expect(publisher.EventsOfType(eventstream.EventTypeMemoryForgotten)).To(HaveLen(1))
		})

		It("should be idempotent", func() {
			rec, err := manager.Create(ctx, lifecycle.CreateInput{UserID: "u1", Text: "a fact"})
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.Forget(ctx, rec.ID, "first")).To(Succeed())
			Expect(manager.Forget(ctx, rec.ID, "second")).To(Succeed())

			got, err := manager.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ForgetReason).To(Equal("first"))
		})
	})

	Describe("Hard deletion", func() {
		It("should delete the whole version chain by any member id", func() {
			first, err := manager.Create(ctx, lifecycle.CreateInput{UserID: "u1", Text: "chain fact"})
			Expect(err).NotTo(HaveOccurred())
			second, err := manager.Create(ctx, lifecycle.CreateInput{UserID: "u1", Text: "chain fact"})
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.DeleteByID(ctx, first.ID)).To(Succeed())

			_, err = manager.Get(ctx, first.ID)
			Expect(err).To(MatchError(memory.ErrNotFound))
			_, err = manager.Get(ctx, second.ID)
			Expect(err).To(MatchError(memory.ErrNotFound))
			Expect(publisher.EventsOfType(eventstream.EventTypeMemoryDeleted)).To(HaveLen(1))
		})

		It("should delete everything a user owns", func() {
			_, err := manager.Create(ctx, lifecycle.CreateInput{UserID: "u1", Text: "fact one"})
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.Create(ctx, lifecycle.CreateInput{UserID: "u1", Text: "completely different topic"})
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.DeleteAll(ctx, "u1")).To(Succeed())

			recs, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})
	})

	Describe("Consolidate", func() {
		var a, b, c *memory.Record

		BeforeEach(func() {
			// a and b sit at cosine 0.9; c is orthogonal to both.
			a = testutils.NewRecord("u1", "user enjoys hiking in the alps")
			a.Embedding = []float32{1, 0, 0, 0}
			a.Importance = 0.8
			a.Tags = []string{"hobby"}

			b = testutils.NewRecord("u1", "user likes mountain hiking")
			b.Embedding = []float32{0.9, 0.436, 0, 0}
			b.Importance = 0.5
			b.Tags = []string{"outdoors"}

			c = testutils.NewRecord("u1", "user is allergic to peanuts")
			c.Embedding = []float32{0, 0, 1, 0}

			for _, rec := range []*memory.Record{a, b, c} {
				Expect(driver.Insert(ctx, rec)).To(Succeed())
			}
		})

		It("should report clusters without mutating on a dry run", func() {
			result, err := manager.Consolidate(ctx, "u1", lifecycle.ConsolidateOptions{DryRun: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Clusters).To(HaveLen(1))
			Expect(result.Clusters[0]).To(HaveLen(2))
			Expect(result.Merged).To(BeEmpty())

			recs, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(3))
		})

		It("should merge a cluster anchored at the highest-importance record", func() {
			result, err := manager.Consolidate(ctx, "u1", lifecycle.ConsolidateOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Merged).To(HaveLen(1))

			merged := result.Merged[0]
			Expect(merged.RootID).To(Equal(a.RootID), "base should be the highest-importance record")
			Expect(merged.Version).To(Equal(a.Version + 1))
			Expect(merged.Text).To(Equal(a.Text))
			Expect(merged.SourceCount).To(Equal(a.SourceCount + b.SourceCount))
			Expect(merged.Tags).To(ConsistOf("hobby", "outdoors"))

			// The base chain has the merged record as its only latest; the
			// other member keeps its latest flag but leaves active retrieval.
			assertSingleLatest("u1")
			gotB, err := manager.Get(ctx, b.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotB.IsForgotten).To(BeTrue())
			Expect(gotB.Tier).To(Equal(memory.TierCold))

			recs, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2)) // merged + c

			rels, err := driver.RelationsFor(ctx, merged.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rels).To(HaveLen(2))
			for _, rel := range rels {
				Expect(rel.Type).To(Equal(memory.RelationDerives))
			}

			events := publisher.EventsOfType(eventstream.EventTypeMemoryConsolidated)
			Expect(events).To(HaveLen(1))
			Expect(events[0].MergedIDs).To(ConsistOf(a.ID, b.ID))
		})

		It("should leave dissimilar records untouched", func() {
			_, err := manager.Consolidate(ctx, "u1", lifecycle.ConsolidateOptions{})
			Expect(err).NotTo(HaveOccurred())

			got, err := manager.Get(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Active()).To(BeTrue())
		})

		It("should finish an interrupted retirement on the next pass", func() {
			flaky := &retireFailDriver{Driver: driver, failID: b.ID}
			flakyManager := lifecycle.NewManager(lifecycle.Config{}, flaky, embedder, cache, publisher, zap.NewNop())

			// First pass merges the chain but dies before retiring b, leaving
			// the merged record live alongside a still-active member.
			_, err := flakyManager.Consolidate(ctx, "u1", lifecycle.ConsolidateOptions{})
			Expect(err).To(HaveOccurred())

			recs, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(3)) // merged + b + c
			assertSingleLatest("u1")

			// The merged record and b still sit above the threshold, so the
			// next pass re-clusters them and completes the retirement.
			_, err = flakyManager.Consolidate(ctx, "u1", lifecycle.ConsolidateOptions{})
			Expect(err).NotTo(HaveOccurred())

			gotB, err := manager.Get(ctx, b.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotB.IsForgotten).To(BeTrue())

			recs, err = driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2)) // final merged + c
			assertSingleLatest("u1")
		})
	})

	Describe("UpdateTiers", func() {
		It("should pin static records hot and demote stale records cold", func() {
			static := testutils.NewRecord("u1", "identity fact")
			static.IsStatic = true
			static.Tier = memory.TierWarm

			stale := testutils.NewRecord("u1", "ancient fact")
			stale.CreatedAt = time.Now().Add(-60 * 24 * time.Hour)
			stale.LastAccessedAt = time.Now().Add(-45 * 24 * time.Hour)

			busy := testutils.NewRecord("u1", "hot topic")
			busy.AccessVelocity = 5
			busy.Importance = 0.9
			busy.LastAccessedAt = time.Now()

			for _, rec := range []*memory.Record{static, stale, busy} {
				Expect(driver.Insert(ctx, rec)).To(Succeed())
			}

			moved, err := manager.UpdateTiers(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(moved).To(Equal(3))

			for id, want := range map[string]memory.Tier{
				static.ID: memory.TierHot,
				stale.ID:  memory.TierCold,
				busy.ID:   memory.TierHot,
			} {
				got, err := manager.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Tier).To(Equal(want), "record %q", got.Text)
			}
		})

		It("should report zero moves when nothing changes", func() {
			rec := testutils.NewRecord("u1", "settled fact")
			rec.LastAccessedAt = time.Now()
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			moved, err := manager.UpdateTiers(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(moved).To(Equal(0))
		})
	})

	Describe("ApplyDecay", func() {
		It("should decay importance per elapsed day, floored at the minimum", func() {
			rec := testutils.NewRecord("u1", "fading fact")
			rec.Importance = 0.8
			rec.CreatedAt = time.Now().Add(-48 * time.Hour)
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			decayed, err := manager.ApplyDecay(ctx, "u1", 0.1, 0.1)
			Expect(err).NotTo(HaveOccurred())
			Expect(decayed).To(Equal(1))

			got, err := manager.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Importance).To(BeNumerically("~", 0.8*0.9*0.9, 1e-6))
		})

		It("should be idempotent within the same day", func() {
			rec := testutils.NewRecord("u1", "fading fact")
			rec.Importance = 0.8
			rec.CreatedAt = time.Now().Add(-48 * time.Hour)
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			_, err := manager.ApplyDecay(ctx, "u1", 0.1, 0.1)
			Expect(err).NotTo(HaveOccurred())
			first, err := manager.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())

			decayed, err := manager.ApplyDecay(ctx, "u1", 0.1, 0.1)
			Expect(err).NotTo(HaveOccurred())
			Expect(decayed).To(Equal(0))

			second, err := manager.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Importance).To(Equal(first.Importance))
		})

		It("should exempt static records", func() {
			rec := testutils.NewRecord("u1", "identity fact")
			rec.IsStatic = true
			rec.Importance = 0.9
			rec.CreatedAt = time.Now().Add(-72 * time.Hour)
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			decayed, err := manager.ApplyDecay(ctx, "u1", 0.1, 0.1)
			Expect(err).NotTo(HaveOccurred())
			Expect(decayed).To(Equal(0))
		})

		It("should reject a rate outside (0, 1)", func() {
			_, err := manager.ApplyDecay(ctx, "u1", 1.5, 0.1)
			Expect(err).To(MatchError(memory.ErrInvalidInput))
		})
	})

	Describe("RecordAccess", func() {
		It("should bump stats and cap importance at the maximum", func() {
			rec := testutils.NewRecord("u1", "fetched fact")
			rec.Importance = 0.85
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			Expect(manager.RecordAccess(ctx, rec.ID, 0.1, 0.9)).To(Succeed())

			got, err := manager.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.AccessCount).To(Equal(1))
			Expect(got.AccessVelocity).To(BeNumerically(">", 0))
			Expect(got.Importance).To(BeNumerically("~", 0.9, 1e-9))
			Expect(got.LastAccessedAt).NotTo(BeZero())
		})

		It("should refresh the cached snapshot in place", func() {
			rec := testutils.NewRecord("u1", "cached fact")
			Expect(driver.Insert(ctx, rec)).To(Succeed())
			cache.Load("u1", []*memory.Record{rec})

			Expect(manager.RecordAccess(ctx, rec.ID, 0.1, 1.0)).To(Succeed())

			cached, ok := cache.Get("u1")
			Expect(ok).To(BeTrue())
			Expect(cached[0].AccessCount).To(Equal(1))
		})
	})
})
