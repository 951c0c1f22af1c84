package inmemory_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/store"
	"github.com/justice-rest/intelmem/pkg/memory/store/inmemory"
	testutils "github.com/justice-rest/intelmem/pkg/utils/test"
)

func TestInMemoryDriver(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "InMemory Driver Suite")
}

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *inmemory.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
	})

	Describe("Insert and Get", func() {
		It("should round-trip a record", func() {
			rec := testutils.NewRecord("u1", "user works in finance")
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Text).To(Equal(rec.Text))
			Expect(got.Tier).To(Equal(memory.TierWarm))
			Expect(got.Version).To(Equal(1))
			Expect(got.IsLatest).To(BeTrue())
		})

		It("should return not-found for unknown ids", func() {
			_, err := driver.Get(ctx, "missing")
			Expect(err).To(MatchError(memory.ErrNotFound))
		})

		It("should reject a second latest record for the same root", func() {
			first := testutils.NewRecord("u1", "fact one")
			Expect(driver.Insert(ctx, first)).To(Succeed())

			second := testutils.NewRecord("u1", "fact one revised")
			second.RootID = first.RootID
			second.Version = 2
			Expect(driver.Insert(ctx, second)).To(MatchError(memory.ErrInvariantViolation))
		})

		It("should isolate stored state from caller mutation", func() {
			rec := testutils.NewRecord("u1", "original")
			Expect(driver.Insert(ctx, rec)).To(Succeed())
			rec.Text = "mutated"

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Text).To(Equal("original"))
		})
	})

	Describe("ReplaceLatest", func() {
		It("should flip the superseded record and insert the replacement atomically", func() {
			old := testutils.NewRecord("u1", "user lives in Berlin")
			Expect(driver.Insert(ctx, old)).To(Succeed())

			next := testutils.NewRecord("u1", "user lives in Munich")
			next.RootID = old.RootID
			next.ParentID = old.ID
			next.Version = 2
			rel := memory.Relation{FromID: next.ID, ToID: old.ID, Type: memory.RelationUpdates, Weight: 0.95}

			Expect(driver.ReplaceLatest(ctx, []string{old.ID}, next, []memory.Relation{rel})).To(Succeed())

			gotOld, err := driver.Get(ctx, old.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotOld.IsLatest).To(BeFalse())

			gotNext, err := driver.Get(ctx, next.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotNext.IsLatest).To(BeTrue())

			rels, err := driver.RelationsFor(ctx, old.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rels).To(HaveLen(1))
			Expect(rels[0].Type).To(Equal(memory.RelationUpdates))
		})

		It("should refuse to supersede a non-latest record", func() {
			old := testutils.NewRecord("u1", "stale")
			old.IsLatest = false
			Expect(driver.Insert(ctx, old)).To(Succeed())

			next := testutils.NewRecord("u1", "newer")
			Expect(driver.ReplaceLatest(ctx, []string{old.ID}, next, nil)).To(MatchError(memory.ErrInvariantViolation))
		})
	})

	Describe("ListActive", func() {
		It("should exclude forgotten and superseded records", func() {
			active := testutils.NewRecord("u1", "active fact")
			forgotten := testutils.NewRecord("u1", "forgotten fact")
			forgotten.IsForgotten = true
			forgotten.Tier = memory.TierCold
			superseded := testutils.NewRecord("u1", "old version")
			superseded.IsLatest = false
			other := testutils.NewRecord("u2", "someone else")

			for _, rec := range []*memory.Record{active, forgotten, superseded, other} {
				Expect(driver.Insert(ctx, rec)).To(Succeed())
			}

			recs, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].ID).To(Equal(active.ID))
		})
	})

	Describe("Similar", func() {
		It("should rank by cosine similarity and honor the threshold", func() {
			near := testutils.NewRecord("u1", "near")
			near.Embedding = []float32{1, 0, 0, 0}
			far := testutils.NewRecord("u1", "far")
			far.Embedding = []float32{0, 1, 0, 0}
			Expect(driver.Insert(ctx, near)).To(Succeed())
			Expect(driver.Insert(ctx, far)).To(Succeed())

			matches, err := driver.Similar(ctx, store.SimilarityQuery{
				UserID:    "u1",
				Embedding: []float32{1, 0.05, 0, 0},
				Threshold: 0.5,
				Limit:     10,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].Record.ID).To(Equal(near.ID))
			Expect(matches[0].Score).To(BeNumerically(">", 0.9))
		})

		It("should apply tier filters", func() {
			hot := testutils.NewRecord("u1", "hot fact")
			hot.Tier = memory.TierHot
			hot.Embedding = []float32{1, 0}
			warm := testutils.NewRecord("u1", "warm fact")
			warm.Embedding = []float32{1, 0}
			Expect(driver.Insert(ctx, hot)).To(Succeed())
			Expect(driver.Insert(ctx, warm)).To(Succeed())

			matches, err := driver.Similar(ctx, store.SimilarityQuery{
				UserID:    "u1",
				Embedding: []float32{1, 0},
				Limit:     10,
				Filters:   store.Filters{Tiers: []memory.Tier{memory.TierHot}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].Record.ID).To(Equal(hot.ID))
		})
	})

	Describe("Keyword", func() {
		It("should score by the fraction of terms matched", func() {
			both := testutils.NewRecord("u1", "grant writing workshop")
			one := testutils.NewRecord("u1", "a writing exercise")
			none := testutils.NewRecord("u1", "unrelated topic")
			for _, rec := range []*memory.Record{both, one, none} {
				Expect(driver.Insert(ctx, rec)).To(Succeed())
			}

			matches, err := driver.Keyword(ctx, "u1", []string{"grant", "writing"}, 10, store.Filters{})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(2))
			Expect(matches[0].Record.ID).To(Equal(both.ID))
			Expect(matches[0].Score).To(BeNumerically("~", 1.0, 1e-9))
			Expect(matches[1].Score).To(BeNumerically("~", 0.5, 1e-9))
		})
	})

	Describe("Batch updates", func() {
		It("should apply tier changes", func() {
			rec := testutils.NewRecord("u1", "promote me")
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			Expect(driver.UpdateTiers(ctx, []store.TierChange{{ID: rec.ID, Tier: memory.TierHot}})).To(Succeed())

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Tier).To(Equal(memory.TierHot))
		})

		It("should apply importance changes with the decay anchor", func() {
			rec := testutils.NewRecord("u1", "decay me")
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			Expect(driver.UpdateImportance(ctx, []store.ImportanceChange{
				{ID: rec.ID, Importance: 0.25, LastDecayedAt: rec.CreatedAt.UnixNano()},
			})).To(Succeed())

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Importance).To(BeNumerically("~", 0.25, 1e-9))
			Expect(got.LastDecayedAt.UnixNano()).To(Equal(rec.CreatedAt.UnixNano()))
		})
	})

	Describe("Deletion", func() {
		It("should delete a whole chain with its relations", func() {
			old := testutils.NewRecord("u1", "v1")
			Expect(driver.Insert(ctx, old)).To(Succeed())
			next := testutils.NewRecord("u1", "v2")
			next.RootID = old.RootID
			next.Version = 2
			Expect(driver.ReplaceLatest(ctx, []string{old.ID}, next, []memory.Relation{
				{FromID: next.ID, ToID: old.ID, Type: memory.RelationUpdates},
			})).To(Succeed())

			Expect(driver.DeleteChain(ctx, old.RootID)).To(Succeed())

			_, err := driver.Get(ctx, old.ID)
			Expect(err).To(MatchError(memory.ErrNotFound))
			_, err = driver.Get(ctx, next.ID)
			Expect(err).To(MatchError(memory.ErrNotFound))

			rels, err := driver.RelationsFor(ctx, old.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rels).To(BeEmpty())
		})

		It("should delete everything a user owns", func() {
			mine := testutils.NewRecord("u1", "mine")
			theirs := testutils.NewRecord("u2", "theirs")
			Expect(driver.Insert(ctx, mine)).To(Succeed())
			Expect(driver.Insert(ctx, theirs)).To(Succeed())

			Expect(driver.DeleteUser(ctx, "u1")).To(Succeed())

			_, err := driver.Get(ctx, mine.ID)
			Expect(err).To(MatchError(memory.ErrNotFound))
			_, err = driver.Get(ctx, theirs.ID)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
