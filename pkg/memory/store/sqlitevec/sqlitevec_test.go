package sqlitevec_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/store"
	"github.com/justice-rest/intelmem/pkg/memory/store/sqlitevec"
	testutils "github.com/justice-rest/intelmem/pkg/utils/test"
)

func TestSqliteVec(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SQLite-Vec Store Suite")
}

// unitVec builds a mock-dimensioned vector with a single hot axis, so test
// records are either identical (similarity 1) or orthogonal (similarity 0).
func unitVec(axis int) []float32 {
	v := make([]float32, testutils.MockEmbedderDims)
	v[axis] = 1
	return v
}

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *sqlitevec.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		driver, err = sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     ":memory:",
			Dimensions: testutils.MockEmbedderDims,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(driver.Close()).To(Succeed())
	})

	Describe("NewDriver", func() {
		It("should require a database path", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{Dimensions: 4}, zap.NewNop())
			Expect(err).To(HaveOccurred())
		})

		It("should require configured dimensions", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:"}, zap.NewNop())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Insert and Get", func() {
		It("should round-trip a record with its embedding and tags", func() {
			rec := testutils.NewRecord("u1", "user enjoys alpine hiking")
			rec.Tags = []string{"hobby", "outdoors"}

			Expect(driver.Insert(ctx, rec)).To(Succeed())

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Text).To(Equal(rec.Text))
			Expect(got.Version).To(Equal(1))
			Expect(got.IsLatest).To(BeTrue())
			Expect(got.Tags).To(Equal([]string{"hobby", "outdoors"}))
			Expect(got.Embedding).To(Equal(rec.Embedding))
		})

		It("should reject a second latest record for an existing root", func() {
			first := testutils.NewRecord("u1", "original fact")
			Expect(driver.Insert(ctx, first)).To(Succeed())

			second := testutils.NewRecord("u1", "competing fact")
			second.RootID = first.RootID
			second.Version = 2

			err := driver.Insert(ctx, second)
			Expect(err).To(MatchError(memory.ErrInvariantViolation))
		})

		It("should reject mismatched embedding dimensions", func() {
			rec := testutils.NewRecord("u1", "a fact")
			rec.Embedding = []float32{1, 2, 3}

			err := driver.Insert(ctx, rec)
			Expect(err).To(MatchError(memory.ErrInvalidInput))
		})

		It("should return not-found for unknown ids", func() {
			_, err := driver.Get(ctx, "missing")
			Expect(err).To(MatchError(memory.ErrNotFound))
		})
	})

	Describe("Update", func() {
		It("should rewrite lifecycle fields", func() {
			rec := testutils.NewRecord("u1", "a fact")
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			rec.Tier = memory.TierCold
			rec.IsForgotten = true
			rec.ForgetReason = "user requested"
			Expect(driver.Update(ctx, rec)).To(Succeed())

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Tier).To(Equal(memory.TierCold))
			Expect(got.IsForgotten).To(BeTrue())
			Expect(got.ForgetReason).To(Equal("user requested"))
		})

		It("should return not-found for unknown records", func() {
			rec := testutils.NewRecord("u1", "never stored")
			Expect(driver.Update(ctx, rec)).To(MatchError(memory.ErrNotFound))
		})
	})

	Describe("ReplaceLatest", func() {
		It("should flip the chain and store the relation atomically", func() {
			v1 := testutils.NewRecord("u1", "user works in finance")
			Expect(driver.Insert(ctx, v1)).To(Succeed())

			v2 := testutils.NewRecord("u1", "user works in corporate finance")
			v2.RootID = v1.RootID
			v2.ParentID = v1.ID
			v2.Version = 2
			rel := memory.Relation{FromID: v2.ID, ToID: v1.ID, Type: memory.RelationUpdates, Weight: 0.95}

			Expect(driver.ReplaceLatest(ctx, []string{v1.ID}, v2, []memory.Relation{rel})).To(Succeed())

			gotOld, err := driver.Get(ctx, v1.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotOld.IsLatest).To(BeFalse())

			active, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(HaveLen(1))
			Expect(active[0].ID).To(Equal(v2.ID))

			rels, err := driver.RelationsFor(ctx, v1.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rels).To(HaveLen(1))
			Expect(rels[0].Type).To(Equal(memory.RelationUpdates))
		})

		It("should reject superseding a record that is not the latest", func() {
			v1 := testutils.NewRecord("u1", "a fact")
			Expect(driver.Insert(ctx, v1)).To(Succeed())

			v2 := testutils.NewRecord("u1", "a fact, revised")
			v2.RootID = v1.RootID
			v2.ParentID = v1.ID
			v2.Version = 2
			Expect(driver.ReplaceLatest(ctx, []string{v1.ID}, v2, nil)).To(Succeed())

			v3 := testutils.NewRecord("u1", "a fact, revised again")
			v3.RootID = v1.RootID
			v3.ParentID = v1.ID
			v3.Version = 3

			err := driver.ReplaceLatest(ctx, []string{v1.ID}, v3, nil)
			Expect(err).To(MatchError(memory.ErrInvariantViolation))

			// The rejected insert must not have leaked into the chain.
			active, err := driver.ListActive(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(HaveLen(1))
			Expect(active[0].ID).To(Equal(v2.ID))
		})
	})

	Describe("Similar", func() {
		var onTopic, offTopic, otherUser *memory.Record

		BeforeEach(func() {
			onTopic = testutils.NewRecord("u1", "user enjoys hiking")
			onTopic.Embedding = unitVec(0)

			offTopic = testutils.NewRecord("u1", "user is allergic to peanuts")
			offTopic.Embedding = unitVec(1)

			otherUser = testutils.NewRecord("u2", "someone else hikes too")
			otherUser.Embedding = unitVec(0)

			for _, rec := range []*memory.Record{onTopic, offTopic, otherUser} {
				Expect(driver.Insert(ctx, rec)).To(Succeed())
			}
		})

		It("should return only the user's records above the threshold", func() {
			matches, err := driver.Similar(ctx, store.SimilarityQuery{
				UserID:    "u1",
				Embedding: unitVec(0),
				Threshold: 0.5,
				Limit:     10,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].Record.ID).To(Equal(onTopic.ID))
			Expect(matches[0].Score).To(BeNumerically("~", 1.0, 1e-4))
		})

		It("should exclude forgotten records by default", func() {
			onTopic.IsForgotten = true
			Expect(driver.Update(ctx, onTopic)).To(Succeed())

			matches, err := driver.Similar(ctx, store.SimilarityQuery{
				UserID:    "u1",
				Embedding: unitVec(0),
				Threshold: 0.5,
				Limit:     10,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty())
		})

		It("should honor tier and kind filters", func() {
			matches, err := driver.Similar(ctx, store.SimilarityQuery{
				UserID:    "u1",
				Embedding: unitVec(0),
				Limit:     10,
				Filters:   store.Filters{Tiers: []memory.Tier{memory.TierCold}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty())
		})
	})

	Describe("Keyword", func() {
		BeforeEach(func() {
			hiking := testutils.NewRecord("u1", "user enjoys alpine hiking trips")
			peanuts := testutils.NewRecord("u1", "user is allergic to peanuts")
			Expect(driver.Insert(ctx, hiking)).To(Succeed())
			Expect(driver.Insert(ctx, peanuts)).To(Succeed())
		})

		It("should score by the fraction of terms matched", func() {
			matches, err := driver.Keyword(ctx, "u1", []string{"alpine", "hiking"}, 10, store.Filters{})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].Score).To(BeNumerically("~", 1.0, 1e-9))

			matches, err = driver.Keyword(ctx, "u1", []string{"hiking", "peanuts"}, 10, store.Filters{})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(2))
			Expect(matches[0].Score).To(BeNumerically("~", 0.5, 1e-9))
		})

		It("should return nothing for empty terms", func() {
			matches, err := driver.Keyword(ctx, "u1", nil, 10, store.Filters{})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty())
		})
	})

	Describe("DeleteChain", func() {
		It("should remove every version and its vector index rows", func() {
			v1 := testutils.NewRecord("u1", "chain fact")
			v1.Embedding = unitVec(0)
			Expect(driver.Insert(ctx, v1)).To(Succeed())

			v2 := testutils.NewRecord("u1", "chain fact, revised")
			v2.RootID = v1.RootID
			v2.ParentID = v1.ID
			v2.Version = 2
			v2.Embedding = unitVec(0)
			Expect(driver.ReplaceLatest(ctx, []string{v1.ID}, v2, nil)).To(Succeed())

			Expect(driver.DeleteChain(ctx, v1.RootID)).To(Succeed())

			_, err := driver.Get(ctx, v1.ID)
			Expect(err).To(MatchError(memory.ErrNotFound))
			_, err = driver.Get(ctx, v2.ID)
			Expect(err).To(MatchError(memory.ErrNotFound))

			matches, err := driver.Similar(ctx, store.SimilarityQuery{
				UserID:    "u1",
				Embedding: unitVec(0),
				Limit:     10,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty(), "deleted chain left residue in the vec index")
		})

		It("should return not-found for an unknown root", func() {
			Expect(driver.DeleteChain(ctx, "missing")).To(MatchError(memory.ErrNotFound))
		})
	})

	Describe("DeleteUser", func() {
		It("should remove one user's records and leave others alone", func() {
			mine := testutils.NewRecord("u1", "my fact")
			theirs := testutils.NewRecord("u2", "their fact")
			Expect(driver.Insert(ctx, mine)).To(Succeed())
			Expect(driver.Insert(ctx, theirs)).To(Succeed())

			Expect(driver.DeleteUser(ctx, "u1")).To(Succeed())

			_, err := driver.Get(ctx, mine.ID)
			Expect(err).To(MatchError(memory.ErrNotFound))

			got, err := driver.Get(ctx, theirs.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Text).To(Equal("their fact"))
		})
	})

	Describe("Batch updates", func() {
		It("should apply tier changes", func() {
			rec := testutils.NewRecord("u1", "a fact")
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			Expect(driver.UpdateTiers(ctx, []store.TierChange{
				{ID: rec.ID, Tier: memory.TierHot},
			})).To(Succeed())

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Tier).To(Equal(memory.TierHot))
		})

		It("should apply importance changes and advance the decay anchor", func() {
			rec := testutils.NewRecord("u1", "a fact")
			Expect(driver.Insert(ctx, rec)).To(Succeed())

			anchor := rec.CreatedAt.Add(24 * time.Hour)
			Expect(driver.UpdateImportance(ctx, []store.ImportanceChange{
				{ID: rec.ID, Importance: 0.25, LastDecayedAt: anchor.UnixNano()},
			})).To(Succeed())

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Importance).To(BeNumerically("~", 0.25, 1e-9))
			Expect(got.LastDecayedAt.UnixNano()).To(Equal(anchor.UnixNano()))
		})
	})
})
