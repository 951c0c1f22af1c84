package grader_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/retrieval/grader"
	testutils "github.com/justice-rest/intelmem/pkg/utils/test"
)

func TestGrader(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Grader Suite")
}

var _ = Describe("Remote", func() {
	var (
		ctx       context.Context
		completer *testutils.MockCompleter
	)

	BeforeEach(func() {
		ctx = context.Background()
		completer = testutils.NewMockCompleter(
			`{"score": 0.8, "reasoning": "direct answer", "factors": ["topic match"], "confidence": 0.9}`,
		)
	})

	It("should parse a completion into a relevant grade", func() {
		g := grader.NewRemote(completer, 0)
		rec := testutils.NewRecord("u1", "user works as an accountant at a nonprofit")

		grade, err := g.Grade(ctx, "what is the user's accountant job", rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(grade.Score).To(BeNumerically("~", 0.8, 1e-9))
		Expect(grade.IsRelevant).To(BeTrue())
		Expect(grade.Confidence).To(BeNumerically("~", 0.9, 1e-9))
		Expect(grade.Source).To(Equal(grader.SourceRemote))
		Expect(completer.Calls).To(HaveLen(1))
	})

	It("should tolerate prose and fences around the JSON object", func() {
		completer = testutils.NewMockCompleter(
			"Here is my grade:\n```json\n{\"score\": 0.7, \"reasoning\": \"ok\", \"confidence\": 0.8}\n```",
		)
		g := grader.NewRemote(completer, 0)
		rec := testutils.NewRecord("u1", "user works as an accountant")

		grade, err := g.Grade(ctx, "accountant job", rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(grade.Score).To(BeNumerically("~", 0.7, 1e-9))
	})

	It("should surface a dependency failure on malformed output", func() {
		completer = testutils.NewMockCompleter("I cannot grade this.")
		g := grader.NewRemote(completer, 0)
		rec := testutils.NewRecord("u1", "user works as an accountant")

		_, err := g.Grade(ctx, "accountant job", rec)
		Expect(err).To(MatchError(memory.ErrDependencyFailure))
	})

	It("should grade near-empty candidates locally with zero score", func() {
		g := grader.NewRemote(completer, 0)
		rec := testutils.NewRecord("u1", "  a ")

		grade, err := g.Grade(ctx, "anything at all", rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(grade.Score).To(BeZero())
		Expect(grade.Confidence).To(BeNumerically("~", 1.0, 1e-9))
		Expect(completer.Calls).To(BeEmpty(), "precheck must not call the completer")
	})

	It("should grade zero-overlap candidates locally with a low score", func() {
		g := grader.NewRemote(completer, 0)
		rec := testutils.NewRecord("u1", "user is allergic to peanuts")

		grade, err := g.Grade(ctx, "favorite programming language", rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(grade.Score).To(BeNumerically("~", 0.05, 1e-9))
		Expect(grade.IsRelevant).To(BeFalse())
		Expect(grade.Source).To(Equal(grader.SourceHeuristic))
		Expect(completer.Calls).To(BeEmpty())
	})

	It("should apply metadata boosts on top of the model score, capped at 1", func() {
		completer = testutils.NewMockCompleter(`{"score": 0.95, "reasoning": "direct", "confidence": 0.9}`)
		g := grader.NewRemote(completer, 0)
		rec := testutils.NewRecord("u1", "user is VP of Finance")
		rec.IsStatic = true
		rec.Importance = 0.9

		grade, err := g.Grade(ctx, "what is the user's finance role", rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(grade.Score).To(BeNumerically("~", 1.0, 1e-9))
		Expect(grade.Factors).To(ContainElements("static memory", "high stored importance"))
	})
})

var _ = Describe("Heuristic", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should rank an exact-phrase candidate above a partial match", func() {
		g := grader.NewHeuristic(0)
		exact := testutils.NewRecord("u1", "the user attended a grant writing workshop last month")
		partial := testutils.NewRecord("u1", "user enjoys writing fiction on weekends")

		exactGrade, err := g.Grade(ctx, "grant writing", exact)
		Expect(err).NotTo(HaveOccurred())
		partialGrade, err := g.Grade(ctx, "grant writing", partial)
		Expect(err).NotTo(HaveOccurred())

		Expect(exactGrade.Score).To(BeNumerically(">", partialGrade.Score))
		Expect(exactGrade.Factors).To(ContainElement("exact substring match"))
	})

	It("should cap confidence below the remote grader", func() {
		g := grader.NewHeuristic(0)
		rec := testutils.NewRecord("u1", "user works as an accountant")

		grade, err := g.Grade(ctx, "accountant job", rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(grade.Confidence).To(BeNumerically("<=", 0.6))
		Expect(grade.Source).To(Equal(grader.SourceHeuristic))
	})
})

var _ = Describe("Fallback", func() {
	It("should degrade to the heuristic when the remote grader fails", func() {
		completer := testutils.NewMockCompleter()
		completer.Err = errors.New("model unavailable")

		g := grader.NewFallback(
			grader.NewRemote(completer, 0),
			grader.NewHeuristic(0),
			zap.NewNop(),
		)
		rec := testutils.NewRecord("u1", "user works as an accountant at a nonprofit")

		grade, err := g.Grade(context.Background(), "accountant nonprofit job", rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(grade.Source).To(Equal(grader.SourceHeuristic))
		Expect(grade.Confidence).To(BeNumerically("<=", 0.6))
		Expect(grade.Score).To(BeNumerically(">", 0))
	})

	It("should prefer the primary grade when it succeeds", func() {
		completer := testutils.NewMockCompleter(`{"score": 0.9, "reasoning": "direct", "confidence": 0.95}`)
		g := grader.NewFallback(
			grader.NewRemote(completer, 0),
			grader.NewHeuristic(0),
			zap.NewNop(),
		)
		rec := testutils.NewRecord("u1", "user works as an accountant")

		grade, err := g.Grade(context.Background(), "accountant job", rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(grade.Source).To(Equal(grader.SourceRemote))
	})
})
