package embeddings_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/justice-rest/intelmem/pkg/embeddings"
	testutils "github.com/justice-rest/intelmem/pkg/utils/test"
)

func TestEmbeddings(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Embeddings Suite")
}

var _ = Describe("Cached", func() {
	var (
		ctx   context.Context
		inner *testutils.MockEmbedder
	)

	BeforeEach(func() {
		ctx = context.Background()
		inner = testutils.NewMockEmbedder()
	})

	It("should serve repeats without touching the wrapped embedder", func() {
		cached := embeddings.NewCached(inner, 0, 0)

		first, err := cached.Embed(ctx, "user works in finance")
		Expect(err).NotTo(HaveOccurred())
		second, err := cached.Embed(ctx, "user works in finance")
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(Equal(first))
		Expect(inner.Calls).To(Equal(1))
	})

	It("should return copies, not the cached slice", func() {
		cached := embeddings.NewCached(inner, 0, 0)

		first, err := cached.Embed(ctx, "some text")
		Expect(err).NotTo(HaveOccurred())
		first[0] = 999

		second, err := cached.Embed(ctx, "some text")
		Expect(err).NotTo(HaveOccurred())
		Expect(second[0]).NotTo(Equal(float32(999)))
	})

	It("should evict the oldest entry at capacity", func() {
		cached := embeddings.NewCached(inner, 2, 0)

		_, err := cached.Embed(ctx, "first")
		Expect(err).NotTo(HaveOccurred())
		_, err = cached.Embed(ctx, "second")
		Expect(err).NotTo(HaveOccurred())
		_, err = cached.Embed(ctx, "third")
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.Calls).To(Equal(3))

		// "first" was evicted, "third" is still cached.
		_, err = cached.Embed(ctx, "third")
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.Calls).To(Equal(3))

		_, err = cached.Embed(ctx, "first")
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.Calls).To(Equal(4))
	})

	It("should re-embed after the TTL passes", func() {
		cached := embeddings.NewCached(inner, 0, 10*time.Millisecond)

		_, err := cached.Embed(ctx, "short lived")
		Expect(err).NotTo(HaveOccurred())
		time.Sleep(20 * time.Millisecond)

		_, err = cached.Embed(ctx, "short lived")
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.Calls).To(Equal(2))
	})

	It("should evict the stalest entry after a TTL refresh", func() {
		cached := embeddings.NewCached(inner, 2, 50*time.Millisecond)

		_, err := cached.Embed(ctx, "first")
		Expect(err).NotTo(HaveOccurred())
		_, err = cached.Embed(ctx, "second")
		Expect(err).NotTo(HaveOccurred())
		time.Sleep(60 * time.Millisecond)

		// Refresh "first" past its TTL, then force an eviction: the stale
		// "second" must go, not the just-refreshed "first".
		_, err = cached.Embed(ctx, "first")
		Expect(err).NotTo(HaveOccurred())
		_, err = cached.Embed(ctx, "third")
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.Calls).To(Equal(4))

		_, err = cached.Embed(ctx, "first")
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.Calls).To(Equal(4))
	})

	It("should not cache failures", func() {
		inner.FailOn = "doomed"
		cached := embeddings.NewCached(inner, 0, 0)

		_, err := cached.Embed(ctx, "doomed")
		Expect(err).To(HaveOccurred())

		inner.FailOn = ""
		vec, err := cached.Embed(ctx, "doomed")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).NotTo(BeEmpty())
	})
})
