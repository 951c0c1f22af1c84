package testutils

import (
	"time"

	"github.com/google/uuid"

	"github.com/justice-rest/intelmem/pkg/memory"
)

// NewRecord builds an active version-1 record with a deterministic token
// embedding. Tests adjust fields directly afterwards.
func NewRecord(userID, text string) *memory.Record {
	now := time.Now()
	id := uuid.NewString()
	return &memory.Record{
		ID:             id,
		RootID:         id,
		Version:        1,
		IsLatest:       true,
		UserID:         userID,
		Text:           text,
		Embedding:      TokenEmbedding(text),
		EmbeddingModel: "mock-embedder",
		Kind:           memory.KindSemantic,
		Tier:           memory.TierWarm,
		Importance:     0.5,
		SourceCount:    1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
