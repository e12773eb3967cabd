// Package engine sequences the memory pipeline. The write path turns a chat
// turn into a summarized, embedded memory; the read path embeds a query and
// selects the most similar stored memories for injection into the next
// generation.
package engine

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/solo125812/st-voyageai-memory/internal/vector"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// ScoredMemory is a retrieval result.
type ScoredMemory struct {
	Memory types.MemoryRecord `json:"memory"`
	Score  float64            `json:"score"`
}

// Retriever selects the memories most similar to a query vector. It never
// fails: invalid input yields an empty result.
type Retriever interface {
	TopK(ctx context.Context, query []float64, memories []types.MemoryRecord, k int, threshold float64) []ScoredMemory
}

// LinearRetriever scores every memory against the query. Adequate for the
// hundreds to low thousands of memories one entity accumulates.
type LinearRetriever struct{}

// TopK implements Retriever.
func (LinearRetriever) TopK(ctx context.Context, query []float64, memories []types.MemoryRecord, k int, threshold float64) []ScoredMemory {
	return TopK(ctx, query, memories, k, threshold)
}

// TopK returns at most k memories scoring at least threshold, best first.
// Memories without an embedding are skipped. Equal scores keep insertion
// order.
func TopK(ctx context.Context, query []float64, memories []types.MemoryRecord, k int, threshold float64) []ScoredMemory {
	trace := tracing(ctx)
	if trace {
		emitToContext(ctx, EventRetrievalStarted(map[string]string{
			"k":         strconv.Itoa(k),
			"threshold": strconv.FormatFloat(threshold, 'f', -1, 64),
			"memories":  strconv.Itoa(len(memories)),
		}))
	}

	if len(query) == 0 || len(memories) == 0 || k < 1 {
		emitToContext(ctx, EventResultsReturned(nil))
		return []ScoredMemory{}
	}

	scored := make([]ScoredMemory, 0, len(memories))
	candidates := 0
	for i := range memories {
		m := &memories[i]
		if !m.HasEmbedding() {
			if trace {
				emitToContext(ctx, EventFilteredOut(m.ID, "no embedding"))
			}
			continue
		}
		candidates++

		score := vector.CosineSimilarity(query, m.Embedding)
		if trace {
			emitToContext(ctx, EventScoredCandidate(m.ID, score))
		}
		if score < threshold {
			if trace {
				emitToContext(ctx, EventFilteredOut(m.ID,
					fmt.Sprintf("score %.4f below threshold %.4f", score, threshold)))
			}
			continue
		}
		scored = append(scored, ScoredMemory{Memory: *m, Score: score})
	}
	emitToContext(ctx, EventCandidatesFound(candidates, "linear"))

	slices.SortStableFunc(scored, func(a, b ScoredMemory) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if len(scored) > k {
		if trace {
			for _, s := range scored[k:] {
				emitToContext(ctx, EventFilteredOut(s.Memory.ID, fmt.Sprintf("ranked beyond top %d", k)))
			}
		}
		scored = scored[:k]
	}

	if trace {
		ids := make([]string, len(scored))
		for i, s := range scored {
			ids[i] = s.Memory.ID
		}
		emitToContext(ctx, EventResultsReturned(ids))
	}
	return scored
}
