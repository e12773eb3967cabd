package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// unitAt returns a 2-d unit vector whose cosine with [1, 0] is score.
func unitAt(score float64) []float64 {
	return []float64{score, math.Sqrt(1 - score*score)}
}

func memoriesWithScores(scores ...float64) []types.MemoryRecord {
	out := make([]types.MemoryRecord, len(scores))
	for i, s := range scores {
		out[i] = types.MemoryRecord{ID: string(rune('a' + i)), Summary: "m", Embedding: unitAt(s)}
	}
	return out
}

func ids(results []ScoredMemory) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Memory.ID
	}
	return out
}

func TestTopK_OrdersByScoreThenInsertion(t *testing.T) {
	memories := memoriesWithScores(0.9, 0.9, 0.95, 0.5)

	got := TopK(context.Background(), []float64{1, 0}, memories, 3, 0.7)

	assert.Equal(t, []string{"c", "a", "b"}, ids(got))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
	for _, r := range got {
		assert.GreaterOrEqual(t, r.Score, 0.7)
	}
}

func TestTopK_Truncates(t *testing.T) {
	memories := memoriesWithScores(0.8, 0.9, 1, 0.85)
	got := TopK(context.Background(), []float64{1, 0}, memories, 2, 0)
	assert.Equal(t, []string{"c", "b"}, ids(got))
}

func TestTopK_SkipsMemoriesWithoutEmbedding(t *testing.T) {
	memories := []types.MemoryRecord{
		{ID: "empty"},
		{ID: "short", Embedding: []float64{1}},
		{ID: "ok", Embedding: []float64{1, 0}},
	}
	got := TopK(context.Background(), []float64{1, 0}, memories, 5, -1)
	require.Len(t, got, 2)
	assert.Equal(t, "ok", got[0].Memory.ID)
	assert.Equal(t, 0.0, got[1].Score, "dimension mismatch scores zero")
}

func TestTopK_DegenerateInput(t *testing.T) {
	ctx := context.Background()
	memories := memoriesWithScores(1)

	for name, got := range map[string][]ScoredMemory{
		"nil query":   TopK(ctx, nil, memories, 5, 0),
		"no memories": TopK(ctx, []float64{1, 0}, nil, 5, 0),
		"zero k":      TopK(ctx, []float64{1, 0}, memories, 0, 0),
		"above all":   TopK(ctx, []float64{1, 0}, memories, 5, 1.1),
		"zero query":  TopK(ctx, []float64{0, 0}, memories, 5, 0.1),
	} {
		t.Run(name, func(t *testing.T) {
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestTopK_Trace(t *testing.T) {
	tc := NewTraceCollector()
	ctx := WithTraceCollector(context.Background(), tc)
	memories := append(memoriesWithScores(0.9, 0.95, 0.5), types.MemoryRecord{ID: "bare"})

	got := TopK(ctx, []float64{1, 0}, memories, 1, 0.7)
	require.Len(t, got, 1)

	res := BuildDebugResult(tc.Events(), tc.ElapsedMS())
	assert.Equal(t, "1", res.Params["k"])
	assert.Equal(t, "0.7", res.Params["threshold"])
	assert.Equal(t, "4", res.Params["memories"])
	assert.Equal(t, 3, res.CandidatesFound)
	assert.Len(t, res.ScoredResults, 3)
	assert.Equal(t, []string{"b"}, res.Returned)

	reasons := map[string]string{}
	for _, f := range res.FilteredOut {
		reasons[f.MemoryID] = f.Reason
	}
	assert.Equal(t, "no embedding", reasons["bare"])
	assert.Contains(t, reasons["c"], "below threshold")
	assert.Equal(t, "ranked beyond top 1", reasons["a"])
}

func TestLinearRetriever(t *testing.T) {
	var r Retriever = LinearRetriever{}
	got := r.TopK(context.Background(), []float64{1, 0}, memoriesWithScores(0.6, 0.99), 5, 0.5)
	assert.Equal(t, []string{"b", "a"}, ids(got))
}
