// Package vector provides the small numeric helpers used for semantic
// retrieval. None of the functions return errors: invalid input degrades to a
// zero score or an empty vector so one bad record cannot block a search.
package vector

import (
	"math"

	"github.com/solo125812/st-voyageai-memory/internal/logging"
)

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Missing or unequal-length vectors and zero-norm vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		logging.Default().Debug("cosine similarity on missing vector", "len_a", len(a), "len_b", len(b))
		return 0
	}
	if len(a) != len(b) {
		logging.Default().Debug("cosine similarity dimension mismatch", "len_a", len(a), "len_b", len(b))
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		logging.Default().Debug("cosine similarity on zero-norm vector")
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical vectors a hair past 1.
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// Normalize scales v to unit length. A zero-norm input is returned unchanged.
func Normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)

	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// Average returns the element-wise mean of vectors. All vectors must share
// the dimensionality of the first one; callers are responsible for that.
// Empty input yields an empty result.
func Average(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return []float64{}
	}

	out := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for i := range out {
			out[i] += v[i]
		}
	}
	n := float64(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

// ToFloat64 widens a float32 embedding as returned by most model runtimes.
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
