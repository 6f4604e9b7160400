package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/tubegraph/backend/pkg/common"
)

// DistanceFunc computes the distance between two equal-length vectors.
// Smaller values mean more similar.
type DistanceFunc func(a, b []float32) float64

// CosineDistance returns 1 - cosine similarity. Vectors of mismatched
// length or zero norm are treated as maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.MaxFloat64
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.MaxFloat64
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// EuclideanDistance returns the L2 distance. Vectors of mismatched
// length are treated as maximally distant.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.MaxFloat64
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// MetricFunc resolves a metric name ("cosine" or "euclidean") to its
// distance function.
func MetricFunc(metric string) (DistanceFunc, error) {
	switch metric {
	case "cosine":
		return CosineDistance, nil
	case "euclidean":
		return EuclideanDistance, nil
	default:
		return nil, fmt.Errorf("unknown distance metric: %q", metric)
	}
}

// Entry pairs a node identifier with its embedding vector.
type Entry struct {
	ID     string
	Vector []float32
}

// Rank scores entries against the query vector and returns the k nearest
// as candidates, ordered by ascending distance. Ties in distance keep
// the entries' input order, so callers with a deterministic entry order
// get deterministic output.
func Rank(entries []Entry, query []float32, distance DistanceFunc, k int) []common.Candidate {
	if len(entries) == 0 || k <= 0 {
		return nil
	}

	candidates := make([]common.Candidate, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, common.Candidate{
			NodeID:   e.ID,
			Distance: distance(query, e.Vector),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
