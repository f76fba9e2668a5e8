// Package search implements vector, keyword and hybrid retrieval over
// document segments.
package search

import "math"

// CosineSimilarity returns the cosine similarity of two vectors mapped
// into [0,1]. Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return ClampScore(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// ClampScore bounds a similarity score to [0,1].
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
