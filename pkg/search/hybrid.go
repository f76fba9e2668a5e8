package search

import (
	"context"
	"sort"
)

// WeightedFusion merges dense and sparse hit lists into one ranked list.
// Each list is normalized by its own best score, then combined as
// semanticWeight*dense + keywordWeight*sparse. The first occurrence of
// an id supplies the returned content and metadata, so dense hits win
// ties on payload.
func WeightedFusion(dense, sparse []Hit, semanticWeight, keywordWeight float64) []Hit {
	scores := make(map[string]float64)
	payload := make(map[string]Hit)
	order := make([]string, 0, len(dense)+len(sparse))

	accumulate := func(hits []Hit, weight float64) {
		var best float64
		for _, h := range hits {
			if h.Similarity > best {
				best = h.Similarity
			}
		}
		if best == 0 {
			return
		}
		for _, h := range hits {
			if _, seen := payload[h.ID]; !seen {
				payload[h.ID] = h
				order = append(order, h.ID)
			}
			scores[h.ID] += weight * (h.Similarity / best)
		}
	}

	accumulate(dense, semanticWeight)
	accumulate(sparse, keywordWeight)

	fused := make([]Hit, 0, len(order))
	for _, id := range order {
		h := payload[id]
		h.Similarity = ClampScore(scores[id])
		fused = append(fused, h)
	}
	sort.SliceStable(fused, func(i, j int) bool { return fused[i].Similarity > fused[j].Similarity })
	return fused
}

// Reranker reorders fused hits before truncation.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []Hit, topK int) ([]Hit, error)
}

// ScoreReranker keeps the fused score order and truncates. It is the
// fixed reranker used for per-document hybrid search.
type ScoreReranker struct{}

func (ScoreReranker) Rerank(_ context.Context, _ string, hits []Hit, topK int) ([]Hit, error) {
	sorted := make([]Hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Similarity > sorted[j].Similarity })
	if topK > 0 && len(sorted) > topK {
		sorted = sorted[:topK]
	}
	return sorted, nil
}
