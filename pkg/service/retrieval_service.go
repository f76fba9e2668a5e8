// Segment retrieval: explicit segments, explicit documents, or the
// whole dataset, always ending in at most maxChunks grounding segments.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/search"
	"github.com/quarryhq/quarry/pkg/utils"
)

// defaultSegmentSimilarity scores segments whose embeddings could not
// be computed; they stay retrievable instead of failing the request.
const defaultSegmentSimilarity = 0.5

// VectorSearcher is the semantic-only search surface.
type VectorSearcher interface {
	SemanticSearch(ctx context.Context, dataset *db.Dataset, documentID, query string, k int) ([]search.Hit, error)
}

// HybridSearcher fuses semantic and keyword scores.
type HybridSearcher interface {
	HybridSearch(ctx context.Context, dataset *db.Dataset, documentID, query string, k int, semanticWeight, keywordWeight float64) ([]search.Hit, error)
}

// EmbeddingGenerator produces one embedding vector for a text.
type EmbeddingGenerator interface {
	Generate(ctx context.Context, text, model, providerType, userID string) ([]float32, error)
}

type RetrievalService struct {
	db       *gorm.DB
	vector   VectorSearcher
	hybrid   HybridSearcher
	embedder EmbeddingGenerator
	logger   *slog.Logger
}

func NewRetrievalService(gdb *gorm.DB, vector VectorSearcher, hybrid HybridSearcher, embedder EmbeddingGenerator) *RetrievalService {
	return &RetrievalService{
		db:       gdb,
		vector:   vector,
		hybrid:   hybrid,
		embedder: embedder,
		logger:   utils.GetLogger(),
	}
}

// Retrieve returns the ranked grounding segments for a query. Explicit
// segment ids take precedence over document ids, which take precedence
// over the full dataset walk.
func (s *RetrievalService) Retrieve(ctx context.Context, dataset *db.Dataset, query string, documentIDs, segmentIDs []string, maxChunks int) ([]models.RetrievedSegment, error) {
	if maxChunks <= 0 {
		maxChunks = models.DefaultMaxChunks
	}
	switch {
	case len(segmentIDs) > 0:
		return s.retrieveBySegmentIDs(ctx, dataset, query, segmentIDs, maxChunks)
	case len(documentIDs) > 0:
		return s.retrieveByDocumentIDs(ctx, dataset, query, documentIDs, maxChunks)
	default:
		return s.retrieveFromDataset(ctx, dataset, query, maxChunks)
	}
}

// retrieveBySegmentIDs scores the caller's segments against the query.
// Any embedding failure degrades that segment to the default similarity
// rather than failing retrieval.
func (s *RetrievalService) retrieveBySegmentIDs(ctx context.Context, dataset *db.Dataset, query string, segmentIDs []string, maxChunks int) ([]models.RetrievedSegment, error) {
	var segments []db.Segment
	if err := s.db.Where("id IN ? AND dataset_id = ?", segmentIDs, dataset.ID).Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}
	if len(segments) == 0 {
		return []models.RetrievedSegment{}, nil
	}

	model := dataset.EmbeddingModel
	if model == "" {
		model = models.FallbackEmbeddingModel
	}
	providerType := dataset.EmbeddingProvider
	if providerType == "" {
		providerType = models.FallbackEmbeddingProvider
	}

	queryEmbedding, err := s.embedder.Generate(ctx, query, model, providerType, dataset.UserID)
	if err != nil {
		s.logger.Warn("query embedding failed, scoring all segments with the default similarity", "error", err)
		queryEmbedding = nil
	}

	results := make([]models.RetrievedSegment, 0, len(segments))
	for _, seg := range segments {
		similarity := defaultSegmentSimilarity
		if queryEmbedding != nil {
			segEmbedding := []float32(seg.Embedding)
			if len(segEmbedding) == 0 {
				segEmbedding, err = s.embedder.Generate(ctx, seg.Content, model, providerType, dataset.UserID)
				if err != nil {
					s.logger.Warn("segment embedding failed, using default similarity", "segmentID", seg.ID, "error", err)
					segEmbedding = nil
				}
			}
			if len(segEmbedding) > 0 {
				similarity = search.CosineSimilarity(queryEmbedding, segEmbedding)
			}
		}
		results = append(results, models.RetrievedSegment{
			ID:         seg.ID,
			DocumentID: seg.DocumentID,
			Content:    seg.Content,
			Similarity: similarity,
		})
	}

	sortBySimilarity(results)
	return truncateSegments(results, maxChunks), nil
}

// retrieveByDocumentIDs runs per-document hybrid search with fixed
// default weights and concatenates the hits in caller order. There is
// no cross-document re-ranking in this path.
func (s *RetrievalService) retrieveByDocumentIDs(ctx context.Context, dataset *db.Dataset, query string, documentIDs []string, maxChunks int) ([]models.RetrievedSegment, error) {
	results := make([]models.RetrievedSegment, 0, maxChunks)
	for _, docID := range documentIDs {
		hits, err := s.hybrid.HybridSearch(ctx, dataset, docID, query, maxChunks,
			models.DefaultSemanticWeight, models.DefaultKeywordWeight)
		if err != nil {
			s.logger.Warn("document search failed, skipping document", "documentID", docID, "error", err)
			continue
		}
		results = append(results, hitsToSegments(docID, hits)...)
	}
	return truncateSegments(results, maxChunks), nil
}

// retrieveFromDataset walks every completed document: semantic search
// first, hybrid fallback when semantic finds nothing, then global
// dedupe, sort and truncate.
func (s *RetrievalService) retrieveFromDataset(ctx context.Context, dataset *db.Dataset, query string, maxChunks int) ([]models.RetrievedSegment, error) {
	documents := dataset.Documents
	if len(documents) == 0 {
		if err := s.db.Where("dataset_id = ?", dataset.ID).Order("created_at ASC").Find(&documents).Error; err != nil {
			return nil, fmt.Errorf("load documents: %w", err)
		}
	}
	if len(documents) == 0 {
		return []models.RetrievedSegment{}, nil
	}

	semanticWeight := dataset.EmbeddingWeight
	keywordWeight := dataset.BM25Weight
	if semanticWeight <= 0 && keywordWeight <= 0 {
		semanticWeight = models.DefaultSemanticWeight
		keywordWeight = models.DefaultKeywordWeight
	}

	collected := make([]models.RetrievedSegment, 0, maxChunks)
	for _, doc := range documents {
		if doc.IndexingStatus != db.IndexingStatusCompleted {
			s.logger.Debug("skipping document that is not ready", "documentID", doc.ID, "status", doc.IndexingStatus)
			continue
		}

		hits, err := s.vector.SemanticSearch(ctx, dataset, doc.ID, query, maxChunks)
		if err == nil && len(hits) == 0 {
			hits, err = s.hybrid.HybridSearch(ctx, dataset, doc.ID, query, maxChunks, semanticWeight, keywordWeight)
		}
		if err != nil {
			s.logger.Warn("document search failed, skipping document", "documentID", doc.ID, "error", err)
			continue
		}
		collected = append(collected, hitsToSegments(doc.ID, hits)...)
	}

	deduped := dedupeByContent(collected)
	sortBySimilarity(deduped)
	return truncateSegments(deduped, maxChunks), nil
}

func hitsToSegments(documentID string, hits []search.Hit) []models.RetrievedSegment {
	segments := make([]models.RetrievedSegment, 0, len(hits))
	for _, h := range hits {
		docID := h.DocumentID
		if docID == "" {
			docID = documentID
		}
		segments = append(segments, models.RetrievedSegment{
			ID:            h.ID,
			DocumentID:    docID,
			Content:       h.Content,
			Similarity:    search.ClampScore(h.Similarity),
			SemanticScore: h.SemanticScore,
		})
	}
	return segments
}

// dedupeByContent drops segments whose trimmed content was already
// seen, keeping the first occurrence.
func dedupeByContent(segments []models.RetrievedSegment) []models.RetrievedSegment {
	seen := make(map[string]struct{}, len(segments))
	out := make([]models.RetrievedSegment, 0, len(segments))
	for _, seg := range segments {
		key := strings.TrimSpace(seg.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, seg)
	}
	return out
}

func sortBySimilarity(segments []models.RetrievedSegment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Similarity > segments[j].Similarity
	})
}

func truncateSegments(segments []models.RetrievedSegment, limit int) []models.RetrievedSegment {
	if len(segments) > limit {
		return segments[:limit]
	}
	return segments
}
