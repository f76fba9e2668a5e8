package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"gorm.io/gorm"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/utils"
)

const collectionPrefix = "doc_"

// EmbeddingProvider yields a chromem embedding function bound to a
// dataset's embedding configuration.
type EmbeddingProvider interface {
	EmbeddingFuncForDataset(dataset *db.Dataset) chromem.EmbeddingFunc
}

// Engine runs vector and hybrid search over per-document chromem
// collections, with segment rows in sqlite backing the keyword side.
type Engine struct {
	db          *gorm.DB
	vectors     *chromem.DB
	embeddings  EmbeddingProvider
	reranker    Reranker
	logger      *slog.Logger
	collections sync.Map // collection name -> *chromem.Collection
}

func NewEngine(gdb *gorm.DB, vectors *chromem.DB, embeddings EmbeddingProvider) *Engine {
	return &Engine{
		db:         gdb,
		vectors:    vectors,
		embeddings: embeddings,
		reranker:   ScoreReranker{},
		logger:     utils.GetLogger(),
	}
}

// collectionFor returns the document's collection, creating it on first
// use.
func (e *Engine) collectionFor(documentID string, ef chromem.EmbeddingFunc) (*chromem.Collection, error) {
	name := collectionPrefix + documentID
	if cached, ok := e.collections.Load(name); ok {
		return cached.(*chromem.Collection), nil
	}

	col := e.vectors.GetCollection(name, ef)
	if col == nil {
		created, err := e.vectors.CreateCollection(name, nil, ef)
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", name, err)
		}
		col = created
	}
	e.collections.Store(name, col)
	return col, nil
}

// IndexSegments adds segments to their document's collection. Segments
// without a stored embedding are embedded through the dataset's
// embedding function.
func (e *Engine) IndexSegments(ctx context.Context, dataset *db.Dataset, segments []db.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	ef := e.embeddings.EmbeddingFuncForDataset(dataset)
	col, err := e.collectionFor(segments[0].DocumentID, ef)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(segments))
	for _, seg := range segments {
		docs = append(docs, chromem.Document{
			ID:        seg.ID,
			Content:   seg.Content,
			Embedding: []float32(seg.Embedding),
			Metadata: map[string]string{
				"document_id": seg.DocumentID,
				"dataset_id":  seg.DatasetID,
				"position":    strconv.Itoa(seg.Position),
			},
		})
	}
	if err := col.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("index segments for document %s: %w", segments[0].DocumentID, err)
	}
	return nil
}

// RemoveDocument drops the document's collection.
func (e *Engine) RemoveDocument(documentID string) error {
	name := collectionPrefix + documentID
	e.collections.Delete(name)
	if err := e.vectors.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

// SemanticSearch returns the top k segments of one document by cosine
// similarity to the query.
func (e *Engine) SemanticSearch(ctx context.Context, dataset *db.Dataset, documentID, query string, k int) ([]Hit, error) {
	ef := e.embeddings.EmbeddingFuncForDataset(dataset)
	col, err := e.collectionFor(documentID, ef)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults beyond the collection size.
	n := min(k, col.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic search in document %s: %w", documentID, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		similarity := ClampScore(float64(r.Similarity))
		semantic := similarity
		docID := r.Metadata["document_id"]
		if docID == "" {
			docID = documentID
		}
		hits = append(hits, Hit{
			ID:            r.ID,
			DocumentID:    docID,
			Content:       r.Content,
			Similarity:    similarity,
			SemanticScore: &semantic,
		})
	}
	return hits, nil
}

// HybridSearch fuses semantic and BM25 keyword scores over one document
// and reranks the merged list down to k.
func (e *Engine) HybridSearch(ctx context.Context, dataset *db.Dataset, documentID, query string, k int, semanticWeight, keywordWeight float64) ([]Hit, error) {
	dense, err := e.SemanticSearch(ctx, dataset, documentID, query, k)
	if err != nil {
		e.logger.Warn("semantic side of hybrid search failed, continuing with keywords only",
			"documentID", documentID, "error", err)
		dense = nil
	}

	var segments []db.Segment
	if err := e.db.Where("document_id = ?", documentID).Order("position ASC").Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("load segments for keyword search: %w", err)
	}
	sparse := NewLexicalIndex(segments).Search(query, k)

	fused := WeightedFusion(dense, sparse, semanticWeight, keywordWeight)
	return e.reranker.Rerank(ctx, query, fused, k)
}
