package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/search"
)

// stubEmbedder serves canned vectors keyed by text and fails for texts
// listed in errFor.
type stubEmbedder struct {
	vectors   map[string][]float32
	errFor    map[string]bool
	gotModels []string
}

func (s *stubEmbedder) Generate(ctx context.Context, text, model, providerType, userID string) ([]float32, error) {
	s.gotModels = append(s.gotModels, model+"/"+providerType)
	if s.errFor[text] {
		return nil, errors.New("embedding backend unavailable")
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return nil, errors.New("no vector for text")
}

// stubSearcher serves canned hits per document and records calls.
type stubSearcher struct {
	semantic      map[string][]search.Hit
	semanticErr   map[string]error
	hybrid        map[string][]search.Hit
	hybridErr     map[string]error
	semanticCalls []string
	hybridCalls   []string
	gotWeights    [][2]float64
}

func (s *stubSearcher) SemanticSearch(ctx context.Context, dataset *db.Dataset, documentID, query string, k int) ([]search.Hit, error) {
	s.semanticCalls = append(s.semanticCalls, documentID)
	if err := s.semanticErr[documentID]; err != nil {
		return nil, err
	}
	return s.semantic[documentID], nil
}

func (s *stubSearcher) HybridSearch(ctx context.Context, dataset *db.Dataset, documentID, query string, k int, semanticWeight, keywordWeight float64) ([]search.Hit, error) {
	s.hybridCalls = append(s.hybridCalls, documentID)
	s.gotWeights = append(s.gotWeights, [2]float64{semanticWeight, keywordWeight})
	if err := s.hybridErr[documentID]; err != nil {
		return nil, err
	}
	return s.hybrid[documentID], nil
}

func seedSegment(t *testing.T, gdb *gorm.DB, datasetID, documentID, content string, position int, embedding []float32) *db.Segment {
	t.Helper()

	seg := &db.Segment{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		DatasetID:  datasetID,
		Position:   position,
		Content:    content,
		Embedding:  db.FloatArray(embedding),
	}
	if err := gdb.Create(seg).Error; err != nil {
		t.Fatalf("seed segment: %v", err)
	}
	return seg
}

func TestRetrieve_ExplicitSegments(t *testing.T) {
	gdb := newTestDB(t)
	dataset := seedDataset(t, gdb, "u1", nil)

	seg1 := seedSegment(t, gdb, dataset.ID, "doc1", "alpha", 0, []float32{1, 0})
	seg2 := seedSegment(t, gdb, dataset.ID, "doc1", "beta", 1, []float32{0, 1})
	// No stored embedding and the on-the-fly one fails.
	seg3 := seedSegment(t, gdb, dataset.ID, "doc1", "gamma", 2, nil)

	embedder := &stubEmbedder{
		vectors: map[string][]float32{"which topic": {1, 0}},
		errFor:  map[string]bool{"gamma": true},
	}
	svc := NewRetrievalService(gdb, &stubSearcher{}, &stubSearcher{}, embedder)

	got, err := svc.Retrieve(context.Background(), dataset, "which topic", nil,
		[]string{seg1.ID, seg2.ID, seg3.ID}, 0)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if got[0].ID != seg1.ID || math.Abs(got[0].Similarity-1.0) > 1e-9 {
		t.Errorf("got[0] = %s/%v, want %s/1.0", got[0].ID, got[0].Similarity, seg1.ID)
	}
	if got[1].ID != seg3.ID || got[1].Similarity != defaultSegmentSimilarity {
		t.Errorf("got[1] = %s/%v, want %s/%v", got[1].ID, got[1].Similarity, seg3.ID, defaultSegmentSimilarity)
	}
	if got[2].ID != seg2.ID || got[2].Similarity != 0 {
		t.Errorf("got[2] = %s/%v, want %s/0", got[2].ID, got[2].Similarity, seg2.ID)
	}

	// The dataset has no embedding config, so the fallback must be used.
	want := models.FallbackEmbeddingModel + "/" + models.FallbackEmbeddingProvider
	if len(embedder.gotModels) == 0 || embedder.gotModels[0] != want {
		t.Errorf("embedding config = %v, want first call %q", embedder.gotModels, want)
	}
}

func TestRetrieve_ExplicitSegments_QueryEmbeddingFails(t *testing.T) {
	gdb := newTestDB(t)
	dataset := seedDataset(t, gdb, "u1", nil)
	seg1 := seedSegment(t, gdb, dataset.ID, "doc1", "alpha", 0, []float32{1, 0})
	seg2 := seedSegment(t, gdb, dataset.ID, "doc1", "beta", 1, []float32{0, 1})

	embedder := &stubEmbedder{errFor: map[string]bool{"the query": true}}
	svc := NewRetrievalService(gdb, &stubSearcher{}, &stubSearcher{}, embedder)

	got, err := svc.Retrieve(context.Background(), dataset, "the query", nil,
		[]string{seg1.ID, seg2.ID}, 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	for _, seg := range got {
		if seg.Similarity != defaultSegmentSimilarity {
			t.Errorf("segment %s similarity = %v, want %v", seg.ID, seg.Similarity, defaultSegmentSimilarity)
		}
	}
}

func TestRetrieve_ExplicitSegments_Truncates(t *testing.T) {
	gdb := newTestDB(t)
	dataset := seedDataset(t, gdb, "u1", nil)
	ids := make([]string, 0, 4)
	for i, content := range []string{"a", "b", "c", "d"} {
		seg := seedSegment(t, gdb, dataset.ID, "doc1", content, i, []float32{1, 0})
		ids = append(ids, seg.ID)
	}

	embedder := &stubEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	svc := NewRetrievalService(gdb, &stubSearcher{}, &stubSearcher{}, embedder)

	got, err := svc.Retrieve(context.Background(), dataset, "q", nil, ids, 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len(got) = %d, want 2", len(got))
	}
}

func TestRetrieve_ExplicitDocuments(t *testing.T) {
	gdb := newTestDB(t)
	// Custom dataset weights must not leak into this path.
	dataset := seedDataset(t, gdb, "u1", nil)
	dataset.EmbeddingWeight = 0.9
	dataset.BM25Weight = 0.1

	hybrid := &stubSearcher{
		hybrid: map[string][]search.Hit{
			"doc1": {{ID: "s1", Content: "one", Similarity: 0.4}},
			"doc3": {{ID: "s3", Content: "three", Similarity: 0.9}},
		},
		hybridErr: map[string]error{"doc2": errors.New("collection missing")},
	}
	svc := NewRetrievalService(gdb, &stubSearcher{}, hybrid, &stubEmbedder{})

	got, err := svc.Retrieve(context.Background(), dataset, "q",
		[]string{"doc1", "doc2", "doc3"}, nil, 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	// Caller order is preserved; doc2 is skipped; no global re-sort.
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "s1" || got[1].ID != "s3" {
		t.Errorf("order = [%s %s], want [s1 s3]", got[0].ID, got[1].ID)
	}
	if got[0].DocumentID != "doc1" {
		t.Errorf("DocumentID = %q, want doc1", got[0].DocumentID)
	}

	for _, w := range hybrid.gotWeights {
		if w[0] != models.DefaultSemanticWeight || w[1] != models.DefaultKeywordWeight {
			t.Errorf("weights = %v, want fixed %v/%v", w, models.DefaultSemanticWeight, models.DefaultKeywordWeight)
		}
	}
}

func TestRetrieve_FullDataset(t *testing.T) {
	gdb := newTestDB(t)
	dataset := seedDataset(t, gdb, "u1", nil)
	dataset.EmbeddingWeight = 0.6
	dataset.BM25Weight = 0.4
	dataset.Documents = []db.Document{
		{ID: "doc1", DatasetID: dataset.ID, IndexingStatus: db.IndexingStatusCompleted},
		{ID: "doc2", DatasetID: dataset.ID, IndexingStatus: db.IndexingStatusPending},
		{ID: "doc3", DatasetID: dataset.ID, IndexingStatus: db.IndexingStatusCompleted},
	}

	vector := &stubSearcher{
		semantic: map[string][]search.Hit{
			"doc1": {
				{ID: "s1", Content: "shared paragraph", Similarity: 0.8},
				{ID: "s2", Content: "unique to one", Similarity: 0.3},
			},
			// doc3 finds nothing semantically and falls back to hybrid.
			"doc3": {},
		},
	}
	hybrid := &stubSearcher{
		hybrid: map[string][]search.Hit{
			"doc3": {
				{ID: "s9", Content: "shared paragraph", Similarity: 0.95},
				{ID: "s10", Content: "hybrid only", Similarity: 0.5},
			},
		},
	}
	svc := NewRetrievalService(gdb, vector, hybrid, &stubEmbedder{})

	got, err := svc.Retrieve(context.Background(), dataset, "q", nil, nil, 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	// Pending doc2 is never searched.
	for _, id := range vector.semanticCalls {
		if id == "doc2" {
			t.Error("semantic search ran against a pending document")
		}
	}
	// Hybrid fallback ran for doc3 only, with the dataset weights.
	if len(hybrid.hybridCalls) != 1 || hybrid.hybridCalls[0] != "doc3" {
		t.Errorf("hybridCalls = %v, want [doc3]", hybrid.hybridCalls)
	}
	if len(hybrid.gotWeights) != 1 || hybrid.gotWeights[0] != [2]float64{0.6, 0.4} {
		t.Errorf("weights = %v, want [[0.6 0.4]]", hybrid.gotWeights)
	}

	// "shared paragraph" appears twice; the first occurrence (s1) wins
	// even though the duplicate scored higher.
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3: %+v", len(got), got)
	}
	if got[0].ID != "s1" {
		t.Errorf("got[0].ID = %s, want s1", got[0].ID)
	}
	if got[1].ID != "s10" || got[2].ID != "s2" {
		t.Errorf("tail order = [%s %s], want [s10 s2]", got[1].ID, got[2].ID)
	}
	for _, seg := range got {
		if seg.ID == "s9" {
			t.Error("duplicate content survived the dedupe")
		}
	}
}

func TestRetrieve_FullDataset_LoadsDocumentsInIngestionOrder(t *testing.T) {
	gdb := newTestDB(t)
	dataset := seedDataset(t, gdb, "u1", nil)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"docA", "docB", "docC"} {
		doc := &db.Document{
			ID:             id,
			DatasetID:      dataset.ID,
			Name:           id,
			IndexingStatus: db.IndexingStatusCompleted,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := gdb.Create(doc).Error; err != nil {
			t.Fatalf("seed document: %v", err)
		}
	}

	vector := &stubSearcher{semantic: map[string][]search.Hit{}}
	svc := NewRetrievalService(gdb, vector, &stubSearcher{}, &stubEmbedder{})

	if _, err := svc.Retrieve(context.Background(), dataset, "q", nil, nil, 5); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	want := []string{"docA", "docB", "docC"}
	if len(vector.semanticCalls) != len(want) {
		t.Fatalf("semanticCalls = %v, want %v", vector.semanticCalls, want)
	}
	for i := range want {
		if vector.semanticCalls[i] != want[i] {
			t.Errorf("semanticCalls[%d] = %s, want %s", i, vector.semanticCalls[i], want[i])
		}
	}
}

func TestRetrieve_FullDataset_SearchErrorSkipsDocument(t *testing.T) {
	gdb := newTestDB(t)
	dataset := seedDataset(t, gdb, "u1", nil)
	dataset.Documents = []db.Document{
		{ID: "doc1", DatasetID: dataset.ID, IndexingStatus: db.IndexingStatusCompleted},
		{ID: "doc2", DatasetID: dataset.ID, IndexingStatus: db.IndexingStatusCompleted},
	}

	vector := &stubSearcher{
		semantic:    map[string][]search.Hit{"doc2": {{ID: "s2", Content: "fine", Similarity: 0.7}}},
		semanticErr: map[string]error{"doc1": errors.New("index corrupt")},
	}
	svc := NewRetrievalService(gdb, vector, &stubSearcher{}, &stubEmbedder{})

	got, err := svc.Retrieve(context.Background(), dataset, "q", nil, nil, 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "s2" {
		t.Errorf("got = %+v, want single s2", got)
	}
}

func TestRetrieve_EmptyDataset(t *testing.T) {
	gdb := newTestDB(t)
	dataset := seedDataset(t, gdb, "u1", nil)
	svc := NewRetrievalService(gdb, &stubSearcher{}, &stubSearcher{}, &stubEmbedder{})

	got, err := svc.Retrieve(context.Background(), dataset, "q", nil, nil, 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got == nil {
		t.Fatal("Retrieve() = nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("len(got) = %d, want 0", len(got))
	}
}
