package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
)

// ingestEmbedder accepts any text, recording what it was asked to embed.
type ingestEmbedder struct {
	failOn     string
	texts      []string
	gotConfigs []string
}

func (e *ingestEmbedder) Generate(_ context.Context, text, model, providerType, _ string) ([]float32, error) {
	e.texts = append(e.texts, text)
	e.gotConfigs = append(e.gotConfigs, model+"/"+providerType)
	if e.failOn != "" && text == e.failOn {
		return nil, errors.New("embedding backend unavailable")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type recordingIndexer struct {
	indexErr  error
	removeErr error
	indexed   [][]db.Segment
	removed   []string
}

func (r *recordingIndexer) IndexSegments(_ context.Context, _ *db.Dataset, segments []db.Segment) error {
	if r.indexErr != nil {
		return r.indexErr
	}
	r.indexed = append(r.indexed, segments)
	return nil
}

func (r *recordingIndexer) RemoveDocument(documentID string) error {
	r.removed = append(r.removed, documentID)
	return r.removeErr
}

func newDatasetFixture(t *testing.T) (*DatasetService, *recordingIndexer, *ingestEmbedder) {
	t.Helper()

	gdb := newTestDB(t)
	indexer := &recordingIndexer{}
	embedder := &ingestEmbedder{}
	return NewDatasetService(gdb, indexer, embedder), indexer, embedder
}

func TestCreateDataset_WeightDefaults(t *testing.T) {
	svc, _, _ := newDatasetFixture(t)

	t.Run("defaults", func(t *testing.T) {
		created, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "notes"})
		if err != nil {
			t.Fatalf("CreateDataset: %v", err)
		}
		if created.EmbeddingWeight != models.DefaultSemanticWeight {
			t.Errorf("EmbeddingWeight = %v, want %v", created.EmbeddingWeight, models.DefaultSemanticWeight)
		}
		if created.BM25Weight != models.DefaultKeywordWeight {
			t.Errorf("BM25Weight = %v, want %v", created.BM25Weight, models.DefaultKeywordWeight)
		}
	})

	t.Run("explicit weights and settings", func(t *testing.T) {
		created, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{
			Name:            "tuned",
			EmbeddingWeight: float64Ptr(0.9),
			BM25Weight:      float64Ptr(0.1),
			ChatSettings:    &db.ChatSettings{Model: "gpt-4o"},
		})
		if err != nil {
			t.Fatalf("CreateDataset: %v", err)
		}

		got, err := svc.GetDataset("u1", created.ID)
		if err != nil {
			t.Fatalf("GetDataset: %v", err)
		}
		if got.EmbeddingWeight != 0.9 || got.BM25Weight != 0.1 {
			t.Errorf("weights = %v/%v, want 0.9/0.1", got.EmbeddingWeight, got.BM25Weight)
		}
		if got.ChatSettings == nil || got.ChatSettings.Model != "gpt-4o" {
			t.Errorf("ChatSettings = %+v", got.ChatSettings)
		}
	})
}

func TestAddDocument_IngestionPipeline(t *testing.T) {
	svc, indexer, embedder := newDatasetFixture(t)
	dataset, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "notes"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	content := "First paragraph.\n\nSecond paragraph,\nspanning two lines.\r\n\r\nThird one."
	doc, err := svc.AddDocument(context.Background(), "u1", dataset.ID, &models.CreateDocumentRequest{
		Name:    "guide.txt",
		Content: content,
	})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	if doc.IndexingStatus != db.IndexingStatusCompleted {
		t.Errorf("IndexingStatus = %q, want completed", doc.IndexingStatus)
	}
	if doc.SegmentCount != 3 {
		t.Errorf("SegmentCount = %d, want 3", doc.SegmentCount)
	}

	wantParts := []string{"First paragraph.", "Second paragraph,\nspanning two lines.", "Third one."}
	if strings.Join(embedder.texts, "|") != strings.Join(wantParts, "|") {
		t.Errorf("embedded texts = %q", embedder.texts)
	}
	if embedder.gotConfigs[0] != models.FallbackEmbeddingModel+"/"+models.FallbackEmbeddingProvider {
		t.Errorf("embedding config = %q, want the fallback pair", embedder.gotConfigs[0])
	}

	if len(indexer.indexed) != 1 || len(indexer.indexed[0]) != 3 {
		t.Fatalf("indexer calls = %d, want one batch of 3 segments", len(indexer.indexed))
	}

	segments, err := svc.ListSegments("u1", dataset.ID, doc.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("stored %d segments, want 3", len(segments))
	}
	for i, seg := range segments {
		if seg.Position != i {
			t.Errorf("segment %d position = %d", i, seg.Position)
		}
		if seg.Content != wantParts[i] {
			t.Errorf("segment %d content = %q, want %q", i, seg.Content, wantParts[i])
		}
		if len(seg.Embedding) != 3 {
			t.Errorf("segment %d embedding length = %d", i, len(seg.Embedding))
		}
	}
}

func TestAddDocument_CustomEmbeddingConfig(t *testing.T) {
	svc, _, embedder := newDatasetFixture(t)
	dataset, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{
		Name:              "tuned",
		EmbeddingModel:    "nomic-embed-text",
		EmbeddingProvider: "ollama",
	})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	if _, err := svc.AddDocument(context.Background(), "u1", dataset.ID, &models.CreateDocumentRequest{
		Name:    "a.txt",
		Content: "Hello.",
	}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if embedder.gotConfigs[0] != "nomic-embed-text/ollama" {
		t.Errorf("embedding config = %q, want the dataset's", embedder.gotConfigs[0])
	}
}

func TestAddDocument_EmptyContent(t *testing.T) {
	svc, _, _ := newDatasetFixture(t)
	dataset, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "notes"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	_, err = svc.AddDocument(context.Background(), "u1", dataset.ID, &models.CreateDocumentRequest{
		Name:    "blank.txt",
		Content: "  \n\n \t\n ",
	})
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}

	docs, err := svc.ListDocuments("u1", dataset.ID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("no document row should be created, got %d", len(docs))
	}
}

func TestAddDocument_EmbeddingFailureMarksFailed(t *testing.T) {
	svc, _, embedder := newDatasetFixture(t)
	embedder.failOn = "Second paragraph."
	dataset, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "notes"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	_, err = svc.AddDocument(context.Background(), "u1", dataset.ID, &models.CreateDocumentRequest{
		Name:    "guide.txt",
		Content: "First paragraph.\n\nSecond paragraph.",
	})
	if err == nil {
		t.Fatal("AddDocument should fail")
	}
	if !strings.Contains(err.Error(), "embed segment 1") {
		t.Errorf("error should name the failing segment: %v", err)
	}

	docs, err := svc.ListDocuments("u1", dataset.ID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].IndexingStatus != db.IndexingStatusFailed {
		t.Fatalf("document should be recorded as failed, got %+v", docs)
	}

	segments, err := svc.ListSegments("u1", dataset.ID, docs[0].ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("no segments should be stored after an embedding failure, got %d", len(segments))
	}
}

func TestAddDocument_IndexerFailureMarksFailed(t *testing.T) {
	svc, indexer, _ := newDatasetFixture(t)
	indexer.indexErr = errors.New("vector store unavailable")
	dataset, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "notes"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	_, err = svc.AddDocument(context.Background(), "u1", dataset.ID, &models.CreateDocumentRequest{
		Name:    "guide.txt",
		Content: "Hello.",
	})
	if err == nil || !strings.Contains(err.Error(), "index segments") {
		t.Fatalf("expected an indexing error, got %v", err)
	}

	docs, err := svc.ListDocuments("u1", dataset.ID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].IndexingStatus != db.IndexingStatusFailed {
		t.Fatalf("document should be recorded as failed, got %+v", docs)
	}
}

func TestSplitParagraphs(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []string
	}{
		{"blank line split", "Para one.\n\nPara two.", []string{"Para one.", "Para two."}},
		{"windows line endings", "A\r\n\r\nB", []string{"A", "B"}},
		{"single newline kept", "Line one\nstill same\n\nNext", []string{"Line one\nstill same", "Next"}},
		{"whitespace only separator", "a\n \t \nb", []string{"a", "b"}},
		{"multiple blank lines", "one\n\n\n\ntwo", []string{"one", "two"}},
		{"outer whitespace trimmed", "  padded  \n\n", []string{"padded"}},
		{"only whitespace", "\n\n  \n\t\n", nil},
		{"empty", "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitParagraphs(tc.content)
			if len(got) != len(tc.want) {
				t.Fatalf("splitParagraphs(%q) = %q, want %q", tc.content, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("part %d = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestUpdateDataset(t *testing.T) {
	svc, _, _ := newDatasetFixture(t)
	created, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "notes", Description: "before"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	t.Run("no-op without fields", func(t *testing.T) {
		got, err := svc.UpdateDataset("u1", created.ID, &models.UpdateDatasetRequest{})
		if err != nil {
			t.Fatalf("UpdateDataset: %v", err)
		}
		if got.Name != "notes" || got.Description != "before" {
			t.Errorf("dataset changed on empty update: %+v", got)
		}
	})

	t.Run("applies provided fields", func(t *testing.T) {
		name := "renamed"
		weight := 0.8
		_, err := svc.UpdateDataset("u1", created.ID, &models.UpdateDatasetRequest{
			Name:            &name,
			EmbeddingWeight: &weight,
			ChatSettings:    &db.ChatSettings{Temperature: float64Ptr(0.2)},
		})
		if err != nil {
			t.Fatalf("UpdateDataset: %v", err)
		}

		got, err := svc.GetDataset("u1", created.ID)
		if err != nil {
			t.Fatalf("GetDataset: %v", err)
		}
		if got.Name != "renamed" {
			t.Errorf("Name = %q", got.Name)
		}
		if got.Description != "before" {
			t.Errorf("Description = %q, should be untouched", got.Description)
		}
		if got.EmbeddingWeight != 0.8 {
			t.Errorf("EmbeddingWeight = %v", got.EmbeddingWeight)
		}
		if got.ChatSettings == nil || got.ChatSettings.Temperature == nil || *got.ChatSettings.Temperature != 0.2 {
			t.Errorf("ChatSettings = %+v", got.ChatSettings)
		}
	})

	t.Run("user scoped", func(t *testing.T) {
		name := "stolen"
		if _, err := svc.UpdateDataset("intruder", created.ID, &models.UpdateDatasetRequest{Name: &name}); !errors.Is(err, ErrDatasetNotFound) {
			t.Fatalf("expected ErrDatasetNotFound, got %v", err)
		}
	})
}

func TestDeleteDocument(t *testing.T) {
	svc, indexer, _ := newDatasetFixture(t)
	dataset, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "notes"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	doc, err := svc.AddDocument(context.Background(), "u1", dataset.ID, &models.CreateDocumentRequest{
		Name:    "guide.txt",
		Content: "One.\n\nTwo.",
	})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	if err := svc.DeleteDocument("u1", dataset.ID, "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := svc.DeleteDocument("intruder", dataset.ID, doc.ID); !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound for a foreign user, got %v", err)
	}

	if err := svc.DeleteDocument("u1", dataset.ID, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := svc.GetDocument("u1", dataset.ID, doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound after delete, got %v", err)
	}
	segments, err := svc.ListSegments("u1", dataset.ID, doc.ID)
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("segments of a deleted document: got %v, %v", segments, err)
	}
	if len(indexer.removed) != 1 || indexer.removed[0] != doc.ID {
		t.Errorf("vector collection removals = %v, want the document", indexer.removed)
	}
}

func TestDeleteDataset_Cascades(t *testing.T) {
	gdb := newTestDB(t)
	indexer := &recordingIndexer{}
	svc := NewDatasetService(gdb, indexer, &ingestEmbedder{})

	dataset, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "notes"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	doc, err := svc.AddDocument(context.Background(), "u1", dataset.ID, &models.CreateDocumentRequest{
		Name:    "guide.txt",
		Content: "One.\n\nTwo.",
	})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	conv := &db.Conversation{
		ID:        uuid.New().String(),
		DatasetID: dataset.ID,
		UserID:    "u1",
		Title:     "New Chat",
	}
	if err := gdb.Create(conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	msg := &db.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           db.RoleUser,
		Status:         db.MessageStatusCompleted,
		Content:        "hello",
	}
	if err := gdb.Create(msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}

	if err := svc.DeleteDataset("intruder", dataset.ID); !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound for a foreign user, got %v", err)
	}
	if err := svc.DeleteDataset("u1", dataset.ID); err != nil {
		t.Fatalf("DeleteDataset: %v", err)
	}

	var datasets, documents, segments, conversations, messages int64
	gdb.Model(&db.Dataset{}).Count(&datasets)
	gdb.Model(&db.Document{}).Count(&documents)
	gdb.Model(&db.Segment{}).Count(&segments)
	gdb.Model(&db.Conversation{}).Count(&conversations)
	gdb.Model(&db.Message{}).Count(&messages)
	if datasets+documents+segments+conversations+messages != 0 {
		t.Errorf("rows left behind: datasets=%d documents=%d segments=%d conversations=%d messages=%d",
			datasets, documents, segments, conversations, messages)
	}

	var sawDoc bool
	for _, id := range indexer.removed {
		if id == doc.ID {
			sawDoc = true
		}
	}
	if !sawDoc {
		t.Errorf("vector collection removals = %v, want the document included", indexer.removed)
	}
}

func TestListDocuments_IngestionOrder(t *testing.T) {
	svc, _, _ := newDatasetFixture(t)
	gdb := svc.db
	dataset, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "notes"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"first.txt", "second.txt", "third.txt"} {
		doc := &db.Document{
			ID:             uuid.New().String(),
			DatasetID:      dataset.ID,
			Name:           name,
			IndexingStatus: db.IndexingStatusCompleted,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := gdb.Create(doc).Error; err != nil {
			t.Fatalf("seed document: %v", err)
		}
	}

	docs, err := svc.ListDocuments("u1", dataset.ID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	if strings.Join(names, ",") != "first.txt,second.txt,third.txt" {
		t.Errorf("documents = %v, want ingestion order", names)
	}

	other, err := svc.CreateDataset("u1", &models.CreateDatasetRequest{Name: "other"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if _, err := svc.GetDocument("u1", other.ID, docs[0].ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("documents must be scoped to their dataset, got %v", err)
	}
}
