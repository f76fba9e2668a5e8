// Dataset Service - dataset and document management with ingestion
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/utils"
)

var (
	ErrDatasetNotFound  = errors.New("dataset not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyDocument    = errors.New("document content is empty")
)

// paragraphBreak splits document content into segments on blank lines.
var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

// SegmentIndexer maintains the vector index behind retrieval.
type SegmentIndexer interface {
	IndexSegments(ctx context.Context, dataset *db.Dataset, segments []db.Segment) error
	RemoveDocument(documentID string) error
}

// DatasetService handles dataset CRUD and document ingestion: splitting
// content into segments, embedding them and keeping the vector index in
// step with the store.
type DatasetService struct {
	db       *gorm.DB
	indexer  SegmentIndexer
	embedder EmbeddingGenerator
	logger   *slog.Logger
}

// NewDatasetService creates a new dataset service
func NewDatasetService(gdb *gorm.DB, indexer SegmentIndexer, embedder EmbeddingGenerator) *DatasetService {
	return &DatasetService{
		db:       gdb,
		indexer:  indexer,
		embedder: embedder,
		logger:   utils.GetLogger(),
	}
}

// ========== Dataset Management ==========

// CreateDataset registers a dataset. Fusion weights default to 0.7
// semantic / 0.3 keyword when not supplied.
func (s *DatasetService) CreateDataset(userID string, req *models.CreateDatasetRequest) (*db.Dataset, error) {
	dataset := &db.Dataset{
		ID:                uuid.New().String(),
		UserID:            userID,
		Name:              req.Name,
		Description:       req.Description,
		EmbeddingModel:    req.EmbeddingModel,
		EmbeddingProvider: req.EmbeddingProvider,
		EmbeddingWeight:   models.DefaultSemanticWeight,
		BM25Weight:        models.DefaultKeywordWeight,
		ChatSettings:      req.ChatSettings,
	}
	if req.EmbeddingWeight != nil {
		dataset.EmbeddingWeight = *req.EmbeddingWeight
	}
	if req.BM25Weight != nil {
		dataset.BM25Weight = *req.BM25Weight
	}

	if err := s.db.Create(dataset).Error; err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}
	return dataset, nil
}

// GetDataset retrieves a dataset owned by the user
func (s *DatasetService) GetDataset(userID, id string) (*db.Dataset, error) {
	var dataset db.Dataset
	err := s.db.Preload("Documents").
		Where("id = ? AND user_id = ?", id, userID).
		First(&dataset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dataset, nil
}

// ListDatasets lists the user's datasets, newest first
func (s *DatasetService) ListDatasets(userID string) ([]db.Dataset, error) {
	var datasets []db.Dataset
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&datasets).Error; err != nil {
		return nil, err
	}
	return datasets, nil
}

// UpdateDataset applies the non-nil fields of the request.
func (s *DatasetService) UpdateDataset(userID, id string, req *models.UpdateDatasetRequest) (*db.Dataset, error) {
	dataset, err := s.GetDataset(userID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
		dataset.Name = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
		dataset.Description = *req.Description
	}
	if req.EmbeddingWeight != nil {
		updates["embedding_weight"] = *req.EmbeddingWeight
		dataset.EmbeddingWeight = *req.EmbeddingWeight
	}
	if req.BM25Weight != nil {
		updates["bm25_weight"] = *req.BM25Weight
		dataset.BM25Weight = *req.BM25Weight
	}
	if req.ChatSettings != nil {
		updates["chat_settings"] = req.ChatSettings
		dataset.ChatSettings = req.ChatSettings
	}
	if len(updates) == 0 {
		return dataset, nil
	}

	if err := s.db.Model(&db.Dataset{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update dataset: %w", err)
	}
	return dataset, nil
}

// DeleteDataset removes the dataset with its documents, segments and
// conversations. Vector collections are dropped after the transaction.
func (s *DatasetService) DeleteDataset(userID, id string) error {
	dataset, err := s.GetDataset(userID, id)
	if err != nil {
		return err
	}

	var conversationIDs []string
	if err := s.db.Model(&db.Conversation{}).Where("dataset_id = ?", id).
		Pluck("id", &conversationIDs).Error; err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if len(conversationIDs) > 0 {
			if err := tx.Where("conversation_id IN ?", conversationIDs).Delete(&db.Message{}).Error; err != nil {
				return err
			}
			if err := tx.Where("dataset_id = ?", id).Delete(&db.Conversation{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("dataset_id = ?", id).Delete(&db.Segment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("dataset_id = ?", id).Delete(&db.Document{}).Error; err != nil {
			return err
		}
		return tx.Delete(&db.Dataset{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}

	for _, doc := range dataset.Documents {
		if err := s.indexer.RemoveDocument(doc.ID); err != nil {
			s.logger.Warn("Failed to drop vector collection", "documentID", doc.ID, "error", err)
		}
	}
	return nil
}

// ========== Document Ingestion ==========

// AddDocument ingests content into a dataset: the document is created
// pending, content is split into paragraph segments, each segment is
// embedded and indexed, and the document ends completed. Any embedding
// or indexing failure leaves the document in the failed state, which
// excludes it from retrieval.
func (s *DatasetService) AddDocument(ctx context.Context, userID, datasetID string, req *models.CreateDocumentRequest) (*db.Document, error) {
	dataset, err := s.GetDataset(userID, datasetID)
	if err != nil {
		return nil, err
	}

	parts := splitParagraphs(req.Content)
	if len(parts) == 0 {
		return nil, ErrEmptyDocument
	}

	doc := &db.Document{
		ID:             uuid.New().String(),
		DatasetID:      dataset.ID,
		Name:           req.Name,
		IndexingStatus: db.IndexingStatusPending,
	}
	if err := s.db.Create(doc).Error; err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	s.setIndexingStatus(doc, db.IndexingStatusProcessing, 0)

	segments, err := s.embedSegments(ctx, dataset, doc, parts)
	if err != nil {
		s.setIndexingStatus(doc, db.IndexingStatusFailed, 0)
		return nil, err
	}

	if err := s.db.Create(&segments).Error; err != nil {
		s.setIndexingStatus(doc, db.IndexingStatusFailed, 0)
		return nil, fmt.Errorf("save segments: %w", err)
	}

	if err := s.indexer.IndexSegments(ctx, dataset, segments); err != nil {
		s.setIndexingStatus(doc, db.IndexingStatusFailed, 0)
		return nil, fmt.Errorf("index segments: %w", err)
	}

	s.setIndexingStatus(doc, db.IndexingStatusCompleted, len(segments))
	return doc, nil
}

// ListDocuments lists a dataset's documents in ingestion order.
func (s *DatasetService) ListDocuments(userID, datasetID string) ([]db.Document, error) {
	if _, err := s.GetDataset(userID, datasetID); err != nil {
		return nil, err
	}

	var docs []db.Document
	if err := s.db.Where("dataset_id = ?", datasetID).
		Order("created_at ASC").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// GetDocument retrieves one document from a dataset the user owns.
func (s *DatasetService) GetDocument(userID, datasetID, documentID string) (*db.Document, error) {
	if _, err := s.GetDataset(userID, datasetID); err != nil {
		return nil, err
	}

	var doc db.Document
	err := s.db.Where("id = ? AND dataset_id = ?", documentID, datasetID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document, its segments and its vector
// collection.
func (s *DatasetService) DeleteDocument(userID, datasetID, documentID string) error {
	if _, err := s.GetDocument(userID, datasetID, documentID); err != nil {
		return err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&db.Segment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&db.Document{}, "id = ?", documentID).Error
	})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if err := s.indexer.RemoveDocument(documentID); err != nil {
		s.logger.Warn("Failed to drop vector collection", "documentID", documentID, "error", err)
	}
	return nil
}

// ListSegments lists a document's segments in position order.
func (s *DatasetService) ListSegments(userID, datasetID, documentID string) ([]db.Segment, error) {
	if _, err := s.GetDocument(userID, datasetID, documentID); err != nil {
		return nil, err
	}

	var segments []db.Segment
	if err := s.db.Where("document_id = ?", documentID).
		Order("position ASC").
		Find(&segments).Error; err != nil {
		return nil, err
	}
	return segments, nil
}

// embedSegments builds the segment rows for a document, embedding each
// paragraph with the dataset's embedding configuration.
func (s *DatasetService) embedSegments(ctx context.Context, dataset *db.Dataset, doc *db.Document, parts []string) ([]db.Segment, error) {
	model := dataset.EmbeddingModel
	if model == "" {
		model = models.FallbackEmbeddingModel
	}
	providerType := dataset.EmbeddingProvider
	if providerType == "" {
		providerType = models.FallbackEmbeddingProvider
	}

	segments := make([]db.Segment, 0, len(parts))
	for i, part := range parts {
		vector, err := s.embedder.Generate(ctx, part, model, providerType, dataset.UserID)
		if err != nil {
			return nil, fmt.Errorf("embed segment %d: %w", i, err)
		}
		segments = append(segments, db.Segment{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			DatasetID:  dataset.ID,
			Position:   i,
			Content:    part,
			Embedding:  db.FloatArray(vector),
		})
	}
	return segments, nil
}

func (s *DatasetService) setIndexingStatus(doc *db.Document, status string, segmentCount int) {
	doc.IndexingStatus = status
	doc.SegmentCount = segmentCount

	updates := map[string]interface{}{"indexing_status": status, "segment_count": segmentCount}
	if err := s.db.Model(&db.Document{}).Where("id = ?", doc.ID).Updates(updates).Error; err != nil {
		s.logger.Error("Failed to update indexing status",
			"documentID", doc.ID, "status", status, "error", err)
	}
}

// splitParagraphs breaks content into trimmed paragraph segments.
func splitParagraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var parts []string
	for _, part := range paragraphBreak.Split(content, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}
