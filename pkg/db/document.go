package db

import "time"

// Document indexing lifecycle. Only completed documents take part in
// dataset-wide retrieval.
const (
	IndexingStatusPending    = "pending"
	IndexingStatusProcessing = "processing"
	IndexingStatusCompleted  = "completed"
	IndexingStatusFailed     = "failed"
)

type Document struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	DatasetID      string    `json:"dataset_id" gorm:"index;size:36;not null"`
	Name           string    `json:"name" gorm:"size:255;not null"`
	IndexingStatus string    `json:"indexing_status" gorm:"size:20;default:'pending'"`
	SegmentCount   int       `json:"segment_count" gorm:"default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}

// Segment is one retrievable chunk of a document. The stored embedding
// is optional; retrieval falls back to embedding the content on demand.
type Segment struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	DocumentID string     `json:"document_id" gorm:"index;size:36;not null"`
	DatasetID  string     `json:"dataset_id" gorm:"index;size:36;not null"`
	Position   int        `json:"position" gorm:"default:0"`
	Content    string     `json:"content" gorm:"type:text;not null"`
	Embedding  FloatArray `json:"embedding,omitempty" gorm:"type:text"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (Segment) TableName() string {
	return "segments"
}
