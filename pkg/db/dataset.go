// Database models for datasets, the unit a chat request is scoped to.
package db

import "time"

// Dataset groups documents that are searched together. Hybrid search
// weights and the optional chat settings blob live here so a dataset
// can carry its own retrieval and generation defaults.
type Dataset struct {
	ID                string        `json:"id" gorm:"primaryKey;size:36"`
	UserID            string        `json:"user_id" gorm:"index;size:36;not null"`
	Name              string        `json:"name" gorm:"size:200;not null"`
	Description       string        `json:"description,omitempty" gorm:"size:1000"`
	EmbeddingModel    string        `json:"embedding_model,omitempty" gorm:"size:100"`
	EmbeddingProvider string        `json:"embedding_provider,omitempty" gorm:"size:50"`
	EmbeddingWeight   float64       `json:"embedding_weight" gorm:"default:0.7"`
	BM25Weight        float64       `json:"bm25_weight" gorm:"default:0.3"`
	ChatSettings      *ChatSettings `json:"chat_settings,omitempty" gorm:"type:text"`
	Documents         []Document    `json:"documents,omitempty" gorm:"foreignKey:DatasetID"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (Dataset) TableName() string {
	return "datasets"
}
