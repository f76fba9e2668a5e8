// API types for dataset and document management.
package models

import "github.com/quarryhq/quarry/pkg/db"

// CreateDatasetRequest configures a new dataset. Weights default to
// 0.7/0.3 when omitted.
type CreateDatasetRequest struct {
	Name              string           `json:"name" binding:"required"`
	Description       string           `json:"description,omitempty"`
	EmbeddingModel    string           `json:"embedding_model,omitempty"`
	EmbeddingProvider string           `json:"embedding_provider,omitempty"`
	EmbeddingWeight   *float64         `json:"embedding_weight,omitempty"`
	BM25Weight        *float64         `json:"bm25_weight,omitempty"`
	ChatSettings      *db.ChatSettings `json:"chat_settings,omitempty"`
}

// UpdateDatasetRequest carries partial dataset updates.
type UpdateDatasetRequest struct {
	Name            *string          `json:"name,omitempty"`
	Description     *string          `json:"description,omitempty"`
	EmbeddingWeight *float64         `json:"embedding_weight,omitempty"`
	BM25Weight      *float64         `json:"bm25_weight,omitempty"`
	ChatSettings    *db.ChatSettings `json:"chat_settings,omitempty"`
}

// CreateDocumentRequest adds a document to a dataset. Content is split
// into segments, embedded and indexed before the call returns.
type CreateDocumentRequest struct {
	Name    string `json:"name" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CreatePromptRequest registers a reusable prompt template.
type CreatePromptRequest struct {
	Name               string `json:"name" binding:"required"`
	SystemPrompt       string `json:"system_prompt" binding:"required"`
	UserPromptTemplate string `json:"user_prompt_template,omitempty"`
}
