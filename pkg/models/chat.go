// API types for the chat pipeline
package models

import (
	"github.com/quarryhq/quarry/pkg/db"
)

// ========== Chat request/response ==========

// ChatRequest is one question against a dataset. DocumentIDs and
// SegmentIDs narrow retrieval; Provider may be a provider id or a
// provider type string. Temperature and MaxChunks always win over
// stored settings.
type ChatRequest struct {
	Message           string   `json:"message" binding:"required"`
	DatasetID         string   `json:"dataset_id" binding:"required"`
	DocumentIDs       []string `json:"document_ids,omitempty"`
	SegmentIDs        []string `json:"segment_ids,omitempty"`
	Provider          string   `json:"provider,omitempty"`
	Model             string   `json:"model,omitempty"`
	PromptID          string   `json:"prompt_id,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxChunks         *int     `json:"max_chunks,omitempty"`
	ConversationID    string   `json:"conversation_id,omitempty"`
	ConversationTitle string   `json:"conversation_title,omitempty"`
}

// CreateConversationRequest starts a conversation explicitly, optionally
// snapshotting a document or segment selection.
type CreateConversationRequest struct {
	DatasetID   string   `json:"dataset_id" binding:"required"`
	Title       string   `json:"title,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	SegmentIDs  []string `json:"segment_ids,omitempty"`
}

// SourceChunk is one grounding passage echoed back to the caller.
type SourceChunk struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Similarity   float64 `json:"similarity"`
}

// ResponseMetadata describes how the answer was produced.
// ProcessingTime is in milliseconds.
type ResponseMetadata struct {
	TokensUsed     int    `json:"tokens_used,omitempty"`
	ProcessingTime int64  `json:"processing_time"`
	Model          string `json:"model"`
	Provider       string `json:"provider"`
}

// ChatResponse is the terminal envelope of a chat turn.
type ChatResponse struct {
	Message        *db.Message      `json:"message"`
	ConversationID string           `json:"conversation_id"`
	SourceChunks   []SourceChunk    `json:"source_chunks"`
	Metadata       ResponseMetadata `json:"metadata"`
}

// RetrievedSegment is one ranked grounding chunk produced by retrieval.
type RetrievedSegment struct {
	ID            string   `json:"id"`
	DocumentID    string   `json:"document_id"`
	Content       string   `json:"content"`
	Similarity    float64  `json:"similarity"`
	SemanticScore *float64 `json:"semantic_score,omitempty"`
}

// ========== Generation plumbing ==========

// Completion is the provider-agnostic result of one chat call.
type Completion struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used,omitempty"`
	Model      string `json:"model,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

// StreamDelta is one incremental piece of a provider stream.
type StreamDelta struct {
	Content string
	Err     error
}

// Stream event types shared by the generator and the SSE surface.
const (
	StreamEventDelta = "delta"
	StreamEventDone  = "done"
	StreamEventError = "error"
)

// StreamChunk is what the generator emits: deltas, then either a done
// chunk carrying the aggregated completion or an error chunk.
type StreamChunk struct {
	Type       string      `json:"type"`
	Content    string      `json:"content,omitempty"`
	Completion *Completion `json:"completion,omitempty"`
	Err        string      `json:"error,omitempty"`
}

// ChatStreamEvent is one SSE frame of a streaming chat turn.
type ChatStreamEvent struct {
	Type     string        `json:"type"`
	Content  string        `json:"content,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}
