package models

import "github.com/quarryhq/quarry/pkg/db"

// System-level defaults applied when neither the dataset nor the user
// carries chat settings, plus ambient retrieval fallbacks.
const (
	DefaultProviderType = "openai"
	DefaultModelID      = "gpt-4o-mini"
	DefaultTemperature  = 0.7
	DefaultMaxChunks    = 5
	DefaultHistoryLimit = 10

	DefaultSemanticWeight = 0.7
	DefaultKeywordWeight  = 0.3

	FallbackEmbeddingModel    = "text-embedding-3-small"
	FallbackEmbeddingProvider = "openai"
)

// EffectiveSettings is the fully resolved generation configuration for
// one request. ProviderID always names a concrete provider row.
type EffectiveSettings struct {
	ProviderID     string       `json:"provider_id"`
	ProviderKind   ProviderKind `json:"provider_kind"`
	Model          string       `json:"model"`
	Temperature    float64      `json:"temperature"`
	MaxChunks      int          `json:"max_chunks"`
	PromptID       string       `json:"prompt_id,omitempty"`
	IncludeHistory bool         `json:"include_history"`
	HistoryLimit   int          `json:"history_limit"`
}

// UpdateUserSettingsRequest replaces a user's stored chat settings.
type UpdateUserSettingsRequest struct {
	ChatSettings *db.ChatSettings `json:"chat_settings"`
}
