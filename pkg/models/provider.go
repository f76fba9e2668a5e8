// API types for provider management and model listing.
package models

import (
	"strings"

	"github.com/quarryhq/quarry/pkg/db"
)

// ProviderKind selects the client implementation behind a provider type.
type ProviderKind string

const (
	// KindAggregator covers OpenAI-compatible cloud endpoints.
	KindAggregator ProviderKind = "aggregator"
	KindDashScope  ProviderKind = "dashscope"
	KindPerplexity ProviderKind = "perplexity"
	// KindOllama covers local OpenAI-ish servers reachable over HTTP.
	KindOllama  ProviderKind = "ollama"
	KindBuiltin ProviderKind = "builtin"
)

// KindForType maps a stored provider type to its client family.
// Unknown types are served as aggregators so a new cloud vendor with an
// OpenAI-compatible API works without a code change.
func KindForType(providerType string) ProviderKind {
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case "openai", "anthropic", "openrouter":
		return KindAggregator
	case "dashscope":
		return KindDashScope
	case "perplexity":
		return KindPerplexity
	case "ollama", "custom":
		return KindOllama
	case "builtin":
		return KindBuiltin
	default:
		return KindAggregator
	}
}

// CreateProviderRequest configures a new provider. Name, BaseURL and
// Models fall back to the preset for the type when omitted.
type CreateProviderRequest struct {
	Name    string         `json:"name,omitempty"`
	Type    string         `json:"type" binding:"required"`
	APIKey  string         `json:"api_key,omitempty"`
	BaseURL string         `json:"base_url,omitempty"`
	Models  []db.ModelInfo `json:"models,omitempty"`
}

// UpdateProviderRequest carries partial provider updates.
type UpdateProviderRequest struct {
	Name    *string         `json:"name,omitempty"`
	APIKey  *string         `json:"api_key,omitempty"`
	BaseURL *string         `json:"base_url,omitempty"`
	Models  *[]db.ModelInfo `json:"models,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
}

// ProviderModels is one provider's entry in the availability-aware
// model listing.
type ProviderModels struct {
	ProviderID string       `json:"provider_id"`
	Name       string       `json:"name"`
	Type       string       `json:"type"`
	Kind       ProviderKind `json:"kind"`
	Available  bool         `json:"available"`
	Message    string       `json:"message,omitempty"`
	Models     db.ModelList `json:"models"`
}

// TestProviderRequest optionally names the model to test with. When
// empty, the first catalog model is used.
type TestProviderRequest struct {
	Model string `json:"model,omitempty"`
}
