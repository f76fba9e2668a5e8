// Embedding generation backed by the configured provider's embedding API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/philippgille/chromem-go"
	"gorm.io/gorm"

	dashscopeembed "github.com/cloudwego/eino-ext/components/embedding/dashscope"
	ollamaembed "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/utils"
)

// EmbeddingService creates and caches eino embedders per provider
// type + model and exposes them both as a plain vector call and as a
// chromem embedding function.
type EmbeddingService struct {
	db        *gorm.DB
	logger    *slog.Logger
	embedders sync.Map // "type/model/user" -> embedding.Embedder
}

func NewEmbeddingService(gdb *gorm.DB) *EmbeddingService {
	return &EmbeddingService{
		db:     gdb,
		logger: utils.GetLogger(),
	}
}

// Generate embeds text with the given model and provider type.
func (s *EmbeddingService) Generate(ctx context.Context, text, model, providerType, userID string) ([]float32, error) {
	embedder, err := s.embedderFor(ctx, model, providerType, userID)
	if err != nil {
		return nil, err
	}

	vectors, err := embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vectors) == 0 {
		return nil, errors.New("embedding service returned no vectors")
	}

	// eino embedders return float64, chromem and storage use float32.
	result := make([]float32, len(vectors[0]))
	for i, v := range vectors[0] {
		result[i] = float32(v)
	}
	return result, nil
}

// EmbeddingFuncForDataset adapts the service to chromem's embedding
// function, bound to the dataset's embedding configuration.
func (s *EmbeddingService) EmbeddingFuncForDataset(dataset *db.Dataset) chromem.EmbeddingFunc {
	model := dataset.EmbeddingModel
	if model == "" {
		model = models.FallbackEmbeddingModel
	}
	providerType := dataset.EmbeddingProvider
	if providerType == "" {
		providerType = models.FallbackEmbeddingProvider
	}
	userID := dataset.UserID

	return func(ctx context.Context, text string) ([]float32, error) {
		return s.Generate(ctx, text, model, providerType, userID)
	}
}

func (s *EmbeddingService) embedderFor(ctx context.Context, model, providerType, userID string) (embedding.Embedder, error) {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	key := providerType + "/" + model + "/" + userID
	if cached, ok := s.embedders.Load(key); ok {
		return cached.(embedding.Embedder), nil
	}

	embedder, err := s.createEmbedder(ctx, model, providerType, userID)
	if err != nil {
		return nil, err
	}
	s.embedders.Store(key, embedder)
	return embedder, nil
}

func (s *EmbeddingService) createEmbedder(ctx context.Context, model, providerType, userID string) (embedding.Embedder, error) {
	provider := s.findProvider(providerType, userID)

	switch models.KindForType(providerType) {
	case models.KindDashScope:
		apiKey := credential(provider, "DASHSCOPE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("no API key configured for %s embeddings", providerType)
		}
		embedder, err := dashscopeembed.NewEmbedder(ctx, &dashscopeembed.EmbeddingConfig{
			APIKey: apiKey,
			Model:  model,
		})
		if err != nil {
			return nil, fmt.Errorf("create dashscope embedder: %w", err)
		}
		return embedder, nil

	case models.KindOllama:
		baseURL := "http://localhost:11434"
		if provider != nil && provider.BaseURL != "" {
			baseURL = provider.BaseURL
		}
		embedder, err := ollamaembed.NewEmbedder(ctx, &ollamaembed.EmbeddingConfig{
			BaseURL: baseURL,
			Model:   model,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
		return embedder, nil

	default:
		apiKey := credential(provider, "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("no API key configured for %s embeddings", providerType)
		}
		config := &openaiembed.EmbeddingConfig{
			APIKey: apiKey,
			Model:  model,
		}
		if provider != nil && provider.BaseURL != "" {
			config.BaseURL = provider.BaseURL
		}
		embedder, err := openaiembed.NewEmbedder(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
		return embedder, nil
	}
}

// findProvider returns the user's enabled provider of the given type,
// or nil when none is configured.
func (s *EmbeddingService) findProvider(providerType, userID string) *db.Provider {
	var provider db.Provider
	err := s.db.Where("user_id = ? AND type = ? AND enabled = ?", userID, providerType, true).
		Order("created_at ASC").First(&provider).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("provider lookup failed", "type", providerType, "error", err)
		}
		return nil
	}
	return &provider
}

// credential prefers the provider row's key, then the environment.
func credential(provider *db.Provider, envVar string) string {
	if provider != nil && provider.APIKey != "" {
		return provider.APIKey
	}
	return os.Getenv(envVar)
}
