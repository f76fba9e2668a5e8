// Provider gateway: stored provider configurations, model catalog
// validation, availability probes and client construction.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/utils"
)

var ErrModelNotAvailable = errors.New("model not available")

const (
	probeTimeout   = 2 * time.Second
	modelListLimit = 10
)

// ChatClient is the uniform surface over one provider+model binding.
type ChatClient interface {
	ChatCompletion(ctx context.Context, messages []*schema.Message) (*models.Completion, error)
}

// StreamingChatClient is implemented by clients that can stream deltas.
// Clients lacking it are served through the word-chunk fallback.
type StreamingChatClient interface {
	ChatClient
	ChatCompletionStream(ctx context.Context, messages []*schema.Message) (<-chan models.StreamDelta, error)
}

type ProviderService struct {
	db         *gorm.DB
	logger     *slog.Logger
	httpClient *http.Client
}

func NewProviderService(gdb *gorm.DB) *ProviderService {
	return &ProviderService{
		db:         gdb,
		logger:     utils.GetLogger(),
		httpClient: &http.Client{Timeout: probeTimeout},
	}
}

// ResolveClient loads the provider, validates the requested model
// against its catalog and returns the client for the provider's kind.
func (s *ProviderService) ResolveClient(ctx context.Context, userID string, settings *models.EffectiveSettings) (ChatClient, *db.Provider, error) {
	var provider db.Provider
	if err := s.db.First(&provider, "id = ? AND user_id = ?", settings.ProviderID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("provider %s: %w", settings.ProviderID, ErrProviderNotFound)
		}
		return nil, nil, fmt.Errorf("load provider %s: %w", settings.ProviderID, err)
	}

	if err := validateModel(&provider, settings.Model); err != nil {
		return nil, nil, err
	}

	client, err := s.clientFor(ctx, &provider, settings)
	if err != nil {
		return nil, nil, err
	}
	return client, &provider, nil
}

// validateModel gates requests on the provider's configured catalog and
// names the alternatives in the error, truncated past ten entries.
func validateModel(provider *db.Provider, modelID string) error {
	if provider.HasModel(modelID) {
		return nil
	}
	available := provider.ModelIDs()
	if len(available) > modelListLimit {
		available = append(available[:modelListLimit], "...")
	}
	return fmt.Errorf("%w: model %q is not configured for provider %s (available: %s)",
		ErrModelNotAvailable, modelID, provider.Name, strings.Join(available, ", "))
}

func (s *ProviderService) clientFor(ctx context.Context, provider *db.Provider, settings *models.EffectiveSettings) (ChatClient, error) {
	switch models.KindForType(provider.Type) {
	case models.KindDashScope:
		return newDashScopeClient(ctx, provider, settings)
	case models.KindPerplexity:
		return newPerplexityClient(provider, settings), nil
	case models.KindOllama:
		return newOllamaClient(ctx, provider, settings)
	case models.KindBuiltin:
		return newBuiltinClient(provider, settings), nil
	default:
		return newAggregatorClient(ctx, provider, settings)
	}
}

// CheckAvailability runs the cheap reachability probe for a provider.
// Builtin needs no probe; ollama-kind providers are probed on their
// tags endpoint; cloud endpoints just need to answer HTTP.
func (s *ProviderService) CheckAvailability(ctx context.Context, provider *db.Provider) error {
	switch models.KindForType(provider.Type) {
	case models.KindBuiltin:
		return nil
	case models.KindOllama:
		return s.probeHTTP(ctx, strings.TrimSuffix(baseURLOrDefault(provider), "/")+"/api/tags")
	default:
		return s.probeHTTP(ctx, baseURLOrDefault(provider))
	}
}

func (s *ProviderService) probeHTTP(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	resp.Body.Close()
	// Auth and method errors still prove the endpoint answers.
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func baseURLOrDefault(provider *db.Provider) string {
	if provider.BaseURL != "" {
		return provider.BaseURL
	}
	if preset := models.PresetForType(provider.Type); preset != nil {
		return preset.BaseURL
	}
	return ""
}

// ListModels returns the availability-aware model catalog for a user.
// Unreachable local providers are omitted entirely; unreachable cloud
// providers stay listed but flagged.
func (s *ProviderService) ListModels(ctx context.Context, userID string) ([]models.ProviderModels, error) {
	var providers []db.Provider
	if err := s.db.Where("user_id = ? AND enabled = ?", userID, true).
		Order("created_at ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	out := make([]models.ProviderModels, 0, len(providers))
	for _, provider := range providers {
		kind := models.KindForType(provider.Type)
		entry := models.ProviderModels{
			ProviderID: provider.ID,
			Name:       provider.Name,
			Type:       provider.Type,
			Kind:       kind,
			Available:  true,
			Models:     provider.Models,
		}
		if err := s.CheckAvailability(ctx, &provider); err != nil {
			if kind == models.KindOllama {
				s.logger.Debug("omitting unreachable local provider", "providerID", provider.ID, "error", err)
				continue
			}
			entry.Available = false
			entry.Message = fmt.Sprintf("provider unreachable: %v", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// TestProvider sends a one-word prompt through the provider to verify
// credentials and connectivity end to end.
func (s *ProviderService) TestProvider(ctx context.Context, userID, providerID, modelID string) error {
	var provider db.Provider
	if err := s.db.First(&provider, "id = ? AND user_id = ?", providerID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("provider %s: %w", providerID, ErrProviderNotFound)
		}
		return fmt.Errorf("load provider %s: %w", providerID, err)
	}

	if modelID == "" {
		if len(provider.Models) == 0 {
			return fmt.Errorf("%w: provider %s has no models configured", ErrModelNotAvailable, provider.Name)
		}
		modelID = provider.Models[0].ID
	}
	if err := validateModel(&provider, modelID); err != nil {
		return err
	}

	settings := &models.EffectiveSettings{
		ProviderID:   provider.ID,
		ProviderKind: models.KindForType(provider.Type),
		Model:        modelID,
		Temperature:  models.DefaultTemperature,
	}
	client, err := s.clientFor(ctx, &provider, settings)
	if err != nil {
		return err
	}

	testMessages := []*schema.Message{{Role: schema.User, Content: "Hi"}}
	if _, err := client.ChatCompletion(ctx, testMessages); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// ========== Provider CRUD ==========

// CreateProvider stores a provider, filling name, endpoint and model
// catalog from the type's preset when omitted.
func (s *ProviderService) CreateProvider(userID string, req *models.CreateProviderRequest) (*db.Provider, error) {
	provider := &db.Provider{
		ID:      uuid.New().String(),
		UserID:  userID,
		Name:    strings.TrimSpace(req.Name),
		Type:    strings.ToLower(strings.TrimSpace(req.Type)),
		APIKey:  req.APIKey,
		BaseURL: req.BaseURL,
		Models:  req.Models,
		Enabled: true,
	}
	if preset := models.PresetForType(provider.Type); preset != nil {
		if provider.Name == "" {
			provider.Name = preset.Name
		}
		if provider.BaseURL == "" {
			provider.BaseURL = preset.BaseURL
		}
		if len(provider.Models) == 0 {
			provider.Models = preset.Models
		}
	}
	if provider.Name == "" {
		provider.Name = provider.Type
	}

	if err := s.db.Create(provider).Error; err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return provider, nil
}

func (s *ProviderService) GetProvider(userID, providerID string) (*db.Provider, error) {
	var provider db.Provider
	err := s.db.First(&provider, "id = ? AND user_id = ?", providerID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return &provider, nil
}

func (s *ProviderService) ListProviders(userID string) ([]db.Provider, error) {
	var providers []db.Provider
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return providers, nil
}

func (s *ProviderService) UpdateProvider(userID, providerID string, req *models.UpdateProviderRequest) (*db.Provider, error) {
	provider, err := s.GetProvider(userID, providerID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		provider.Name = *req.Name
	}
	if req.APIKey != nil {
		provider.APIKey = *req.APIKey
	}
	if req.BaseURL != nil {
		provider.BaseURL = *req.BaseURL
	}
	if req.Models != nil {
		provider.Models = *req.Models
	}
	if req.Enabled != nil {
		provider.Enabled = *req.Enabled
	}

	if err := s.db.Save(provider).Error; err != nil {
		return nil, fmt.Errorf("update provider: %w", err)
	}
	return provider, nil
}

func (s *ProviderService) DeleteProvider(userID, providerID string) error {
	result := s.db.Where("id = ? AND user_id = ?", providerID, userID).Delete(&db.Provider{})
	if result.Error != nil {
		return fmt.Errorf("delete provider: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}
