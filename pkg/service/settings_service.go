// Settings resolution: dataset settings, then user settings, then the
// system default, folded into one effective configuration per request.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/utils"
)

var (
	ErrNoProvider       = errors.New("no AI provider specified")
	ErrProviderNotFound = errors.New("provider not found")
)

type SettingsService struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewSettingsService(gdb *gorm.DB) *SettingsService {
	return &SettingsService{
		db:     gdb,
		logger: utils.GetLogger(),
	}
}

// Resolve folds the settings layers into the effective configuration.
// The first layer with any generation opinion wins as a whole unit;
// layers are never field-merged. Request provider/model/prompt apply
// only when no stored layer won; request temperature and maxChunks
// always override.
func (s *SettingsService) Resolve(ctx context.Context, userID string, dataset *db.Dataset, req *models.ChatRequest) (*models.EffectiveSettings, error) {
	type candidate struct {
		source string
		blob   *db.ChatSettings
	}
	candidates := []candidate{
		{source: "dataset", blob: datasetSettings(dataset)},
		{source: "user", blob: s.userSettings(userID)},
	}

	var base *db.ChatSettings
	for _, c := range candidates {
		if !c.blob.Empty() {
			base = c.blob
			s.logger.Debug("chat settings resolved", "source", c.source)
			break
		}
	}

	eff := &models.EffectiveSettings{
		Model:          models.DefaultModelID,
		Temperature:    models.DefaultTemperature,
		MaxChunks:      models.DefaultMaxChunks,
		IncludeHistory: true,
		HistoryLimit:   models.DefaultHistoryLimit,
	}

	var provider *db.Provider
	var err error
	if base != nil {
		provider, err = s.resolveProviderRef(userID, base.Provider)
		if err != nil {
			return nil, err
		}
		if base.Model != "" {
			eff.Model = base.Model
		}
		if base.Temperature != nil {
			eff.Temperature = *base.Temperature
		}
		if base.MaxChunks != nil && *base.MaxChunks > 0 {
			eff.MaxChunks = *base.MaxChunks
		}
		eff.PromptID = base.PromptID
		if base.IncludeHistory != nil {
			eff.IncludeHistory = *base.IncludeHistory
		}
		if base.HistoryLimit != nil && *base.HistoryLimit > 0 {
			eff.HistoryLimit = *base.HistoryLimit
		}
	} else {
		// System default layer; the request's hints apply only here.
		if ref := strings.TrimSpace(req.Provider); ref != "" {
			provider, err = s.resolveProviderRef(userID, ref)
		} else {
			provider, err = s.findProviderByType(userID, models.DefaultProviderType)
			if errors.Is(err, ErrProviderNotFound) {
				err = fmt.Errorf("%w: configure a provider or pass one in the request", ErrNoProvider)
			}
		}
		if err != nil {
			return nil, err
		}
		if req.Model != "" {
			eff.Model = req.Model
		}
		eff.PromptID = req.PromptID
	}

	// Per-request knobs win regardless of which layer supplied the base.
	if req.Temperature != nil {
		eff.Temperature = *req.Temperature
	}
	if req.MaxChunks != nil && *req.MaxChunks > 0 {
		eff.MaxChunks = *req.MaxChunks
	}

	eff.ProviderID = provider.ID
	eff.ProviderKind = models.KindForType(provider.Type)
	return eff, nil
}

func datasetSettings(dataset *db.Dataset) *db.ChatSettings {
	if dataset == nil {
		return nil
	}
	return dataset.ChatSettings
}

func (s *SettingsService) userSettings(userID string) *db.ChatSettings {
	var settings db.UserSettings
	if err := s.db.First(&settings, "user_id = ?", userID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("user settings lookup failed", "userID", userID, "error", err)
		}
		return nil
	}
	return settings.ChatSettings
}

// resolveProviderRef accepts a provider id or a provider type string.
// An empty reference is the hard no-provider failure; a type string
// that matches no configured provider fails closed.
func (s *SettingsService) resolveProviderRef(userID, ref string) (*db.Provider, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrNoProvider
	}

	var provider db.Provider
	err := s.db.First(&provider, "id = ? AND user_id = ? AND enabled = ?", ref, userID, true).Error
	if err == nil {
		return &provider, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("look up provider %s: %w", ref, err)
	}
	return s.findProviderByType(userID, ref)
}

func (s *SettingsService) findProviderByType(userID, providerType string) (*db.Provider, error) {
	var provider db.Provider
	err := s.db.Where("user_id = ? AND type = ? AND enabled = ?", userID, strings.ToLower(providerType), true).
		Order("created_at ASC").First(&provider).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no provider of type %q configured: %w", providerType, ErrProviderNotFound)
		}
		return nil, fmt.Errorf("look up provider type %s: %w", providerType, err)
	}
	return &provider, nil
}

// GetUserSettings returns the stored settings row, creating none.
func (s *SettingsService) GetUserSettings(userID string) (*db.UserSettings, error) {
	var settings db.UserSettings
	err := s.db.First(&settings, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &db.UserSettings{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user settings: %w", err)
	}
	return &settings, nil
}

// UpdateUserSettings replaces the user's chat settings blob.
func (s *SettingsService) UpdateUserSettings(userID string, blob *db.ChatSettings) (*db.UserSettings, error) {
	settings := &db.UserSettings{UserID: userID, ChatSettings: blob}
	err := s.db.Save(settings).Error
	if err != nil {
		return nil, fmt.Errorf("save user settings: %w", err)
	}
	return settings, nil
}
