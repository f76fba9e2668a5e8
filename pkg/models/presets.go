package models

import (
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/quarryhq/quarry/pkg/db"
)

//go:embed presets.json
var presetsFS embed.FS

const presetsFileName = ".quarry/providers.json"

// ProviderPreset seeds a provider configuration: display name, default
// endpoint and the starter model catalog for one provider type.
type ProviderPreset struct {
	Type    string         `json:"type"`
	Name    string         `json:"name"`
	BaseURL string         `json:"base_url,omitempty"`
	Models  []db.ModelInfo `json:"models"`
}

// PresetsConfig holds all provider presets
type PresetsConfig struct {
	Providers []ProviderPreset `json:"providers"`
}

// getPresetsFilePath returns the full path to user's presets file
func getPresetsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return presetsFileName
	}
	return filepath.Join(home, presetsFileName)
}

// loadEmbeddedPresets reads presets from embedded JSON file
func loadEmbeddedPresets() (*PresetsConfig, error) {
	data, err := presetsFS.ReadFile("presets.json")
	if err != nil {
		return nil, err
	}
	var config PresetsConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadPresets reads presets from the user's home directory file first,
// falling back to the embedded presets.json.
func LoadPresets() (*PresetsConfig, error) {
	path := getPresetsFilePath()

	if data, err := os.ReadFile(path); err == nil {
		var config PresetsConfig
		if err := json.Unmarshal(data, &config); err == nil {
			return &config, nil
		}
		// If parse fails, fall through to the embedded defaults.
	}

	return loadEmbeddedPresets()
}

// SavePresets saves the presets config to user's home directory
func SavePresets(config *PresetsConfig) error {
	path := getPresetsFilePath()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// PresetForType returns the preset for a provider type, or nil when the
// type has none.
func PresetForType(providerType string) *ProviderPreset {
	config, err := LoadPresets()
	if err != nil {
		return nil
	}
	t := strings.ToLower(strings.TrimSpace(providerType))
	for i := range config.Providers {
		if config.Providers[i].Type == t {
			return &config.Providers[i]
		}
	}
	return nil
}
