package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessors.
//
// Example (~/.quarry/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// storage:
//   database_path: /var/lib/quarry/quarry.db
//   vector_path: /var/lib/quarry/vectors
// log:
//   level: info
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type StorageConfig struct {
	DatabasePath *string `yaml:"database_path"`
	VectorPath   *string `yaml:"vector_path"`
}

type LogConfig struct {
	Level *string `yaml:"level"`
}

const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 8090
	DefaultLogLevel = "info"

	defaultDatabaseFile = "quarry.db"
	defaultVectorDir    = "vectors"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".quarry")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.quarry/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}
	// Defaults are applied via the accessor helpers.

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Log:    LogConfig{Level: ptr(DefaultLogLevel)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil {
		return DefaultHost
	}
	if c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil {
		return DefaultPort
	}
	if c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// DatabasePath returns the sqlite file location, defaulting to the
// config directory.
func (c *AppConfig) DatabasePath() string {
	if c != nil && c.Storage.DatabasePath != nil && strings.TrimSpace(*c.Storage.DatabasePath) != "" {
		return *c.Storage.DatabasePath
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return defaultDatabaseFile
	}
	return filepath.Join(configDir, defaultDatabaseFile)
}

// VectorPath returns the vector store directory, defaulting to the
// config directory.
func (c *AppConfig) VectorPath() string {
	if c != nil && c.Storage.VectorPath != nil && strings.TrimSpace(*c.Storage.VectorPath) != "" {
		return *c.Storage.VectorPath
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return defaultVectorDir
	}
	return filepath.Join(configDir, defaultVectorDir)
}

func (c *AppConfig) LogLevel() string {
	if c == nil || c.Log.Level == nil {
		return DefaultLogLevel
	}
	v := strings.TrimSpace(*c.Log.Level)
	if v == "" {
		return DefaultLogLevel
	}
	return v
}

func ptr[T any](v T) *T { return &v }
