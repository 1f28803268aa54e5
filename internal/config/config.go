// Package config provides configuration loading and structs for the semcache server.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Query     QueryConfig     `yaml:"query"`
	Rebuild   RebuildConfig   `yaml:"rebuild"`
	Proxy     ProxyConfig     `yaml:"proxy"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// IndexConfig selects and tunes the vector store.
type IndexConfig struct {
	Backend  string `yaml:"backend"`
	Metric   string `yaml:"metric"`
	NumTrees int    `yaml:"num_trees"`
	LeafSize int    `yaml:"leaf_size"`
	SearchK  int    `yaml:"search_k"`
	Seed     uint64 `yaml:"seed"`
}

// StorageConfig holds snapshot paths. An empty IndexPath disables snapshots.
type StorageConfig struct {
	IndexPath    string `yaml:"index_path"`
	IDMapBackend string `yaml:"idmap_backend"`
	IDMapPath    string `yaml:"idmap_path"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`

	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// QueryConfig holds query defaults. Hot-reloaded by Watcher.
type QueryConfig struct {
	DefaultDistanceThreshold *float64 `yaml:"default_distance_threshold"`
}

// DefaultThreshold returns the configured threshold; defaults to DefaultDistanceThreshold when unset.
func (q *QueryConfig) DefaultThreshold() float64 {
	if q.DefaultDistanceThreshold != nil {
		return *q.DefaultDistanceThreshold
	}
	return DefaultDistanceThreshold
}

// RebuildConfig paces background rebuilds.
type RebuildConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
}

// ProxyConfig holds settings for the caching API proxy.
type ProxyConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	TargetURL       string        `yaml:"target_url"`
	IndexURL        string        `yaml:"index_url"`
	ResponsesPath   string        `yaml:"responses_path"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	// DistanceThreshold is sent with every lookup; nil defers to the index server.
	DistanceThreshold *float64 `yaml:"distance_threshold"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.IDMapPath = expandPath(cfg.Storage.IDMapPath, configDir)
	cfg.Proxy.ResponsesPath = expandPath(cfg.Proxy.ResponsesPath, configDir)
	if cfg.Embedding.Provider == "onnx" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// Validate rejects settings that would fail later at startup.
func Validate(cfg *Config) error {
	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("invalid config: embedding.dimensions must be positive, got %d", cfg.Embedding.Dimensions)
	}
	if t := cfg.Query.DefaultThreshold(); t < 0 || math.IsNaN(t) {
		return fmt.Errorf("invalid config: query.default_distance_threshold must be non-negative, got %v", t)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Proxy.Port < 0 || cfg.Proxy.Port > 65535 {
		return fmt.Errorf("invalid config: proxy.port out of range: %d", cfg.Proxy.Port)
	}
	if t := cfg.Proxy.DistanceThreshold; t != nil && (*t < 0 || math.IsNaN(*t)) {
		return fmt.Errorf("invalid config: proxy.distance_threshold must be non-negative, got %v", *t)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
