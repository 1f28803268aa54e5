package config

import (
	"fmt"
	"os"
	"time"
)

// DefaultDistanceThreshold is the query threshold used when a request and the config omit one.
const DefaultDistanceThreshold = 0.2

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "exact"
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "euclidean"
	}
	if cfg.Index.NumTrees == 0 {
		cfg.Index.NumTrees = 10
	}
	if cfg.Storage.IDMapBackend == "" {
		cfg.Storage.IDMapBackend = "sqlite"
	}
	if cfg.Storage.IndexPath != "" && cfg.Storage.IDMapPath == "" {
		cfg.Storage.IDMapPath = cfg.Storage.IndexPath + ".ids"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/semcache/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Rebuild.MinInterval == 0 {
		cfg.Rebuild.MinInterval = time.Second
	}
	if cfg.Proxy.Host == "" {
		cfg.Proxy.Host = "localhost"
	}
	if cfg.Proxy.Port == 0 {
		cfg.Proxy.Port = 8081
	}
	if cfg.Proxy.TargetURL == "" {
		cfg.Proxy.TargetURL = "https://api.openai.com/v1"
	}
	if cfg.Proxy.IndexURL == "" {
		cfg.Proxy.IndexURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Proxy.ResponsesPath == "" {
		cfg.Proxy.ResponsesPath = "/usr/local/var/semcache/data/responses.db"
	}
	if cfg.Proxy.UpstreamTimeout == 0 {
		cfg.Proxy.UpstreamTimeout = 5 * time.Minute
	}
}
