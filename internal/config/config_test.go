package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
index:
  backend: approximate
  num_trees: 5
storage:
  index_path: "./data/index.bin.zst"
embedding:
  provider: mock
  dimensions: 16
query:
  default_distance_threshold: 0.05
rebuild:
  min_interval: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Index.Backend != "approximate" || cfg.Index.NumTrees != 5 {
		t.Errorf("unexpected index config: %+v", cfg.Index)
	}
	if cfg.Query.DefaultThreshold() != 0.05 {
		t.Errorf("threshold=%v", cfg.Query.DefaultThreshold())
	}
	if cfg.Rebuild.MinInterval != 250*time.Millisecond {
		t.Errorf("min_interval=%v", cfg.Rebuild.MinInterval)
	}
	wantIndex := filepath.Join(dir, "data", "index.bin.zst")
	if cfg.Storage.IndexPath != wantIndex {
		t.Errorf("index_path = %s, want %s", cfg.Storage.IndexPath, wantIndex)
	}
	if cfg.Storage.IDMapPath != wantIndex+".ids" {
		t.Errorf("idmap_path = %s", cfg.Storage.IDMapPath)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_explicitZeroThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("query:\n  default_distance_threshold: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Query.DefaultThreshold(); got != 0 {
		t.Errorf("explicit zero threshold should be kept, got %v", got)
	}
}

func TestLoad_invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"negative threshold": "query:\n  default_distance_threshold: -1\n",
		"bad yaml":           "server: [",
		"bad dimensions":     "embedding:\n  dimensions: -4\n",
		"proxy threshold":    "proxy:\n  distance_threshold: -0.5\n",
		"proxy port":         "proxy:\n  port: 70000\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, "c.yaml")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Index.Backend != "exact" || cfg.Index.Metric != "euclidean" || cfg.Index.NumTrees != 10 {
		t.Errorf("index defaults: %+v", cfg.Index)
	}
	if cfg.Embedding.Dimensions != 384 || cfg.Embedding.Provider != "onnx" {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Query.DefaultThreshold() != DefaultDistanceThreshold {
		t.Errorf("default threshold: got %v", cfg.Query.DefaultThreshold())
	}
	if cfg.Storage.IndexPath != "" || cfg.Storage.IDMapPath != "" {
		t.Errorf("snapshots should be disabled by default: %+v", cfg.Storage)
	}
	if cfg.Rebuild.MinInterval != time.Second {
		t.Errorf("min_interval: got %v", cfg.Rebuild.MinInterval)
	}
	if cfg.Proxy.Port != 8081 || cfg.Proxy.IndexURL != "http://localhost:8080" || cfg.Proxy.TargetURL != "https://api.openai.com/v1" {
		t.Errorf("proxy defaults: %+v", cfg.Proxy)
	}
	if cfg.Proxy.UpstreamTimeout != 5*time.Minute || cfg.Proxy.DistanceThreshold != nil {
		t.Errorf("proxy defaults: %+v", cfg.Proxy)
	}
}

func TestLoad_proxy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
proxy:
  port: 9001
  responses_path: "./data/responses.db"
  distance_threshold: 0.1
  max_body_bytes: 1024
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Proxy.Port != 9001 || cfg.Proxy.MaxBodyBytes != 1024 {
		t.Errorf("unexpected proxy config: %+v", cfg.Proxy)
	}
	if cfg.Proxy.IndexURL != "http://localhost:9000" {
		t.Errorf("index url should follow server settings, got %s", cfg.Proxy.IndexURL)
	}
	if want := filepath.Join(dir, "data", "responses.db"); cfg.Proxy.ResponsesPath != want {
		t.Errorf("responses path: got %s, want %s", cfg.Proxy.ResponsesPath, want)
	}
	if cfg.Proxy.DistanceThreshold == nil || *cfg.Proxy.DistanceThreshold != 0.1 {
		t.Errorf("distance threshold: %v", cfg.Proxy.DistanceThreshold)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	th := 0.1
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 9090},
		Query:  QueryConfig{DefaultDistanceThreshold: &th},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Query.DefaultThreshold() != 0.1 {
		t.Errorf("loaded threshold: got %v", loaded.Query.DefaultThreshold())
	}
}
