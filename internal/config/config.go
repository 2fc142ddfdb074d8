// Package config provides configuration loading and structs for the ragindex server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// URL returns the base URL clients use to reach the server.
func (s ServerConfig) URL() string {
	return "http://" + s.Addr()
}

// StorageConfig holds the data directory and the store backends.
// Empty paths are derived from DataDir.
type StorageConfig struct {
	DataDir      string       `yaml:"data_dir"`
	DatabasePath string       `yaml:"database_path"`
	Backend      string       `yaml:"backend"`
	FallbackPath string       `yaml:"fallback_path"`
	HNSW         HNSWConfig   `yaml:"hnsw"`
	Qdrant       QdrantConfig `yaml:"qdrant"`
}

// IndexDir is where per-dimension HNSW graphs live.
func (s StorageConfig) IndexDir() string {
	return filepath.Join(s.DataDir, "indexes")
}

// KeywordPath is the bleve index directory.
func (s StorageConfig) KeywordPath() string {
	return filepath.Join(s.DataDir, "keyword")
}

// HNSWConfig tunes the in-process graph.
type HNSWConfig struct {
	M        int `yaml:"m"`
	EfSearch int `yaml:"ef_search"`
}

// QdrantConfig locates a Qdrant server.
type QdrantConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	ModelPath  string        `yaml:"model_path"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries *int          `yaml:"max_retries"`
	BaseURL    string        `yaml:"base_url"`
	APIKeyEnv  string        `yaml:"api_key_env"`
}

// Retries returns MaxRetries, defaulting to 3 when unset.
func (e *EmbeddingConfig) Retries() int {
	if e.MaxRetries != nil {
		return *e.MaxRetries
	}
	return 3
}

// ChunkingConfig sets the chunk window in words.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultLimit     int   `yaml:"default_limit"`
	MaxLimit         int   `yaml:"max_limit"`
	OverFetchFactor  int   `yaml:"over_fetch_factor"`
	KeywordPrefilter *bool `yaml:"keyword_prefilter"`
}

// KeywordPrefilterOrDefault reports whether MustMatch filters use the keyword index;
// defaults to true when unset.
func (s *SearchConfig) KeywordPrefilterOrDefault() bool {
	if s.KeywordPrefilter != nil {
		return *s.KeywordPrefilter
	}
	return true
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, loads a .env next to it,
// expands paths, and applies defaults.
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

	configDir := filepath.Dir(path)
	loadDotEnv(configDir)
	ApplyDefaults(&cfg)
	cfg.resolvePaths(configDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults with paths
// resolved against the file's directory.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	cfg = &Config{}
	configDir := filepath.Dir(path)
	loadDotEnv(configDir)
	ApplyDefaults(cfg)
	cfg.resolvePaths(configDir)
	return cfg, nil
}

// loadDotEnv sets variables from configDir/.env that are not already set.
func loadDotEnv(configDir string) {
	envPath := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}
}

// Save writes the config to path. Used for persisting watch directory add/remove.
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

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "hnsw", "qdrant":
	default:
		return fmt.Errorf("storage.backend must be hnsw or qdrant, got %q", c.Storage.Backend)
	}
	switch c.Embedding.Provider {
	case "hash", "onnx", "openai", "ollama":
	default:
		return fmt.Errorf("embedding.provider must be hash, onnx, openai or ollama, got %q", c.Embedding.Provider)
	}
	if c.Chunking.Size < 0 || c.Chunking.Overlap < 0 {
		return fmt.Errorf("chunking size and overlap must not be negative")
	}
	if c.Chunking.Size > 0 && c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.size (%d)", c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search.max_limit (%d) is below search.default_limit (%d)", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	return nil
}

func (c *Config) resolvePaths(configDir string) {
	c.Storage.DataDir = expandPath(c.Storage.DataDir, configDir)
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(c.Storage.DataDir, "ragindex.db")
	} else {
		c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	}
	if c.Storage.FallbackPath == "" {
		c.Storage.FallbackPath = filepath.Join(c.Storage.DataDir, "fallback.gob")
	} else {
		c.Storage.FallbackPath = expandPath(c.Storage.FallbackPath, configDir)
	}
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	}
	for i := range c.Watch.Directories {
		c.Watch.Directories[i] = expandPath(c.Watch.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
