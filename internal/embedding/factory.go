package embedding

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Provider names an embedding backend.
type Provider string

const (
	ProviderHash   Provider = "hash"
	ProviderONNX   Provider = "onnx"
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// Config selects and configures the embedding backend.
type Config struct {
	Provider   Provider
	Model      string
	Dimensions int
	ModelPath  string
	MaxTokens  int
	CacheSize  int
	MaxRetries int
	BaseURL    string
	APIKeyEnv  string
}

// New builds the configured backend and wraps it in a CachedEmbedder.
func New(cfg Config, logger *zap.Logger) (*CachedEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case ProviderHash, "":
		inner = NewHashEmbedder(cfg.Dimensions)
	case ProviderONNX:
		inner, err = newONNX(cfg)
	case ProviderOpenAI:
		keyEnv := cfg.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     os.Getenv(keyEnv),
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
	case ProviderOllama:
		inner, err = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	cached, err := NewCachedEmbedder(inner, cfg.CacheSize)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	logger.Info("embedder ready", zap.String("provider", string(cfg.Provider)),
		zap.String("model", inner.ModelName()), zap.Int("dimensions", inner.Dimensions()))
	return cached, nil
}

func newONNX(cfg Config) (Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx embedder: model_path is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	e, err := NewONNXEmbedder(ONNXConfig{ModelPath: cfg.ModelPath, Dimensions: cfg.Dimensions, MaxTokens: maxTokens})
	if err != nil {
		return nil, err
	}
	return e, nil
}
