package indexer

import (
	"errors"
	"time"

	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/models"
)

const (
	DefaultBatchSize    = 32
	DefaultEmbedTimeout = 60 * time.Second
	DefaultMaxRetries   = 3
)

// Settings are the inputs that decide what the index contains. Any change to the
// embedder model, its dimension or the chunk policy makes the stored manifest stale.
type Settings struct {
	Embedder embedding.Embedder
	Policy   ChunkPolicy
	// BatchSize is the number of chunks per embedding call.
	BatchSize int
	// EmbedTimeout bounds one embedding call, retries included.
	EmbedTimeout time.Duration
	// MaxRetries is the number of retries after a failed batch call.
	MaxRetries int
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.EmbedTimeout <= 0 {
		s.EmbedTimeout = DefaultEmbedTimeout
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	return s
}

func (s Settings) validate() error {
	if s.Embedder == nil {
		return errors.New("settings: embedder is required")
	}
	if s.Policy.Size < 0 || s.Policy.Overlap < 0 {
		return errors.New("settings: chunk size and overlap must not be negative")
	}
	return nil
}

// Manifest describes the index these settings produce. Dimension is 0 when the
// embedder only learns it from its first response.
func (s Settings) Manifest() models.Manifest {
	return models.Manifest{
		Model:       s.Embedder.ModelName(),
		Dimension:   s.Embedder.Dimensions(),
		ChunkPolicy: s.Policy.Version(),
	}
}

// versionedSettings pairs settings with a generation number so a pass can detect
// a change made while it runs.
type versionedSettings struct {
	Settings
	version uint64
	chunker *Chunker
}
