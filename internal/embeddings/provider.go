package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or whitespace-only input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidInput indicates text that cannot be embedded (e.g. invalid UTF-8).
	ErrInvalidInput = errors.New("invalid input text")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates vectors of different lengths were compared.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider is the interface for embedding providers.
//
// Implementations must be deterministic: the same text always yields the
// same vector, and every vector has length Dimension().
type Provider interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the embedding dimension.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Provider names accepted by NewProvider.
const (
	ProviderHash      = "hash"
	ProviderFastEmbed = "fastembed"
)

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "hash" (default) or "fastembed".
	Provider string `koanf:"provider" validate:"omitempty,oneof=hash fastembed"`
	// Model is the fastembed model name.
	Model string `koanf:"model"`
	// Dimension is the vector length for the hash provider (default 384).
	Dimension int `koanf:"dimension" validate:"gte=0"`
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string `koanf:"cache_dir"`
	// CacheSize enables an LRU cache of this many texts when > 0.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`
}

// NewProvider creates an embedding provider based on the configuration.
// The returned provider records generation metrics through the global
// OpenTelemetry meter provider.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("%w: cache size cannot be negative", ErrInvalidConfig)
	}

	var (
		base  Provider
		model string
		err   error
	)
	switch cfg.Provider {
	case ProviderHash, "":
		base, err = NewHashProvider(cfg.Dimension)
		model = ProviderHash
	case ProviderFastEmbed:
		base, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		model = cfg.Model
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	var p Provider = &instrumentedProvider{
		Provider: base,
		model:    model,
		metrics:  NewMetrics(logger),
	}
	if cfg.CacheSize > 0 {
		cached, err := NewCachedProvider(p, cfg.CacheSize)
		if err != nil {
			_ = base.Close()
			return nil, err
		}
		p = cached
	}

	logger.Info("embedding provider initialized",
		zap.String("provider", model),
		zap.Int("dimension", p.Dimension()),
		zap.Int("cache_size", cfg.CacheSize))

	return p, nil
}

// instrumentedProvider records generation metrics around another provider.
type instrumentedProvider struct {
	Provider
	model   string
	metrics *Metrics
}

func (p *instrumentedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := p.Provider.Embed(ctx, text)
	p.metrics.RecordGeneration(ctx, p.model, "embed", time.Since(start), 1, err)
	return vec, err
}

func (p *instrumentedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := p.Provider.EmbedBatch(ctx, texts)
	p.metrics.RecordGeneration(ctx, p.model, "embed_batch", time.Since(start), len(texts), err)
	return vecs, err
}
