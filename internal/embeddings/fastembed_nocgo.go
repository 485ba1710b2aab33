//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable means the binary was built with CGO_ENABLED=0,
// so the ONNX runtime cannot be loaded. Select the hash provider instead.
var ErrFastEmbedNotAvailable = errors.New("fastembed provider requires a cgo build; use provider \"hash\"")

// FastEmbedConfig mirrors the cgo build so configuration compiles either way.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider cannot be constructed without cgo. Its methods exist
// only to satisfy Provider.
type FastEmbedProvider struct{}

// NewFastEmbedProvider always fails with ErrFastEmbedNotAvailable.
func NewFastEmbedProvider(FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Dimension() int { return 0 }

func (*FastEmbedProvider) Close() error { return nil }
