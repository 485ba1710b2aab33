//go:build !cgo

package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_FastEmbedWithoutCgo(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(ProviderConfig{Provider: ProviderFastEmbed, Model: "BAAI/bge-small-en-v1.5"}, nil)
	require.ErrorIs(t, err, ErrFastEmbedNotAvailable)
	assert.Nil(t, p)
}
