package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ProviderConfig
		wantDim   int
		wantError bool
	}{
		{
			name:    "default is hash",
			cfg:     ProviderConfig{},
			wantDim: DefaultHashDimension,
		},
		{
			name:    "hash with custom dimension",
			cfg:     ProviderConfig{Provider: ProviderHash, Dimension: 128},
			wantDim: 128,
		},
		{
			name:    "hash with cache",
			cfg:     ProviderConfig{Provider: ProviderHash, CacheSize: 16},
			wantDim: DefaultHashDimension,
		},
		{
			name:      "hash with tiny dimension",
			cfg:       ProviderConfig{Provider: ProviderHash, Dimension: 4},
			wantError: true,
		},
		{
			name:      "negative cache size",
			cfg:       ProviderConfig{CacheSize: -1},
			wantError: true,
		},
		{
			name:      "unknown provider",
			cfg:       ProviderConfig{Provider: "unknown"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg, nil)
			if tt.wantError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Nil(t, provider)
				return
			}
			require.NoError(t, err)
			defer provider.Close()
			assert.Equal(t, tt.wantDim, provider.Dimension())

			vec, err := provider.Embed(context.Background(), "write a landing page")
			require.NoError(t, err)
			assert.Len(t, vec, tt.wantDim)
		})
	}
}

func TestNewProvider_CacheWrapsInstrumented(t *testing.T) {
	provider, err := NewProvider(ProviderConfig{CacheSize: 4}, nil)
	require.NoError(t, err)
	defer provider.Close()

	cached, ok := provider.(*CachedProvider)
	require.True(t, ok, "cache size > 0 should return a CachedProvider")

	_, err = cached.Embed(context.Background(), "seo audit")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())
}
