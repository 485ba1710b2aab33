package embeddings

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider memoizes another provider's vectors in an LRU cache keyed
// by text. Providers are deterministic, so a hit is always exact.
type CachedProvider struct {
	next  Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider wraps next with an LRU cache holding up to size texts.
func NewCachedProvider(next Provider, size int) (*CachedProvider, error) {
	if next == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &CachedProvider{next: next, cache: cache}, nil
}

// Embed returns the cached vector for text, generating it on a miss.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		return clone(cached), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, clone(vec))
	return vec, nil
}

// EmbedBatch serves cached texts and sends only the misses to the wrapped
// provider, in one batch.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if cached, ok := c.cache.Get(text); ok {
			results[i] = clone(cached)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIdx {
		c.cache.Add(texts[idx], clone(vecs[i]))
		results[idx] = vecs[i]
	}
	return results, nil
}

// Dimension returns the wrapped provider's dimension.
func (c *CachedProvider) Dimension() int {
	return c.next.Dimension()
}

// Len returns the number of cached texts.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

// Close purges the cache and closes the wrapped provider.
func (c *CachedProvider) Close() error {
	c.cache.Purge()
	return c.next.Close()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
