package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashDimension matches bge-small so hash and fastembed vectors are
// interchangeable in buffer sizing.
const DefaultHashDimension = 384

// Feature weights. Unigrams carry the topic, bigrams word order, trigrams
// tolerate inflection ("optimize" vs "optimizing").
const (
	unigramWeight = 1.0
	bigramWeight  = 0.5
	trigramWeight = 0.25
)

// HashProvider embeds text by hashing word and character features into a
// fixed number of signed buckets and L2-normalizing the result.
//
// It has no state beyond its dimension and is safe for concurrent use.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hash provider. dimension 0 selects
// DefaultHashDimension.
func NewHashProvider(dimension int) (*HashProvider, error) {
	if dimension == 0 {
		dimension = DefaultHashDimension
	}
	if dimension < 8 {
		return nil, fmt.Errorf("%w: hash dimension must be >= 8, got %d", ErrInvalidConfig, dimension)
	}
	return &HashProvider{dimension: dimension}, nil
}

// Embed generates the embedding for a single text.
func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidInput)
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: text has no tokens", ErrEmptyInput)
	}

	acc := make([]float64, p.dimension)
	for i, tok := range tokens {
		p.addFeature(acc, "u:"+tok, unigramWeight)
		if i > 0 {
			p.addFeature(acc, "b:"+tokens[i-1]+" "+tok, bigramWeight)
		}
		runes := []rune(tok)
		for j := 0; j+3 <= len(runes) && len(runes) > 3; j++ {
			p.addFeature(acc, "t:"+string(runes[j:j+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, p.dimension)
	for i, v := range acc {
		if norm > 0 {
			v /= norm
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension returns the embedding dimension.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *HashProvider) Close() error {
	return nil
}

func (p *HashProvider) addFeature(acc []float64, feature string, weight float64) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(len(acc))
	if h>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

// tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
