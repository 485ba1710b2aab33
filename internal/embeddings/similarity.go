package embeddings

import (
	"fmt"
	"math"
)

// Similarity returns the cosine similarity of a and b in [-1, 1].
// A zero vector has similarity 0 with everything.
func Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	return cosine(dot, math.Sqrt(na), math.Sqrt(nb)), nil
}

func cosine(dot, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (normA * normB)
	// Clamp rounding drift outside [-1, 1].
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// Matrix is a dense row-major embedding matrix with cached row norms.
//
// Matrix is not safe for concurrent mutation; owners guard it with their own
// lock.
type Matrix struct {
	dim   int
	data  []float32
	norms []float64
}

// NewMatrix creates an empty matrix for vectors of length dim, with room for
// capacity rows before reallocating.
func NewMatrix(dim, capacity int) *Matrix {
	if capacity < 0 {
		capacity = 0
	}
	return &Matrix{
		dim:   dim,
		data:  make([]float32, 0, dim*capacity),
		norms: make([]float64, 0, capacity),
	}
}

// Dim returns the vector length.
func (m *Matrix) Dim() int { return m.dim }

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return len(m.norms) }

// Append copies vec in as a new row.
func (m *Matrix) Append(vec []float32) error {
	if len(vec) != m.dim {
		return fmt.Errorf("%w: matrix has %d columns, vector has %d", ErrDimensionMismatch, m.dim, len(vec))
	}
	var n float64
	for _, v := range vec {
		n += float64(v) * float64(v)
	}
	m.data = append(m.data, vec...)
	m.norms = append(m.norms, math.Sqrt(n))
	return nil
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float32 {
	out := make([]float32, m.dim)
	copy(out, m.data[i*m.dim:(i+1)*m.dim])
	return out
}

// Reset drops all rows and keeps the allocation.
func (m *Matrix) Reset() {
	m.data = m.data[:0]
	m.norms = m.norms[:0]
}

// SimilarityBatch scores query against every row of m in a single pass.
// Result i equals Similarity(query, m.Row(i)).
func SimilarityBatch(query []float32, m *Matrix) ([]float64, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("%w: matrix has %d columns, query has %d", ErrDimensionMismatch, m.dim, len(query))
	}
	var qn float64
	for _, v := range query {
		qn += float64(v) * float64(v)
	}
	qn = math.Sqrt(qn)

	scores := make([]float64, len(m.norms))
	for r := range scores {
		row := m.data[r*m.dim : (r+1)*m.dim]
		var dot float64
		for i, v := range row {
			dot += float64(query[i]) * float64(v)
		}
		scores[r] = cosine(dot, qn, m.norms[r])
	}
	return scores, nil
}
