// Package embeddings turns task and solution text into fixed-length vectors
// and scores vectors against each other.
//
// Providers form a closed set selected at construction time:
//   - hash: deterministic feature hashing, pure Go, no model files (default)
//   - fastembed: local ONNX models via fastembed-go (requires CGO)
//
// Either can be wrapped in an LRU cache. A provider that cannot be built is a
// construction error; callers never hold a nil provider.
//
// Similarity is cosine similarity in [-1, 1]. SimilarityBatch scores a query
// against every row of a Matrix in one pass and matches Similarity row for row.
package embeddings
