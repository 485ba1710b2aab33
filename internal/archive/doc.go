// Package archive keeps admitted experiences beyond the lifetime of the
// in-memory buffer.
//
// ChromemArchive stores each experience in a chromem-go collection with the
// embedding the buffer already computed, so archiving never re-embeds. It
// runs in memory or persists to a directory, and supports nearest neighbor
// queries by vector or, when built with an embeddings.Provider, by text.
package archive
