// Package embed defines the Provider interface for vector embedding backends.
//
// The knowledge base uses embeddings to retrieve help articles for
// informational intents (pricing, leave policy, invoices). Providers map
// text to dense float32 vectors; all vectors from one provider instance
// share the dimensionality reported by Dimensions.
//
// Implementations must be safe for concurrent use.
package embed

import "context"

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns
	// a float32 slice of length Dimensions() or an error if the request
	// fails or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embeddings for a slice of texts in a single
	// provider call. The returned slice has the same length as texts and
	// the i-th element corresponds to texts[i]. Partial results are not
	// returned; on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging
	// and for checking that stored vectors match the live model.
	ModelID() string
}
