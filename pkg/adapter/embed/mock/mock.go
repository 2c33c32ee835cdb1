// Package mock provides a test double for the embed.Provider interface.
//
// Use Provider to hand back canned vectors without a live embeddings model
// and to inspect which texts were embedded.
//
// Example:
//
//	p := &mock.Provider{EmbedResult: []float32{1, 0, 0, 0}, DimensionsValue: 4}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/embed"
)

// Provider is a mock implementation of embed.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by every Embed call.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned by every Embed call.
	EmbedErr error

	// EmbedBatchResult is returned by EmbedBatch. When nil, EmbedBatch
	// returns one nil vector per input text.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned by every EmbedBatch call.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID. Defaults to "mock-embeddings".
	ModelIDValue string

	// EmbedCalls records the text of every Embed call in order.
	EmbedCalls []string

	// EmbedBatchCalls records the texts of every EmbedBatch call in order.
	EmbedBatchCalls [][]string
}

// Embed records text and returns the scripted vector or error.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedResult, nil
}

// EmbedBatch records texts and returns the scripted vectors or error. When
// no result is scripted it returns one nil vector per text so callers'
// length checks still hold.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.EmbedBatchCalls = append(p.EmbedBatchCalls, slices.Clone(texts))
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue, defaulting to "mock-embeddings".
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelIDValue == "" {
		return "mock-embeddings"
	}
	return p.ModelIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}

// Ensure Provider implements embed.Provider at compile time.
var _ embed.Provider = (*Provider)(nil)
