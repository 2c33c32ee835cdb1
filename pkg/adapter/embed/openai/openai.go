// Package openai implements embed.Provider using the OpenAI embeddings API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/embed"
)

// DefaultModel is the embeddings model used when none is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// Compile-time assertion that Provider implements embed.Provider.
var _ embed.Provider = (*Provider)(nil)

// Provider implements embed.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides the default embeddings model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI embeddings Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: cfg.model}, nil
}

// request runs one embeddings call against the configured model and hands
// back the raw vectors.
func (p *Provider) request(ctx context.Context, input oai.EmbeddingNewParamsInputUnion) ([]oai.Embedding, error) {
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{Model: p.model, Input: input})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Embed implements embed.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	data, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)})
	if err != nil {
		return nil, fmt.Errorf("openai: embed: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai: empty embeddings response")
	}
	return float64ToFloat32(data[0].Embedding), nil
}

// EmbedBatch implements embed.Provider. The response arrives index-tagged,
// so results are placed by index rather than response order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	data, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts})
	if err != nil {
		return nil, fmt.Errorf("openai: embed batch: %w", err)
	}
	if len(data) != len(texts) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(data))
	}

	vecs := make([][]float32, len(texts))
	for _, e := range data {
		if int(e.Index) >= len(vecs) {
			return nil, fmt.Errorf("openai: unexpected embedding index %d", e.Index)
		}
		vecs[e.Index] = float64ToFloat32(e.Embedding)
	}
	return vecs, nil
}

// Dimensions implements embed.Provider.
func (p *Provider) Dimensions() int {
	return modelDimensions(p.model)
}

// ModelID implements embed.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// modelDimensions maps known OpenAI embedding models to their vector width.
// Every model except 3-large is 1536 wide, so unknown models assume that;
// the width only matters for sizing the pgvector column up front.
func modelDimensions(model string) int {
	if strings.Contains(strings.ToLower(model), "text-embedding-3-large") {
		return 3072
	}
	return 1536
}

// float64ToFloat32 narrows the SDK's float64 vectors to the float32 the
// knowledge base stores.
func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i := range in {
		out[i] = float32(in[i])
	}
	return out
}
