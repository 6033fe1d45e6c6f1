package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hashing"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 20
	MaxBatchSize     = 100

	jinaBaseURL = "https://api.jina.ai/v1"
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// embeddings endpoint (OpenAI itself, Jina, local gateways).
type OpenAIProvider struct {
	client    *openai.Client
	name      string
	model     string
	dimension int

	// requestDimensions is sent with every request when the dimension was
	// configured explicitly, so models with a larger native size shorten
	// their output to match the store
	requestDimensions int
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(apiKey, model string, dimension int) (*OpenAIProvider, error) {
	if model == "" {
		model = DefaultOpenAIModel
	}
	requested := dimension
	if dimension <= 0 {
		dimension = OpenAIDimension
	}
	p, err := newOpenAICompatible(ProviderOpenAI, apiKey, "", model, dimension)
	if err != nil {
		return nil, err
	}
	p.requestDimensions = max(requested, 0)
	return p, nil
}

// NewJinaProvider creates a Jina AI embedder using its OpenAI-compatible API
func NewJinaProvider(apiKey, model string, dimension int) (*OpenAIProvider, error) {
	if model == "" {
		model = DefaultJinaModel
	}
	requested := dimension
	if dimension <= 0 {
		dimension = JinaDimension
	}
	p, err := newOpenAICompatible(ProviderJina, apiKey, jinaBaseURL, model, dimension)
	if err != nil {
		return nil, err
	}
	p.requestDimensions = max(requested, 0)
	return p, nil
}

func newOpenAICompatible(name, apiKey, baseURL, model string, dimension int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s api key not set", ErrNoProviderEnabled, name)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		name:      name,
		model:     model,
		dimension: dimension,
	}, nil
}

func (o *OpenAIProvider) IsAvailable() bool {
	return o.client != nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.requestDimensions,
	})
	if err != nil {
		// A rejected single input (e.g. over the token limit) is a per-text
		// outcome, not a provider failure.
		var apiErr *openai.APIError
		if len(texts) == 1 && errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusBadRequest {
			return make([][]float32, 1), nil
		}
		return nil, fmt.Errorf("%s embeddings: %w", o.name, err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%s embeddings: index %d out of range", o.name, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Name() string {
	return o.name + "/" + o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}

// LocalProvider is an offline embedder based on feature hashing of word
// tokens. Texts that share words get similar vectors, which is enough for
// development and tests without an API key.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a local hashing embedder
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dimension: dimension}
}

func (l *LocalProvider) IsAvailable() bool {
	return true
}

func (l *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = l.embedOne(text)
	}
	return out, nil
}

// embedOne returns nil for text without any word tokens
func (l *LocalProvider) embedOne(text string) []float32 {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return nil
	}

	vector := make([]float32, l.dimension)
	for _, tok := range tokens {
		h := sha256.Sum256([]byte(tok))
		bucket := binary.LittleEndian.Uint64(h[:8]) % uint64(l.dimension)
		sign := float32(1)
		if h[8]&1 == 1 {
			sign = -1
		}
		vector[bucket] += sign
	}
	return NormalizeVector(vector)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Name() string {
	return ProviderLocal + "/" + DefaultLocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
