package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type EmbedderConfig struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string  // Ollama server URL or an OpenAI compatible endpoint
	Dimension int     // expected vector length, checked on every call
	RateLimit float64 // requests per second, 0 means unlimited
}

// Embedder maps text to a fixed length vector.
type Embedder struct {
	config   EmbedderConfig
	embedder embeddings.Embedder
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// DefaultDimension is the vector length of the default embedding model of
// provider.
func DefaultDimension(provider string) int {
	if provider == ProviderOllama {
		return 768 // nomic-embed-text
	}
	return 1536 // text-embedding-ada-002
}

func NewEmbedderWithConfig(config EmbedderConfig, logger *zap.Logger) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderOpenAI
	}
	if config.Model == "" {
		if config.Provider == ProviderOllama {
			config.Model = "nomic-embed-text:latest" // Default Ollama model
		} else {
			config.Model = "text-embedding-ada-002"
		}
	}
	if config.Dimension == 0 {
		config.Dimension = DefaultDimension(config.Provider)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := newModel(config.Provider, config.Model, config.Model, config.APIKey, config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &Embedder{
		config:   config,
		embedder: emb,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}, nil
}

// EmbedText returns the embedding of a single piece of text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding error: %w", err)
	}
	if len(vector) != e.config.Dimension {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), e.config.Dimension)
	}

	e.logger.Debug("embedded text", zap.Int("length", len(text)))
	return vector, nil
}

// Dimension is the length of every vector EmbedText returns.
func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

func (e *Embedder) Model() string {
	return e.config.Model
}
