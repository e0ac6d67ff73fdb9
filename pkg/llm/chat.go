package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

var ErrEmptyResponse = errors.New("no response from LLM")

// providerClient is satisfied by every langchaingo backend we support.
type providerClient interface {
	llms.Model
	embeddings.EmbedderClient
}

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string // Ollama server URL or an OpenAI compatible endpoint
	Temperature    *float64 // nil uses 1
	MaxTokens      int
	SystemTemplate string
}

// ChatEngine turns a fully built prompt into a model answer.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
	logger *zap.Logger
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig, logger *zap.Logger) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = ProviderOpenAI
	}
	if config.Model == "" {
		config.Model = "gpt-4-1106-preview"
	}
	if config.Temperature == nil {
		temperature := 1.0
		config.Temperature = &temperature
	}
	if *config.Temperature < 0 || *config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant and brand voice classifier."
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	llm, err := newModel(config.Provider, config.Model, "", config.APIKey, config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
		logger: logger,
	}, nil
}

// Answer sends prompt as the single user message and returns the reply text.
func (ce *ChatEngine) Answer(ctx context.Context, prompt string) (string, error) {
	return ce.generate(ctx, prompt)
}

// AnswerStream is like Answer but hands each piece of the reply to onChunk
// as it arrives. The full reply is returned once the stream ends.
func (ce *ChatEngine) AnswerStream(ctx context.Context, prompt string, onChunk func(chunk string) error) (string, error) {
	return ce.generate(ctx, prompt, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onChunk(string(chunk))
	}))
}

func (ce *ChatEngine) generate(ctx context.Context, prompt string, extra ...llms.CallOption) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	options := append([]llms.CallOption{
		llms.WithTemperature(*ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}, extra...)

	ce.logger.Debug("requesting completion",
		zap.String("provider", ce.config.Provider),
		zap.String("model", ce.config.Model),
		zap.Int("prompt_length", len(prompt)))

	response, err := ce.llm.GenerateContent(ctx, content, options...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", ErrEmptyResponse
	}

	return response.Choices[0].Content, nil
}

// newModel builds the langchaingo client for provider. For OpenAI the chat and
// embedding models are configured separately; Ollama serves a single model.
func newModel(provider, model, embeddingModel, apiKey, baseURL string) (providerClient, error) {
	switch provider {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(apiKey),
			openai.WithModel(model),
		}
		if embeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(embeddingModel))
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.New(opts...)
	case ProviderOllama:
		if baseURL == "" {
			baseURL = "http://localhost:11434" // Default Ollama URL
		}
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
