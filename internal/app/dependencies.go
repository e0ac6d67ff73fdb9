package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/brandvoice/internal/types"
	"github.com/xhad/brandvoice/pkg/config"
	"github.com/xhad/brandvoice/pkg/llm"
	"github.com/xhad/brandvoice/pkg/pipeline"
	"github.com/xhad/brandvoice/pkg/processor"
	"github.com/xhad/brandvoice/pkg/prompt"
	"github.com/xhad/brandvoice/pkg/scraper"
	"github.com/xhad/brandvoice/pkg/store"
)

// Dependencies holds every long lived collaborator of the process. It is
// built once at startup and torn down with Close.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	Scraper  *scraper.Scraper
	Embedder *llm.Embedder
	Chat     *llm.ChatEngine
	Store    types.VectorStore
	Service  *pipeline.Service
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initModels(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize models: %w", err)
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	deps.Scraper = scraper.NewWithConfig(scraper.ScraperConfig{
		RateLimit: cfg.Scraper.RateLimit,
		Timeout:   cfg.Scraper.Timeout,
		UserAgent: cfg.Scraper.UserAgent,
	}, logger.Named("scraper"))

	if err := deps.initService(cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("backend", cfg.Database.Backend))
	return deps, nil
}

func (d *Dependencies) initModels(cfg *config.Config) error {
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.EmbeddingModel,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Dimension: cfg.Database.VectorDim,
		RateLimit: cfg.LLM.RateLimit,
	}, d.Logger.Named("embedder"))
	if err != nil {
		return err
	}

	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.Model,
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		SystemTemplate: cfg.LLM.SystemPrompt,
	}, d.Logger.Named("chat"))
	if err != nil {
		return err
	}

	d.Embedder = embedder
	d.Chat = chat
	return nil
}

func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	vs, err := store.New(ctx, store.Config{
		Backend:       cfg.Database.Backend,
		URL:           cfg.Database.URL,
		TablePrefix:   cfg.Database.TablePrefix,
		BatchSize:     cfg.Database.BatchSize,
		Path:          cfg.Database.Path,
		Compress:      cfg.Database.Compress,
		EmbeddingFunc: d.Embedder.EmbedText,
	}, d.Logger.Named("store"))
	if err != nil {
		return err
	}

	d.Store = vs
	d.Logger.Info("vector store ready", zap.String("backend", cfg.Database.Backend))
	return nil
}

func (d *Dependencies) initService(cfg *config.Config) error {
	service, err := pipeline.NewWithConfig(pipeline.ServiceConfig{
		URLs:    d.Scraper,
		Uploads: d.Scraper,
		Processor: processor.NewWithConfig(processor.ProcessorConfig{
			ChunkSize:          cfg.Processor.ChunkSize,
			CollapseWhitespace: cfg.Processor.CollapseWhitespace,
		}),
		Embedder: d.Embedder,
		Store:    d.Store,
		Prompt: prompt.NewWithConfig(prompt.BuilderConfig{
			CharBudget: cfg.Prompt.CharBudget,
			Fallback:   prompt.OversizeFallback(cfg.Prompt.OversizeFallback),
		}, d.Logger.Named("prompt")),
		Answerer:           d.Chat,
		Logger:             d.Logger.Named("pipeline"),
		TopK:               cfg.Prompt.TopK,
		SettleDelay:        cfg.Pipeline.SettleDelay,
		BrandVoiceQuestion: cfg.Pipeline.BrandVoiceQuestion,
	})
	if err != nil {
		return err
	}

	d.Service = service
	return nil
}

// Close releases every resource held by the dependencies.
func (d *Dependencies) Close() {
	if d.Store != nil {
		d.Store.Close()
	}
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
}
