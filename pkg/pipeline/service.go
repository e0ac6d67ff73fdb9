// Package pipeline wires extraction, chunking, embedding, retrieval, prompt
// assembly and answering into the brand voice and question answering flows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/brandvoice/internal/models"
	"github.com/xhad/brandvoice/internal/types"
	"github.com/xhad/brandvoice/pkg/processor"
	"github.com/xhad/brandvoice/pkg/prompt"
	"github.com/xhad/brandvoice/pkg/scraper"
	"github.com/xhad/brandvoice/pkg/store"
)

const (
	DefaultTopK               = 3
	DefaultSettleDelay        = 15 * time.Second
	DefaultBrandVoiceQuestion = "What is the brand voice in this text?"
)

type ServiceConfig struct {
	URLs      types.URLExtractor
	Uploads   types.UploadExtractor
	Processor processor.Processor
	Embedder  types.Embedder
	Store     types.VectorStore
	Prompt    *prompt.Builder
	Answerer  types.Answerer
	Logger    *zap.Logger

	TopK int
	// SettleDelay is waited after fresh chunks are stored and before they are
	// searched. A negative value disables it.
	SettleDelay        time.Duration
	BrandVoiceQuestion string

	// Sleep replaces the settle wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Service struct {
	config ServiceConfig
	logger *zap.Logger
}

// Upload is a file posted by a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// BrandVoiceRequest names the index to fill and exactly one source. URL wins
// when both are given.
type BrandVoiceRequest struct {
	IndexName string
	URL       string
	Upload    *Upload
}

type BrandVoiceResult struct {
	Answer string
	Ingest models.IngestResult
}

func NewWithConfig(config ServiceConfig) (*Service, error) {
	if config.Embedder == nil {
		return nil, errors.New("pipeline: embedder is required")
	}
	if config.Store == nil {
		return nil, errors.New("pipeline: vector store is required")
	}
	if config.Answerer == nil {
		return nil, errors.New("pipeline: answerer is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Prompt == nil {
		config.Prompt = prompt.NewWithConfig(prompt.BuilderConfig{}, config.Logger)
	}
	if config.Processor.ChunkSize() == 0 {
		config.Processor = processor.NewWithConfig(processor.ProcessorConfig{})
	}
	if config.TopK == 0 {
		config.TopK = DefaultTopK
	}
	if config.SettleDelay == 0 {
		config.SettleDelay = DefaultSettleDelay
	}
	if config.BrandVoiceQuestion == "" {
		config.BrandVoiceQuestion = DefaultBrandVoiceQuestion
	}
	if config.Sleep == nil {
		config.Sleep = sleep
	}

	return &Service{
		config: config,
		logger: config.Logger,
	}, nil
}

// ExtractURL downloads and extracts the text behind rawURL.
func (s *Service) ExtractURL(ctx context.Context, rawURL string) (models.Document, error) {
	if strings.TrimSpace(rawURL) == "" {
		return models.Document{}, ErrNoInput
	}
	if s.config.URLs == nil {
		return models.Document{}, &Error{Kind: KindInternal, Message: "url extraction is not configured"}
	}

	doc, err := s.config.URLs.Extract(ctx, rawURL)
	if err != nil {
		return models.Document{}, classifyExtractError(err)
	}
	return doc, nil
}

// ExtractUpload extracts the text of an uploaded file.
func (s *Service) ExtractUpload(upload Upload) (models.Document, error) {
	if s.config.Uploads == nil {
		return models.Document{}, &Error{Kind: KindInternal, Message: "upload extraction is not configured"}
	}

	doc, err := s.config.Uploads.ExtractUpload(upload.Filename, upload.ContentType, upload.Data)
	if err != nil {
		return models.Document{}, classifyExtractError(err)
	}
	return doc, nil
}

// Ingest chunks doc and stores every chunk with its embedding in index. An
// index that already exists is left untouched.
func (s *Service) Ingest(ctx context.Context, index string, doc models.Document, progress types.ProgressFunc) (models.IngestResult, error) {
	if err := store.ValidateIndexName(index); err != nil {
		return models.IngestResult{}, validationError(err)
	}

	chunks := s.config.Processor.Process(doc)
	result := models.IngestResult{Index: index, Chunks: len(chunks)}

	logger := s.logger.With(zap.String("index", index), zap.String("source", doc.Source))

	exists, err := s.config.Store.IndexExists(ctx, index)
	if err != nil {
		return result, storeError(index, err)
	}
	if exists {
		logger.Info("index already exists, skipping ingestion", zap.Int("chunks", len(chunks)))
		result.Skipped = true
		return result, nil
	}

	indexed := make([]models.IndexedChunk, 0, len(chunks))
	var lastErr error
	for i, chunk := range chunks {
		id := fmt.Sprint(i)

		embedding, err := s.config.Embedder.EmbedText(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return result, upstreamError("ingestion interrupted: %v", ctx.Err())
			}
			logger.Warn("failed to embed chunk", zap.String("id", id), zap.Error(err))
			lastErr = err
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, id)
		} else {
			indexed = append(indexed, models.IndexedChunk{ID: id, Text: chunk, Embedding: embedding})
		}

		if progress != nil {
			progress(i+1, len(chunks))
		}
	}

	// An index only exists once it holds chunks.
	if len(chunks) > 0 && len(indexed) == 0 {
		return result, &Error{
			Kind:    KindUpstream,
			Message: fmt.Sprintf("failed to embed any of %d chunks: %v", len(chunks), lastErr),
			Err:     lastErr,
		}
	}

	if err := s.config.Store.CreateIndex(ctx, index, s.config.Embedder.Dimension()); err != nil {
		return result, storeError(index, err)
	}

	if err := s.config.Store.Upsert(ctx, index, indexed); err != nil {
		s.dropIndex(ctx, logger, index)
		return result, storeError(index, err)
	}
	result.Stored = len(indexed)

	logger.Info("ingested document",
		zap.Int("chunks", result.Chunks),
		zap.Int("stored", result.Stored),
		zap.Int("failed", result.Failed))

	return result, nil
}

// IngestURL extracts rawURL and ingests it into index.
func (s *Service) IngestURL(ctx context.Context, index, rawURL string, progress types.ProgressFunc) (models.IngestResult, error) {
	if err := store.ValidateIndexName(index); err != nil {
		return models.IngestResult{}, validationError(err)
	}

	doc, err := s.ExtractURL(ctx, rawURL)
	if err != nil {
		return models.IngestResult{}, err
	}
	return s.Ingest(ctx, index, doc, progress)
}

// GenerateBrandVoice ingests the requested source and asks the model to
// describe its brand voice.
func (s *Service) GenerateBrandVoice(ctx context.Context, req BrandVoiceRequest, progress types.ProgressFunc) (BrandVoiceResult, error) {
	if err := store.ValidateIndexName(req.IndexName); err != nil {
		return BrandVoiceResult{}, validationError(err)
	}

	var (
		doc models.Document
		err error
	)
	switch {
	case req.URL != "":
		doc, err = s.ExtractURL(ctx, req.URL)
	case req.Upload != nil:
		doc, err = s.ExtractUpload(*req.Upload)
	default:
		err = ErrNoInput
	}
	if err != nil {
		return BrandVoiceResult{}, err
	}

	ingest, err := s.Ingest(ctx, req.IndexName, doc, progress)
	if err != nil {
		return BrandVoiceResult{Ingest: ingest}, err
	}

	if ingest.Stored > 0 && s.config.SettleDelay > 0 {
		s.logger.Debug("waiting for index to settle", zap.Duration("delay", s.config.SettleDelay))
		if err := s.config.Sleep(ctx, s.config.SettleDelay); err != nil {
			return BrandVoiceResult{Ingest: ingest}, upstreamError("ingestion interrupted: %v", err)
		}
	}

	answer, err := s.Query(ctx, req.IndexName, s.config.BrandVoiceQuestion)
	if err != nil {
		return BrandVoiceResult{Ingest: ingest}, err
	}

	return BrandVoiceResult{Answer: answer.Answer, Ingest: ingest}, nil
}

// Retrieve returns the chunks of index most similar to question, best first.
func (s *Service) Retrieve(ctx context.Context, index, question string) ([]models.Match, error) {
	if err := store.ValidateIndexName(index); err != nil {
		return nil, validationError(err)
	}

	embedding, err := s.config.Embedder.EmbedText(ctx, question)
	if err != nil {
		return nil, upstreamError("failed to embed question: %v", err)
	}

	matches, err := s.config.Store.Query(ctx, index, embedding, s.config.TopK)
	if err != nil {
		return nil, storeError(index, err)
	}

	s.logger.Debug("retrieved context",
		zap.String("index", index),
		zap.Int("top_k", s.config.TopK),
		zap.Int("matches", len(matches)))

	return matches, nil
}

// Query answers question from the context stored in index.
func (s *Service) Query(ctx context.Context, index, question string) (models.Answer, error) {
	return s.query(ctx, index, question, nil)
}

// QueryStream is like Query but forwards the answer to onChunk as it is
// generated.
func (s *Service) QueryStream(ctx context.Context, index, question string, onChunk func(chunk string) error) (models.Answer, error) {
	if onChunk == nil {
		return models.Answer{}, &Error{Kind: KindInternal, Message: "stream callback is required"}
	}
	return s.query(ctx, index, question, onChunk)
}

func (s *Service) query(ctx context.Context, index, question string, onChunk func(string) error) (models.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return models.Answer{}, &Error{Kind: KindValidation, Message: "question must not be empty"}
	}

	matches, err := s.Retrieve(ctx, index, question)
	if err != nil {
		return models.Answer{}, err
	}

	contextChunks := make([]string, len(matches))
	for i, m := range matches {
		contextChunks[i] = m.Text
	}
	p := s.config.Prompt.Build(question, contextChunks)

	var answer string
	if onChunk != nil {
		answer, err = s.config.Answerer.AnswerStream(ctx, p, onChunk)
	} else {
		answer, err = s.config.Answerer.Answer(ctx, p)
	}
	if err != nil {
		return models.Answer{}, upstreamError("failed to generate answer: %v", err)
	}

	return models.Answer{
		Question: question,
		Answer:   answer,
		Context:  contextChunks,
		Prompt:   p,
	}, nil
}

// DeleteIndex removes index. Deleting a missing index is not an error; the
// returned bool reports whether anything was removed.
func (s *Service) DeleteIndex(ctx context.Context, index string) (bool, error) {
	if err := store.ValidateIndexName(index); err != nil {
		return false, validationError(err)
	}

	deleted, err := s.config.Store.DeleteIndex(ctx, index)
	if err != nil {
		return false, storeError(index, err)
	}

	s.logger.Info("delete index", zap.String("index", index), zap.Bool("existed", deleted))
	return deleted, nil
}

// dropIndex removes an index left half built by a failed ingestion.
func (s *Service) dropIndex(ctx context.Context, logger *zap.Logger, index string) {
	if _, err := s.config.Store.DeleteIndex(context.WithoutCancel(ctx), index); err != nil {
		logger.Error("failed to drop partial index", zap.Error(err))
	}
}

func (s *Service) ListIndexes(ctx context.Context) ([]string, error) {
	names, err := s.config.Store.ListIndexes(ctx)
	if err != nil {
		return nil, upstreamError("failed to list indexes: %v", err)
	}
	return names, nil
}

func classifyExtractError(err error) error {
	var fetchErr *scraper.FetchError
	switch {
	case errors.Is(err, scraper.ErrUnsupportedContentType),
		errors.Is(err, scraper.ErrUnsupportedFileType):
		return validationError(err)
	case errors.As(err, &fetchErr):
		return &Error{Kind: KindUpstream, Message: err.Error(), Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return upstreamError("extraction interrupted: %v", err)
	default:
		// The source was reachable but its content could not be parsed.
		return validationError(err)
	}
}

func storeError(index string, err error) error {
	switch {
	case errors.Is(err, store.ErrInvalidIndexName):
		return validationError(err)
	case errors.Is(err, store.ErrIndexNotFound):
		return notFoundError(fmt.Sprintf("Index %s not found", index), err)
	default:
		return upstreamError("vector store error: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
