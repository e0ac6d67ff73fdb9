package types

import (
	"context"

	"github.com/xhad/brandvoice/internal/models"
)

// Core interfaces
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type VectorStore interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, name string, chunks []models.IndexedChunk) error
	Query(ctx context.Context, name string, embedding []float32, topK int) ([]models.Match, error)
	DeleteIndex(ctx context.Context, name string) (bool, error)
	ListIndexes(ctx context.Context) ([]string, error)
	Close()
}

type Answerer interface {
	Answer(ctx context.Context, prompt string) (string, error)
	AnswerStream(ctx context.Context, prompt string, onChunk func(chunk string) error) (string, error)
}

type URLExtractor interface {
	Extract(ctx context.Context, rawURL string) (models.Document, error)
}

type UploadExtractor interface {
	ExtractUpload(filename, contentType string, data []byte) (models.Document, error)
}

// ProgressFunc is called after each chunk has been handled during ingestion.
type ProgressFunc func(done, total int)
