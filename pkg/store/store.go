// Package store keeps embedded chunks in named vector indexes and answers
// cosine similarity queries against them.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/xhad/brandvoice/internal/types"
)

const (
	BackendPgVector = "pgvector"
	BackendChromem  = "chromem"
	BackendMemory   = "memory"

	MaxIndexNameLength = 45
)

var (
	ErrIndexNotFound     = errors.New("index not found")
	ErrInvalidIndexName  = errors.New("index name must be 1-45 lowercase letters, digits or hyphens and may not start or end with a hyphen")
	ErrDimensionMismatch = errors.New("embedding dimension does not match index")

	indexNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

// ValidateIndexName reports whether name can be used as an index name on
// every backend.
func ValidateIndexName(name string) error {
	if len(name) == 0 || len(name) > MaxIndexNameLength || !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIndexName, name)
	}
	return nil
}

type Config struct {
	Backend     string
	URL         string
	TablePrefix string
	BatchSize   int
	Path        string
	Compress    bool

	// EmbeddingFunc lets chromem embed documents stored without a vector.
	EmbeddingFunc chromem.EmbeddingFunc
}

// New opens the vector store selected by cfg.Backend.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (types.VectorStore, error) {
	switch cfg.Backend {
	case BackendPgVector, "":
		return NewPgVectorStore(ctx, PgVectorConfig{
			ConnString:  cfg.URL,
			TablePrefix: cfg.TablePrefix,
			BatchSize:   cfg.BatchSize,
		}, logger)
	case BackendChromem:
		return NewChromemStore(ChromemConfig{
			Path:          cfg.Path,
			Compress:      cfg.Compress,
			EmbeddingFunc: cfg.EmbeddingFunc,
		}, logger)
	case BackendMemory:
		return NewChromemStore(ChromemConfig{EmbeddingFunc: cfg.EmbeddingFunc}, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}
