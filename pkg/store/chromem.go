package store

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/xhad/brandvoice/internal/models"
)

type ChromemConfig struct {
	Path          string // empty keeps everything in memory
	Compress      bool
	EmbeddingFunc chromem.EmbeddingFunc
}

// ChromemStore maps every index to a chromem-go collection.
type ChromemStore struct {
	config ChromemConfig
	db     *chromem.DB
	logger *zap.Logger

	mu   sync.Mutex
	dims map[string]int
}

func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &ChromemStore{
		config: config,
		db:     db,
		logger: logger,
		dims:   make(map[string]int),
	}, nil
}

func (s *ChromemStore) IndexExists(_ context.Context, name string) (bool, error) {
	return s.collection(name) != nil, nil
}

func (s *ChromemStore) CreateIndex(_ context.Context, name string, dimension int) error {
	if err := ValidateIndexName(name); err != nil {
		return err
	}

	metadata := map[string]string{
		"dimension": strconv.Itoa(dimension),
		"metric":    "cosine",
	}
	if _, err := s.db.GetOrCreateCollection(name, metadata, s.config.EmbeddingFunc); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	s.mu.Lock()
	s.dims[name] = dimension
	s.mu.Unlock()

	s.logger.Info("created index", zap.String("index", name), zap.Int("dimension", dimension))
	return nil
}

func (s *ChromemStore) Upsert(ctx context.Context, name string, chunks []models.IndexedChunk) error {
	c := s.collection(name)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	dim := s.dims[name]
	s.mu.Unlock()

	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		if dim > 0 && len(chunk.Embedding) != dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index %s expects %d",
				ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), name, dim)
		}
		docs = append(docs, chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Metadata:  map[string]string{"chunk_text": chunk.Text},
			Embedding: chunk.Embedding,
		})
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, name string, embedding []float32, topK int) ([]models.Match, error) {
	c := s.collection(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	// chromem refuses to return more results than it holds.
	n := topK
	if count := c.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	matches := make([]models.Match, 0, len(results))
	for _, r := range results {
		text := r.Metadata["chunk_text"]
		if text == "" {
			text = r.Content
		}
		matches = append(matches, models.Match{ID: r.ID, Text: text, Score: r.Similarity})
	}
	return matches, nil
}

func (s *ChromemStore) DeleteIndex(_ context.Context, name string) (bool, error) {
	if s.collection(name) == nil {
		return false, nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return false, fmt.Errorf("failed to drop collection: %w", err)
	}

	s.mu.Lock()
	delete(s.dims, name)
	s.mu.Unlock()

	s.logger.Info("deleted index", zap.String("index", name))
	return true, nil
}

func (s *ChromemStore) ListIndexes(_ context.Context) ([]string, error) {
	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *ChromemStore) Close() {}

func (s *ChromemStore) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, s.config.EmbeddingFunc)
}
