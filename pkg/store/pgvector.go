package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/brandvoice/internal/models"
)

// undefined_table
const pgUndefinedTable = "42P01"

type PgVectorConfig struct {
	ConnString  string
	TablePrefix string
	BatchSize   int
	Lists       int // ivfflat lists per index
}

// PgVectorStore keeps each index in its own table with an ivfflat cosine
// index over the embedding column.
type PgVectorStore struct {
	config PgVectorConfig
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgVectorStore(ctx context.Context, config PgVectorConfig, logger *zap.Logger) (*PgVectorStore, error) {
	if config.TablePrefix == "" {
		config.TablePrefix = "rag"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Lists == 0 {
		config.Lists = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PgVectorStore{
		config: config,
		pool:   pool,
		logger: logger,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PgVectorStore) initialize(ctx context.Context) error {
	if err := vs.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	return nil
}

// TableName is the table backing index name.
func TableName(prefix, name string) string {
	return prefix + "_" + strings.ReplaceAll(name, "-", "_")
}

func (vs *PgVectorStore) TableName(name string) string {
	return TableName(vs.config.TablePrefix, name)
}

func (vs *PgVectorStore) indexName(table string) (string, bool) {
	prefix := vs.config.TablePrefix + "_"
	if !strings.HasPrefix(table, prefix) {
		return "", false
	}
	return strings.ReplaceAll(strings.TrimPrefix(table, prefix), "_", "-"), true
}

func (vs *PgVectorStore) table(name string) (string, error) {
	if err := ValidateIndexName(name); err != nil {
		return "", err
	}
	return pgx.Identifier{vs.TableName(name)}.Sanitize(), nil
}

func (vs *PgVectorStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if err := ValidateIndexName(name); err != nil {
		return false, err
	}

	var exists bool
	err := vs.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", vs.TableName(name)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up index %s: %w", name, err)
	}
	return exists, nil
}

func (vs *PgVectorStore) CreateIndex(ctx context.Context, name string, dimension int) error {
	table, err := vs.table(name)
	if err != nil {
		return err
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			chunk_text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table, dimension)

	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Create vector index
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`,
		pgx.Identifier{vs.TableName(name) + "_embedding_idx"}.Sanitize(), table, vs.config.Lists)

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	vs.logger.Info("created index",
		zap.String("index", name),
		zap.String("table", vs.TableName(name)),
		zap.Int("dimension", dimension))
	return nil
}

func (vs *PgVectorStore) Upsert(ctx context.Context, name string, chunks []models.IndexedChunk) error {
	table, err := vs.table(name)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, chunk_text, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			chunk_text = EXCLUDED.chunk_text,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`, table)

	// Insert chunks in batches
	for start := 0; start < len(chunks); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		batch := &pgx.Batch{}
		for _, chunk := range chunks[start:end] {
			text := sanitizeText(chunk.Text)
			batch.Queue(stmt,
				chunk.ID,
				text,
				pgvector.NewVector(chunk.Embedding),
				map[string]string{"chunk_text": text},
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isUndefinedTable(err) {
				return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
			}
			return fmt.Errorf("failed to upsert chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.logger.Debug("upserted chunks", zap.String("index", name), zap.Int("count", len(chunks)))
	return nil
}

func (vs *PgVectorStore) Query(ctx context.Context, name string, embedding []float32, topK int) ([]models.Match, error) {
	table, err := vs.table(name)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, chunk_text, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, table)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(embedding), topK)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var (
			m     models.Match
			score float64
		)
		if err := rows.Scan(&m.ID, &m.Text, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return matches, nil
}

func (vs *PgVectorStore) DeleteIndex(ctx context.Context, name string) (bool, error) {
	exists, err := vs.IndexExists(ctx, name)
	if err != nil || !exists {
		return false, err
	}

	table, err := vs.table(name)
	if err != nil {
		return false, err
	}
	if _, err := vs.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return false, fmt.Errorf("failed to drop table: %w", err)
	}

	vs.logger.Info("deleted index", zap.String("index", name))
	return true, nil
}

func (vs *PgVectorStore) ListIndexes(ctx context.Context) ([]string, error) {
	rows, err := vs.pool.Query(ctx, `
		SELECT table_name::text
		FROM information_schema.tables
		WHERE table_schema = current_schema()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read tables: %w", err)
	}

	names := make([]string, 0, len(tables))
	for _, table := range tables {
		if name, ok := vs.indexName(table); ok && ValidateIndexName(name) == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (vs *PgVectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

// sanitizeText drops invalid UTF-8 and NUL bytes, both of which Postgres
// rejects in text columns.
func sanitizeText(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == 0 {
			continue
		}
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
