package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xhad/brandvoice/internal/models"
	"github.com/xhad/brandvoice/pkg/store"
)

// newPgVectorStore connects to the database named by DATABASE_URL and skips
// the test when none is configured.
func newPgVectorStore(t *testing.T) *store.PgVectorStore {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set")
	}

	s, err := store.NewPgVectorStore(context.Background(), store.PgVectorConfig{
		ConnString:  connString,
		TablePrefix: "test",
		BatchSize:   2,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPgVectorTableName(t *testing.T) {
	assert.Equal(t, "rag_brand_voice", store.TableName("rag", "brand-voice"))
	assert.Equal(t, "rag_acme", store.TableName("rag", "acme"))
}

func TestPgVectorStore(t *testing.T) {
	ctx := context.Background()
	s := newPgVectorStore(t)

	const index = "pgvector-lifecycle"
	_, err := s.DeleteIndex(ctx, index)
	require.NoError(t, err)
	t.Cleanup(func() { s.DeleteIndex(context.Background(), index) })

	exists, err := s.IndexExists(ctx, index)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Query(ctx, index, []float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, store.ErrIndexNotFound)

	require.NoError(t, s.CreateIndex(ctx, index, 3))
	require.NoError(t, s.Upsert(ctx, index, testChunks()))

	exists, err = s.IndexExists(ctx, index)
	require.NoError(t, err)
	assert.True(t, exists)

	matches, err := s.Query(ctx, index, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "0", matches[0].ID)
	assert.Equal(t, "We are bold. ", matches[0].Text)
	assert.InDelta(t, 1.0, matches[0].Score, 0.0001)

	require.NoError(t, s.Upsert(ctx, index, []models.IndexedChunk{
		{ID: "0", Text: "We are loud.\x00 ", Embedding: []float32{1, 0, 0}},
	}))
	matches, err = s.Query(ctx, index, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "We are loud. ", matches[0].Text)

	names, err := s.ListIndexes(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, index)

	deleted, err := s.DeleteIndex(ctx, index)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.IndexExists(ctx, "Invalid_Name")
	assert.ErrorIs(t, err, store.ErrInvalidIndexName)
}
