package mongodb

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solo125812/st-voyageai-memory/internal/storage"
)

func TestStore_ReadWrite(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set; skipping MongoDB integration test")
	}
	ctx := context.Background()

	s, err := New(ctx, uri, "stmem_test", "memory_stores")
	require.NoError(t, err)
	require.NoError(t, s.DropForTest(ctx))
	defer func() { _ = s.Close(ctx) }()

	_, err = s.Read(ctx, "aqua")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	doc := []byte("{\n  \"entity_id\": \"aqua\",\n  \"memories\": []\n}")
	require.NoError(t, s.Write(ctx, "aqua", doc))
	require.NoError(t, s.Write(ctx, "aqua", doc))

	got, err := s.Read(ctx, "aqua")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aqua"}, keys)
}
