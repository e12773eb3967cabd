package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solo125812/st-voyageai-memory/internal/storage"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ReadWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Read(ctx, "aqua")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Write(ctx, "aqua", []byte(`{"entity_id":"aqua"}`)))
	require.NoError(t, s.Write(ctx, "aqua", []byte(`{"entity_id":"aqua","entity_name":"Aqua"}`)))

	got, err := s.Read(ctx, "aqua")
	require.NoError(t, err)
	assert.JSONEq(t, `{"entity_id":"aqua","entity_name":"Aqua"}`, string(got))

	require.NoError(t, s.Write(ctx, "megumin", []byte(`{}`)))
	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aqua", "megumin"}, keys)
}

func TestStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories.db")
	ctx := context.Background()

	first, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Write(ctx, "aqua", []byte(`{}`)))
	require.NoError(t, first.Close())

	second, err := New(ctx, path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	_, err = second.Read(ctx, "aqua")
	assert.NoError(t, err, "data survives reopen")
}

func TestStore_BacksMemoryStore(t *testing.T) {
	ctx := context.Background()
	ms, err := storage.NewMemoryStore(newTestStore(t), 0)
	require.NoError(t, err)

	rec, err := ms.Add(ctx, "aqua", types.MemoryRecord{
		OriginalMessage: "I told her the truth about the letter.",
		Summary:         "User revealed the truth about the letter.",
		Embedding:       []float64{0.1, 0.2, 0.3},
		Metadata:        types.Metadata{Role: types.RoleUser},
	})
	require.NoError(t, err)

	ms.InvalidateAll()
	got, err := ms.Get(ctx, "aqua", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Summary, got.Summary)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.Embedding)
}

func TestDBPathFromDSN(t *testing.T) {
	assert.Equal(t, "", dbPathFromDSN(":memory:"))
	assert.Equal(t, "/data/memories.db", dbPathFromDSN("/data/memories.db"))
	assert.Equal(t, "/data/memories.db", dbPathFromDSN("file:/data/memories.db?mode=rwc"))
	assert.Equal(t, "", dbPathFromDSN("file::memory:?cache=shared"))
}
