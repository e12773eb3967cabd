package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solo125812/st-voyageai-memory/internal/storage"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

func TestFallback_ReadPrefersPrimary(t *testing.T) {
	ctx := context.Background()
	primary, secondary := storage.NewMemory(), storage.NewMemory()
	require.NoError(t, primary.Write(ctx, "aqua", []byte("primary")))
	require.NoError(t, secondary.Write(ctx, "aqua", []byte("secondary")))
	require.NoError(t, secondary.Write(ctx, "megumin", []byte("secondary only")))

	f := storage.NewFallback(primary, secondary)

	got, err := f.Read(ctx, "aqua")
	require.NoError(t, err)
	assert.Equal(t, "primary", string(got))

	got, err = f.Read(ctx, "megumin")
	require.NoError(t, err)
	assert.Equal(t, "secondary only", string(got))

	_, err = f.Read(ctx, "darkness")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFallback_ReadFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	secondary := storage.NewMemory()
	require.NoError(t, secondary.Write(ctx, "aqua", []byte("rescued")))

	f := storage.NewFallback(&failingPersistence{err: errors.New("connection refused")}, secondary)
	got, err := f.Read(ctx, "aqua")
	require.NoError(t, err)
	assert.Equal(t, "rescued", string(got))

	_, err = f.Read(ctx, "megumin")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound, "primary failure is reported over a secondary miss")
}

func TestFallback_Write(t *testing.T) {
	ctx := context.Background()

	t.Run("primary healthy", func(t *testing.T) {
		primary, secondary := storage.NewMemory(), storage.NewMemory()
		f := storage.NewFallback(primary, secondary)
		require.NoError(t, f.Write(ctx, "aqua", []byte("doc")))

		_, err := primary.Read(ctx, "aqua")
		assert.NoError(t, err)
		_, err = secondary.Read(ctx, "aqua")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("primary down", func(t *testing.T) {
		secondary := storage.NewMemory()
		f := storage.NewFallback(&failingPersistence{err: errors.New("disk full")}, secondary)
		require.NoError(t, f.Write(ctx, "aqua", []byte("doc")))

		got, err := secondary.Read(ctx, "aqua")
		require.NoError(t, err)
		assert.Equal(t, "doc", string(got))
	})

	t.Run("both down", func(t *testing.T) {
		f := storage.NewFallback(
			&failingPersistence{err: errors.New("disk full")},
			&failingPersistence{err: errors.New("out of memory")},
		)
		assert.Error(t, f.Write(ctx, "aqua", []byte("doc")))
	})
}

func TestFallback_KeysUnion(t *testing.T) {
	ctx := context.Background()
	primary, secondary := storage.NewMemory(), storage.NewMemory()
	require.NoError(t, primary.Write(ctx, "megumin", nil))
	require.NoError(t, primary.Write(ctx, "aqua", nil))
	require.NoError(t, secondary.Write(ctx, "aqua", nil))
	require.NoError(t, secondary.Write(ctx, "darkness", nil))

	keys, err := storage.NewFallback(primary, secondary).Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aqua", "darkness", "megumin"}, keys)
}

func TestMemory_CopiesData(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Write(ctx, "k", buf))
	buf[0] = 'X'

	got, err := m.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'Y'
	again, err := m.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

// flakyPersistence is a Memory whose writes fail while down is set.
type flakyPersistence struct {
	*storage.Memory
	down bool
}

func (f *flakyPersistence) Write(ctx context.Context, key string, data []byte) error {
	if f.down {
		return errors.New("connection reset by peer")
	}
	return f.Memory.Write(ctx, key, data)
}

func TestFallback_OutageWriteSurvivesReload(t *testing.T) {
	ctx := context.Background()
	primary := &flakyPersistence{Memory: storage.NewMemory()}
	f := storage.NewFallback(primary, storage.NewMemory())
	s := newTestStore(t, f)

	_, err := s.Add(ctx, "aqua", record("first"))
	require.NoError(t, err)

	primary.down = true
	_, err = s.Add(ctx, "aqua", record("second"))
	require.NoError(t, err)
	assert.Equal(t, []string{"aqua"}, f.Pending())

	s.InvalidateAll()
	require.Len(t, s.GetAll(ctx, "aqua"), 2, "reload serves the secondary's newer copy")

	primary.down = false
	_, err = s.Add(ctx, "aqua", record("third"))
	require.NoError(t, err)
	assert.Empty(t, f.Pending())

	var data types.StoreData
	raw, err := primary.Read(ctx, "aqua")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &data))
	var summaries []string
	for _, m := range data.Memories {
		summaries = append(summaries, m.Summary)
	}
	assert.Equal(t, []string{"first", "second", "third"}, summaries)

	s.InvalidateAll()
	assert.Len(t, s.GetAll(ctx, "aqua"), 3)
}
