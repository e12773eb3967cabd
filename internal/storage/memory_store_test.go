package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solo125812/st-voyageai-memory/internal/storage"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

func newTestStore(t *testing.T, p storage.Persistence, opts ...storage.Option) *storage.MemoryStore {
	t.Helper()
	if p == nil {
		p = storage.NewMemory()
	}
	s, err := storage.NewMemoryStore(p, 8, opts...)
	require.NoError(t, err)
	return s
}

func record(summary string, embedding ...float64) types.MemoryRecord {
	return types.MemoryRecord{
		OriginalMessage: "original: " + summary,
		Summary:         summary,
		Embedding:       embedding,
		Metadata:        types.Metadata{Role: types.RoleUser},
	}
}

// failingPersistence fails every operation with err.
type failingPersistence struct {
	err    error
	reads  int
	writes int
}

func (f *failingPersistence) Read(context.Context, string) ([]byte, error) {
	f.reads++
	return nil, f.err
}

func (f *failingPersistence) Write(context.Context, string, []byte) error {
	f.writes++
	return f.err
}

func TestLoad_MissingStoreIsCreatedLazily(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, nil, storage.WithClock(func() time.Time { return now }))

	data := s.Load(context.Background(), "aqua")
	assert.Equal(t, "aqua", data.EntityID)
	assert.Empty(t, data.Memories)
	assert.NotNil(t, data.Memories)
	assert.Equal(t, now, data.CreatedAt)
	assert.Equal(t, now, data.UpdatedAt)
}

func TestLoad_ReadFailureYieldsEmptyShell(t *testing.T) {
	p := &failingPersistence{err: errors.New("disk on fire")}
	s := newTestStore(t, p)

	data := s.Load(context.Background(), "aqua")
	assert.Empty(t, data.Memories)

	_ = s.Load(context.Background(), "aqua")
	assert.Equal(t, 1, p.reads, "the shell is cached")
}

func TestLoad_MalformedDocumentYieldsEmptyShell(t *testing.T) {
	p := storage.NewMemory()
	require.NoError(t, p.Write(context.Background(), "aqua", []byte("{not json")))

	s := newTestStore(t, p)
	assert.Empty(t, s.Load(context.Background(), "aqua").Memories)
}

func TestAdd_AssignsUniqueIDsAndPersists(t *testing.T) {
	ctx := context.Background()
	p := storage.NewMemory()
	s := newTestStore(t, p)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		rec, err := s.Add(ctx, "aqua", record(fmt.Sprintf("memory %d", i), 1, 0))
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.False(t, seen[rec.ID], "duplicate id %s", rec.ID)
		seen[rec.ID] = true
		assert.False(t, rec.Timestamp.IsZero())
		assert.Equal(t, types.DefaultImportance, rec.Metadata.Importance)
	}

	raw, err := p.Read(ctx, "aqua")
	require.NoError(t, err)
	var persisted types.StoreData
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Len(t, persisted.Memories, 50)
}

func TestAdd_RegeneratesCollidingIDs(t *testing.T) {
	ids := []string{"a", "a", "b"}
	var n int
	s := newTestStore(t, nil, storage.WithIDGenerator(func() string {
		id := ids[n]
		n++
		return id
	}))
	ctx := context.Background()

	first, err := s.Add(ctx, "aqua", record("one"))
	require.NoError(t, err)
	second, err := s.Add(ctx, "aqua", record("two"))
	require.NoError(t, err)

	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)
}

func TestAdd_RejectsDimensionChange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	_, err := s.Add(ctx, "aqua", record("3d", 1, 2, 3))
	require.NoError(t, err)
	_, err = s.Add(ctx, "aqua", record("2d", 1, 2))
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	assert.Len(t, s.GetAll(ctx, "aqua"), 1)
}

func TestImport_RejectsDimensionChange(t *testing.T) {
	ctx := context.Background()

	t.Run("merge against existing store", func(t *testing.T) {
		s := newTestStore(t, nil)
		_, err := s.Add(ctx, "aqua", record("3d", 1, 2, 3))
		require.NoError(t, err)

		payload := []byte(`{"memories":[{"id":"m-2d","summary":"2d","embedding":[1,2]}]}`)
		_, err = s.Import(ctx, "aqua", payload, true)
		assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
		assert.Len(t, s.GetAll(ctx, "aqua"), 1)
	})

	t.Run("mixed payload on replace", func(t *testing.T) {
		s := newTestStore(t, nil)
		payload := []byte(`{"memories":[
			{"id":"a","summary":"a","embedding":[1,2,3]},
			{"id":"b","summary":"b","embedding":[1,2]}
		]}`)
		_, err := s.Import(ctx, "aqua", payload, false)
		assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
		assert.Empty(t, s.GetAll(ctx, "aqua"))
	})

	t.Run("replace may switch models", func(t *testing.T) {
		s := newTestStore(t, nil)
		_, err := s.Add(ctx, "aqua", record("3d", 1, 2, 3))
		require.NoError(t, err)

		n, err := s.Import(ctx, "aqua", []byte(`{"memories":[{"id":"a","summary":"a","embedding":[1,2]}]}`), false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestAdd_WriteFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	p := &failingPersistence{err: errors.New("read-only file system")}
	s := newTestStore(t, p)

	_, err := s.Add(ctx, "aqua", record("lost"))
	assert.ErrorIs(t, err, types.ErrStorage)
	assert.Empty(t, s.GetAll(ctx, "aqua"))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	a, err := s.Add(ctx, "aqua", record("a"))
	require.NoError(t, err)
	_, err = s.Add(ctx, "aqua", record("b"))
	require.NoError(t, err)

	ok, err := s.Delete(ctx, "aqua", "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, s.GetAll(ctx, "aqua"), 2)

	ok, err = s.Delete(ctx, "aqua", a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	all := s.GetAll(ctx, "aqua")
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Summary)

	ok, err = s.Delete(ctx, "aqua", a.ID)
	require.NoError(t, err)
	assert.False(t, ok, "deletion is idempotent")
}

func TestClear_KeepsShell(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	require.NoError(t, s.SetEntityName(ctx, "aqua", "Aqua"))
	_, err := s.Add(ctx, "aqua", record("a"))
	require.NoError(t, err)
	created := s.Load(ctx, "aqua").CreatedAt

	removed, err := s.Clear(ctx, "aqua")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	data := s.Load(ctx, "aqua")
	assert.Empty(t, data.Memories)
	assert.Equal(t, "Aqua", data.EntityName)
	assert.Equal(t, created, data.CreatedAt)
}

func TestStats_UsesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	st := s.Stats(ctx, "aqua")
	assert.Equal(t, 0, st.Count)
	assert.Nil(t, st.OldestTimestamp)

	later := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(types.StoreData{
		EntityName: "Aqua",
		Memories: []types.MemoryRecord{
			{ID: "1", Timestamp: later, Summary: "later"},
			{ID: "2", Timestamp: earlier, Summary: "earlier"},
		},
	})
	require.NoError(t, err)
	_, err = s.Import(ctx, "aqua", payload, false)
	require.NoError(t, err)

	st = s.Stats(ctx, "aqua")
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, "Aqua", st.EntityName)
	require.NotNil(t, st.OldestTimestamp)
	assert.Equal(t, later, *st.OldestTimestamp, "first element, not the earliest timestamp")
	assert.Equal(t, earlier, *st.NewestTimestamp)
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t, nil)
	for i := 0; i < 3; i++ {
		_, err := src.Add(ctx, "aqua", record(fmt.Sprintf("m%d", i), float64(i), 1))
		require.NoError(t, err)
	}
	exported, err := src.Export(ctx, "aqua")
	require.NoError(t, err)

	dst := newTestStore(t, nil)
	_, err = dst.Add(ctx, "aqua", record("to be replaced", 5, 5))
	require.NoError(t, err)

	n, err := dst.Import(ctx, "aqua", exported, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, src.GetAll(ctx, "aqua"), dst.GetAll(ctx, "aqua"))
}

func TestImport_MergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t, nil)
	for i := 0; i < 3; i++ {
		_, err := src.Add(ctx, "aqua", record(fmt.Sprintf("m%d", i), 1, 0))
		require.NoError(t, err)
	}
	exported, err := src.Export(ctx, "aqua")
	require.NoError(t, err)

	dst := newTestStore(t, nil)
	_, err = dst.Add(ctx, "aqua", record("already here", 0, 1))
	require.NoError(t, err)

	n, err := dst.Import(ctx, "aqua", exported, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, dst.GetAll(ctx, "aqua"), 4)

	n, err = dst.Import(ctx, "aqua", exported, true)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, dst.GetAll(ctx, "aqua"), 4)
}

func TestImport_RejectsMalformedPayloads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	_, err := s.Add(ctx, "aqua", record("keep me"))
	require.NoError(t, err)

	for name, payload := range map[string]string{
		"not json":         `nope`,
		"array at top":     `[]`,
		"missing memories": `{"entity_id":"aqua"}`,
		"memories object":  `{"memories":{}}`,
		"memories null":    `{"memories":null}`,
		"bad record":       `{"memories":[{"embedding":"x"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Import(ctx, "aqua", []byte(payload), false)
			assert.ErrorIs(t, err, types.ErrFormat)
			assert.Len(t, s.GetAll(ctx, "aqua"), 1, "store unchanged")
		})
	}
}

func TestImport_WriteFailureKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	p := storage.NewMemory()
	s := newTestStore(t, p)
	_, err := s.Add(ctx, "aqua", record("existing"))
	require.NoError(t, err)

	broken := newTestStore(t, &readThenFail{Memory: p})
	_ = broken.Load(ctx, "aqua")

	_, err = broken.Import(ctx, "aqua", []byte(`{"memories":[{"id":"x","summary":"new"}]}`), true)
	require.ErrorIs(t, err, types.ErrStorage)

	all := broken.GetAll(ctx, "aqua")
	require.Len(t, all, 1, "no partial merge is left in the cache")
	assert.Equal(t, "existing", all[0].Summary)
}

type readThenFail struct {
	*storage.Memory
}

func (r *readThenFail) Write(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func TestImport_AssignsMissingIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	n, err := s.Import(ctx, "aqua", []byte(`{"memories":[{"summary":"a"},{"summary":"b"}]}`), true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all := s.GetAll(ctx, "aqua")
	require.Len(t, all, 2)
	assert.NotEmpty(t, all[0].ID)
	assert.NotEqual(t, all[0].ID, all[1].ID)
	assert.Equal(t, types.RoleUnknown, all[0].Metadata.Role)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	rec, err := s.Add(ctx, "aqua", record("a"))
	require.NoError(t, err)

	got, err := s.Get(ctx, "aqua", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = s.Get(ctx, "aqua", "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestInvalidate_ReloadsFromPersistence(t *testing.T) {
	ctx := context.Background()
	p := storage.NewMemory()
	s := newTestStore(t, p)
	_, err := s.Add(ctx, "aqua", record("cached"))
	require.NoError(t, err)

	// Another process rewrites the document behind the cache.
	other := newTestStore(t, p)
	_, err = other.Clear(ctx, "aqua")
	require.NoError(t, err)

	assert.Len(t, s.GetAll(ctx, "aqua"), 1, "stale until invalidated")
	s.Invalidate("aqua")
	assert.Empty(t, s.GetAll(ctx, "aqua"))

	_, err = other.Add(ctx, "aqua", record("fresh"))
	require.NoError(t, err)
	s.InvalidateAll()
	assert.Len(t, s.GetAll(ctx, "aqua"), 1)
}

func TestSnapshotsAreNotMutated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	_, err := s.Add(ctx, "aqua", record("a"))
	require.NoError(t, err)

	before := s.Load(ctx, "aqua")
	_, err = s.Add(ctx, "aqua", record("b"))
	require.NoError(t, err)

	assert.Len(t, before.Memories, 1, "readers keep their snapshot")
	assert.Len(t, s.Load(ctx, "aqua").Memories, 2)
}

func TestConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Add(ctx, "aqua", record(fmt.Sprintf("m%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.GetAll(ctx, "aqua"), 20, "no lost updates")
}

func TestEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	_, err := s.Add(ctx, "megumin", record("a"))
	require.NoError(t, err)
	_, err = s.Add(ctx, "aqua", record("b"))
	require.NoError(t, err)

	got, err := s.Entities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aqua", "megumin"}, got)
}

func TestMutationsRequireEntity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	_, err := s.Add(ctx, "", record("a"))
	assert.ErrorIs(t, err, storage.ErrEmptyEntity)
	_, err = s.Delete(ctx, "", "x")
	assert.ErrorIs(t, err, storage.ErrEmptyEntity)
	_, err = s.Clear(ctx, "")
	assert.ErrorIs(t, err, storage.ErrEmptyEntity)
}
