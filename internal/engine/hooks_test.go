package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solo125812/st-voyageai-memory/internal/storage"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

func TestHooks_TurnsRespectSettings(t *testing.T) {
	ctx := context.Background()
	ec := EntityContext{EntityID: "aqua", EntityName: "Aqua"}
	bot := ChatTurn{Name: "Aqua", Text: "I am the goddess of water, worship me!"}
	user := ChatTurn{Name: "Kazuma", Text: "You are the goddess of being useless."}

	tests := []struct {
		name          string
		autoStore     bool
		summarizeBot  bool
		summarizeUser bool
		wantRoles     []types.Role
	}{
		{"everything on", true, true, true, []types.Role{types.RoleAssistant, types.RoleUser}},
		{"auto store off", false, true, true, nil},
		{"bot only", true, true, false, []types.Role{types.RoleAssistant}},
		{"user only", true, false, true, []types.Role{types.RoleUser}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			s.AutoStore = tt.autoStore
			s.SummarizeBot = tt.summarizeBot
			s.SummarizeUser = tt.summarizeUser
			f := newFixture(t, s, &stubClients{summarizer: fixedSummary("s"), embedder: &stubEmbedder{document: fixedVector(1)}})
			h := NewHooks(f.engine)

			rec, err := h.OnTurnReceived(ctx, bot, ec)
			require.NoError(t, err)
			assert.Equal(t, tt.summarizeBot && tt.autoStore, rec != nil)

			rec, err = h.OnTurnSent(ctx, user, ec)
			require.NoError(t, err)
			assert.Equal(t, tt.summarizeUser && tt.autoStore, rec != nil)

			var roles []types.Role
			for _, m := range f.store.GetAll(ctx, "aqua") {
				roles = append(roles, m.Metadata.Role)
			}
			assert.Equal(t, tt.wantRoles, roles)
		})
	}
}

func TestHooks_OnEntityChangedInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	persist := storage.NewMemory()
	store, err := storage.NewMemoryStore(persist, 0)
	require.NoError(t, err)
	e, err := New(staticTestSettings(), &stubClients{}, store)
	require.NoError(t, err)
	h := NewHooks(e)

	assert.Empty(t, store.GetAll(ctx, "aqua"))
	require.NoError(t, persist.Write(ctx, "aqua", []byte(`{"memories":[{"id":"x","summary":"edited elsewhere"}]}`)))
	assert.Empty(t, store.GetAll(ctx, "aqua"), "cached shell still served")

	require.NoError(t, h.OnEntityChanged(ctx, EntityContext{EntityID: "aqua", EntityName: "Aqua"}))
	all := store.GetAll(ctx, "aqua")
	require.Len(t, all, 1)
	assert.Equal(t, "edited elsewhere", all[0].Summary)
	assert.Equal(t, "Aqua", store.Load(ctx, "aqua").EntityName)

	assert.NoError(t, h.OnEntityChanged(ctx, EntityContext{}))
}

func TestHooks_OnBeforeGeneration(t *testing.T) {
	ctx := context.Background()

	s := testSettings()
	f := newFixture(t, s, &stubClients{embedder: &stubEmbedder{query: fixedVector(1, 0)}})
	seedVectors(t, f.store, "aqua", []float64{1, 0})

	inj, err := NewHooks(f.engine).OnBeforeGeneration(ctx, "tell me again", EntityContext{EntityID: "aqua"})
	require.NoError(t, err)
	require.NotNil(t, inj)
	assert.Contains(t, inj.Text, "1. [Assistant] summary a (100%)")
	assert.Equal(t, s.InjectionDepth, inj.Depth)

	s.AutoRetrieve = false
	off := newFixture(t, s, &stubClients{embedder: &stubEmbedder{query: fixedVector(1, 0)}})
	seedVectors(t, off.store, "aqua", []float64{1, 0})
	inj, err = NewHooks(off.engine).OnBeforeGeneration(ctx, "tell me again", EntityContext{EntityID: "aqua"})
	require.NoError(t, err)
	assert.Nil(t, inj)
}

func TestEngine_MutationsPublishEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSettings(), &stubClients{})
	seedVectors(t, f.store, "aqua", []float64{1, 0}, []float64{0, 1})

	ok, err := f.engine.DeleteMemory(ctx, "aqua", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.engine.DeleteMemory(ctx, "aqua", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	exported, err := f.engine.ExportMemories(ctx, "aqua")
	require.NoError(t, err)

	n, err := f.engine.ClearMemories(ctx, "aqua")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.engine.ImportMemories(ctx, "aqua", exported, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.engine.Stats(ctx, "aqua").Count)

	_, err = f.engine.ImportMemories(ctx, "aqua", []byte(`{"nope":true}`), true)
	assert.ErrorIs(t, err, types.ErrFormat)

	assert.Equal(t, []EventType{EventMemoryDeleted, EventMemoriesCleared, EventMemoriesImported}, f.events.Types())

	entities, err := f.engine.Entities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aqua"}, entities)
}
