package engine

import (
	"context"

	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// The methods below wrap the store's mutating operations so that every
// change is published to the event sink.

// DeleteMemory removes one memory. It reports false when the id is absent.
func (e *Engine) DeleteMemory(ctx context.Context, entityID, memoryID string) (bool, error) {
	ok, err := e.store.Delete(ctx, entityID, memoryID)
	if err != nil || !ok {
		return ok, err
	}
	e.publish(EventMemoryDeleted, entityID, memoryID, 1)
	return true, nil
}

// ClearMemories empties the entity's store and reports how many memories were
// removed.
func (e *Engine) ClearMemories(ctx context.Context, entityID string) (int, error) {
	n, err := e.store.Clear(ctx, entityID)
	if err != nil {
		return 0, err
	}
	e.publish(EventMemoriesCleared, entityID, "", n)
	return n, nil
}

// ImportMemories loads an exported document into the entity's store.
func (e *Engine) ImportMemories(ctx context.Context, entityID string, payload []byte, merge bool) (int, error) {
	n, err := e.store.Import(ctx, entityID, payload, merge)
	if err != nil {
		return 0, err
	}
	e.publish(EventMemoriesImported, entityID, "", n)
	return n, nil
}

// ExportMemories returns the entity's document as pretty-printed JSON.
func (e *Engine) ExportMemories(ctx context.Context, entityID string) ([]byte, error) {
	return e.store.Export(ctx, entityID)
}

// Memories returns the entity's memories in insertion order.
func (e *Engine) Memories(ctx context.Context, entityID string) []types.MemoryRecord {
	return e.store.GetAll(ctx, entityID)
}

// Stats summarises the entity's store.
func (e *Engine) Stats(ctx context.Context, entityID string) types.Stats {
	return e.store.Stats(ctx, entityID)
}

// Entities lists the entity ids with persisted stores.
func (e *Engine) Entities(ctx context.Context) ([]string, error) {
	return e.store.Entities(ctx)
}
