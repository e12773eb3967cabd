package engine

import (
	"context"

	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// HostHooks is what a chat host calls at the four moments the memory layer
// cares about.
type HostHooks interface {
	// OnTurnReceived is called when the character's reply arrives.
	OnTurnReceived(ctx context.Context, turn ChatTurn, ec EntityContext) (*types.MemoryRecord, error)
	// OnTurnSent is called when the user sends a message.
	OnTurnSent(ctx context.Context, turn ChatTurn, ec EntityContext) (*types.MemoryRecord, error)
	// OnEntityChanged is called when the active character or chat changes.
	OnEntityChanged(ctx context.Context, ec EntityContext) error
	// OnBeforeGeneration returns the memories to inject, or nil.
	OnBeforeGeneration(ctx context.Context, queryText string, ec EntityContext) (*Injection, error)
}

// Hooks implements HostHooks on an Engine, applying the auto_store,
// summarize_user/summarize_bot and auto_retrieve settings.
type Hooks struct {
	engine *Engine
}

var _ HostHooks = (*Hooks)(nil)

// NewHooks creates Hooks for e.
func NewHooks(e *Engine) *Hooks {
	return &Hooks{engine: e}
}

// OnTurnReceived stores the character's turn when auto store and bot
// summarization are enabled. A nil record with a nil error means the turn
// was not meant to be stored.
func (h *Hooks) OnTurnReceived(ctx context.Context, turn ChatTurn, ec EntityContext) (*types.MemoryRecord, error) {
	s := h.engine.settings.Settings()
	if !s.AutoStore || !s.SummarizeBot {
		return nil, nil
	}
	return h.store(ctx, turn, types.RoleAssistant, ec)
}

// OnTurnSent stores the user's turn when auto store and user summarization
// are enabled.
func (h *Hooks) OnTurnSent(ctx context.Context, turn ChatTurn, ec EntityContext) (*types.MemoryRecord, error) {
	s := h.engine.settings.Settings()
	if !s.AutoStore || !s.SummarizeUser {
		return nil, nil
	}
	return h.store(ctx, turn, types.RoleUser, ec)
}

func (h *Hooks) store(ctx context.Context, turn ChatTurn, fallback types.Role, ec EntityContext) (*types.MemoryRecord, error) {
	role := turn.Role
	if !role.Known() {
		role = fallback
	}
	rec, err := h.engine.ProcessAndStore(ctx, turn.Text, role, ec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// OnEntityChanged drops every cached store so nothing from the previous
// session is served, and records the new entity's display name.
func (h *Hooks) OnEntityChanged(ctx context.Context, ec EntityContext) error {
	h.engine.store.InvalidateAll()
	h.engine.logger.Info("active entity changed", "entity", ec.EntityID)
	if ec.EntityID == "" {
		return nil
	}
	return h.engine.store.SetEntityName(ctx, ec.EntityID, ec.EntityName)
}

// OnBeforeGeneration builds the injection when auto retrieve is enabled.
func (h *Hooks) OnBeforeGeneration(ctx context.Context, queryText string, ec EntityContext) (*Injection, error) {
	if !h.engine.settings.Settings().AutoRetrieve {
		return nil, nil
	}
	return h.engine.BuildInjection(ctx, queryText, ec.EntityID)
}
