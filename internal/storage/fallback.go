package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/logging"
)

// Fallback pairs a primary persistence with a secondary one. Writes go to
// the primary and only land on the secondary when the primary write fails.
// Such keys are held as pending: until a later primary write for the key
// succeeds, reads serve the secondary's newer copy. Other keys read from the
// primary first and fall back to the secondary when the primary has no
// document or fails.
type Fallback struct {
	primary   Persistence
	secondary Persistence

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewFallback creates a Fallback persistence.
func NewFallback(primary, secondary Persistence) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, pending: make(map[string]struct{})}
}

func (f *Fallback) isPending(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[key]
	return ok
}

func (f *Fallback) setPending(key string, held bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if held {
		f.pending[key] = struct{}{}
	} else {
		delete(f.pending, key)
	}
}

// Pending returns the keys whose latest document lives only on the
// secondary, in sorted order.
func (f *Fallback) Pending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pending))
	for key := range f.pending {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Read returns the document for key. Pending keys come from the secondary;
// others from the primary, or the secondary when the primary has none or
// cannot be read.
func (f *Fallback) Read(ctx context.Context, key string) ([]byte, error) {
	if f.isPending(key) {
		data, err := f.secondary.Read(ctx, key)
		if err == nil {
			return data, nil
		}
		logging.With("storage").Error("pending document unreadable on secondary, reading primary", "key", key, "error", err)
	}

	data, err := f.primary.Read(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		logging.With("storage").Warn("primary read failed, trying secondary", "key", key, "error", err)
	}

	data, secErr := f.secondary.Read(ctx, key)
	if secErr == nil {
		return data, nil
	}
	if errors.Is(err, ErrNotFound) && errors.Is(secErr, ErrNotFound) {
		return nil, ErrNotFound
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return nil, secErr
}

// Write stores data on the primary, or on the secondary if that fails. A
// successful primary write clears the key's pending state.
func (f *Fallback) Write(ctx context.Context, key string, data []byte) error {
	err := f.primary.Write(ctx, key, data)
	if err == nil {
		if f.isPending(key) {
			f.setPending(key, false)
			logging.With("storage").Info("primary recovered, pending document written back", "key", key)
		}
		return nil
	}

	if secErr := f.secondary.Write(ctx, key, data); secErr != nil {
		return goerr.Wrap(secErr, "both persistence backends failed", goerr.V("key", key), goerr.V("primary_error", err.Error()))
	}
	f.setPending(key, true)
	logging.With("storage").Error("primary write failed, document held on secondary until the primary recovers",
		"key", key, "error", err, "pending", len(f.Pending()))
	return nil
}

// Keys returns the union of both backends' keys when they can enumerate them.
func (f *Fallback) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, p := range []Persistence{f.primary, f.secondary} {
		k, ok := p.(Keyer)
		if !ok {
			continue
		}
		keys, err := k.Keys(ctx)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			seen[key] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

// Memory is an in-process Persistence. It backs tests and serves as the
// last-resort secondary of a Fallback.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory creates an empty in-process persistence.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

// Read returns a copy of the stored document.
func (m *Memory) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Write stores a copy of data.
func (m *Memory) Write(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append([]byte(nil), data...)
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.docs))
	for key := range m.docs {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}
