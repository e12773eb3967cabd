package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/logging"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// DefaultCacheSize is the number of entity stores kept in memory.
const DefaultCacheSize = 256

var (
	// ErrEmptyEntity is returned when an operation is called without an entity id.
	ErrEmptyEntity = errors.New("entity id is required")

	// ErrDimensionMismatch is returned when a new memory's embedding length
	// differs from the vectors already in the store.
	ErrDimensionMismatch = errors.New("embedding dimension does not match store")
)

// MemoryStore manages one StoreData document per entity on top of a
// Persistence. Loaded documents are cached in an LRU keyed by entity id.
//
// Cached documents are never modified in place: every mutation builds a new
// StoreData, persists it, and only then swaps it into the cache. Readers
// therefore see the document from before or after a save, never a partial
// one. Mutations of the same entity are serialized with a per-entity lock.
type MemoryStore struct {
	persist Persistence
	cache   *lru.Cache[string, *types.StoreData]
	locks   sync.Map // entity id -> *sync.Mutex

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// WithIDGenerator overrides how memory ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(s *MemoryStore) { s.newID = gen }
}

// NewMemoryStore creates a store over persist caching up to cacheSize
// entities. A cacheSize below one uses DefaultCacheSize.
func NewMemoryStore(persist Persistence, cacheSize int, opts ...Option) (*MemoryStore, error) {
	if persist == nil {
		return nil, goerr.New("persistence is required")
	}
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *types.StoreData](cacheSize)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create store cache", goerr.V("size", cacheSize))
	}

	s := &MemoryStore{
		persist: persist,
		cache:   cache,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		logger:  logging.With("storage"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *MemoryStore) lockEntity(entityID string) func() {
	v, _ := s.locks.LoadOrStore(entityID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Load returns the entity's document. It never fails: a document that is
// missing, unreadable or malformed yields a fresh empty store, which is
// cached. The returned value is shared and must be treated as read-only.
func (s *MemoryStore) Load(ctx context.Context, entityID string) *types.StoreData {
	if data, ok := s.cache.Get(entityID); ok {
		return data
	}

	unlock := s.lockEntity(entityID)
	defer unlock()
	return s.loadLocked(ctx, entityID)
}

// loadLocked must be called with the entity lock held.
func (s *MemoryStore) loadLocked(ctx context.Context, entityID string) *types.StoreData {
	if data, ok := s.cache.Get(entityID); ok {
		return data
	}

	data, err := s.read(ctx, entityID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to load memory store, starting empty", "entity", entityID, "error", err)
		}
		data = types.NewStoreData(entityID, "", s.now())
	}

	s.cache.Add(entityID, data)
	return data
}

func (s *MemoryStore) read(ctx context.Context, entityID string) (*types.StoreData, error) {
	raw, err := s.persist.Read(ctx, entityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, goerr.Wrap(types.ErrStorage, "failed to read memory store",
			goerr.V("entity", entityID), goerr.V("cause", err.Error()))
	}

	var data types.StoreData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, goerr.Wrap(types.ErrFormat, "persisted memory store is malformed",
			goerr.V("entity", entityID), goerr.V("cause", err.Error()))
	}
	if data.Memories == nil {
		data.Memories = []types.MemoryRecord{}
	}
	data.EntityID = entityID
	return &data, nil
}

// Save sets UpdatedAt, writes data through to persistence and caches it.
// data is not modified; the cache holds a copy. The cache is left untouched
// when the write fails.
func (s *MemoryStore) Save(ctx context.Context, entityID string, data *types.StoreData) error {
	if entityID == "" {
		return ErrEmptyEntity
	}
	unlock := s.lockEntity(entityID)
	defer unlock()
	return s.saveLocked(ctx, entityID, data.Clone())
}

// saveLocked takes ownership of next. It must be called with the entity lock
// held.
func (s *MemoryStore) saveLocked(ctx context.Context, entityID string, next *types.StoreData) error {
	next.EntityID = entityID
	next.UpdatedAt = s.now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}
	if next.Memories == nil {
		next.Memories = []types.MemoryRecord{}
	}

	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode memory store", goerr.V("entity", entityID))
	}
	if err := s.persist.Write(ctx, entityID, raw); err != nil {
		s.logger.Error("failed to persist memory store", "entity", entityID, "error", err)
		return goerr.Wrap(types.ErrStorage, "failed to persist memory store",
			goerr.V("entity", entityID), goerr.V("cause", err.Error()))
	}

	s.cache.Add(entityID, next)
	return nil
}

// Add assigns a fresh id and timestamp to partial, appends it and persists
// the store. The finalized record is returned.
func (s *MemoryStore) Add(ctx context.Context, entityID string, partial types.MemoryRecord) (types.MemoryRecord, error) {
	if entityID == "" {
		return types.MemoryRecord{}, ErrEmptyEntity
	}
	unlock := s.lockEntity(entityID)
	defer unlock()

	next := s.loadLocked(ctx, entityID).Clone()

	if dim := storeDimension(next); dim > 0 && len(partial.Embedding) > 0 && len(partial.Embedding) != dim {
		return types.MemoryRecord{}, goerr.Wrap(ErrDimensionMismatch, "embedding model changed",
			goerr.V("entity", entityID), goerr.V("store_dim", dim), goerr.V("new_dim", len(partial.Embedding)))
	}

	record := partial
	record.ID = s.uniqueID(next)
	record.Timestamp = s.now()
	if record.Metadata.Role == "" {
		record.Metadata.Role = types.RoleUnknown
	}
	if record.Metadata.Importance == 0 {
		record.Metadata.Importance = types.DefaultImportance
	}

	next.Memories = append(next.Memories, record)
	if err := s.saveLocked(ctx, entityID, next); err != nil {
		return types.MemoryRecord{}, err
	}
	return record, nil
}

// uniqueID returns an id not present in data.
func (s *MemoryStore) uniqueID(data *types.StoreData) string {
	for {
		id := s.newID()
		if id != "" && data.IndexOf(id) < 0 {
			return id
		}
	}
}

// storeDimension returns the embedding length of the first embedded record.
func storeDimension(data *types.StoreData) int {
	for i := range data.Memories {
		if n := len(data.Memories[i].Embedding); n > 0 {
			return n
		}
	}
	return 0
}

// GetAll returns a copy of the entity's memories in insertion order.
func (s *MemoryStore) GetAll(ctx context.Context, entityID string) []types.MemoryRecord {
	data := s.Load(ctx, entityID)
	out := make([]types.MemoryRecord, len(data.Memories))
	copy(out, data.Memories)
	return out
}

// Get returns one memory by id or types.ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, entityID, memoryID string) (types.MemoryRecord, error) {
	data := s.Load(ctx, entityID)
	if i := data.IndexOf(memoryID); i >= 0 {
		return data.Memories[i], nil
	}
	return types.MemoryRecord{}, goerr.Wrap(types.ErrNotFound, "memory not found",
		goerr.V("entity", entityID), goerr.V("memory_id", memoryID))
}

// Delete removes a memory by id. It reports false, without error or write,
// when the id is absent.
func (s *MemoryStore) Delete(ctx context.Context, entityID, memoryID string) (bool, error) {
	if entityID == "" {
		return false, ErrEmptyEntity
	}
	unlock := s.lockEntity(entityID)
	defer unlock()

	current := s.loadLocked(ctx, entityID)
	idx := current.IndexOf(memoryID)
	if idx < 0 {
		return false, nil
	}

	next := current.Clone()
	next.Memories = append(next.Memories[:idx], next.Memories[idx+1:]...)
	if err := s.saveLocked(ctx, entityID, next); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes every memory but keeps the store shell and its metadata. It
// returns the number of memories removed.
func (s *MemoryStore) Clear(ctx context.Context, entityID string) (int, error) {
	if entityID == "" {
		return 0, ErrEmptyEntity
	}
	unlock := s.lockEntity(entityID)
	defer unlock()

	next := s.loadLocked(ctx, entityID).Clone()
	removed := len(next.Memories)
	next.Memories = []types.MemoryRecord{}
	if err := s.saveLocked(ctx, entityID, next); err != nil {
		return 0, err
	}
	return removed, nil
}

// SetEntityName records the display name of an entity. Blank or unchanged
// names are ignored.
func (s *MemoryStore) SetEntityName(ctx context.Context, entityID, name string) error {
	name = strings.TrimSpace(name)
	if entityID == "" || name == "" {
		return nil
	}
	unlock := s.lockEntity(entityID)
	defer unlock()

	current := s.loadLocked(ctx, entityID)
	if current.EntityName == name {
		return nil
	}
	next := current.Clone()
	next.EntityName = name
	return s.saveLocked(ctx, entityID, next)
}

// Stats summarises the store. Oldest and newest come from the first and last
// records in insertion order.
func (s *MemoryStore) Stats(ctx context.Context, entityID string) types.Stats {
	data := s.Load(ctx, entityID)
	st := types.Stats{
		Count:      len(data.Memories),
		EntityName: data.EntityName,
		CreatedAt:  data.CreatedAt,
		UpdatedAt:  data.UpdatedAt,
	}
	if n := len(data.Memories); n > 0 {
		oldest := data.Memories[0].Timestamp
		newest := data.Memories[n-1].Timestamp
		st.OldestTimestamp = &oldest
		st.NewestTimestamp = &newest
	}
	return st
}

// Export returns the entity's document as pretty-printed JSON, embeddings
// included.
func (s *MemoryStore) Export(ctx context.Context, entityID string) ([]byte, error) {
	data := s.Load(ctx, entityID)
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode export", goerr.V("entity", entityID))
	}
	return raw, nil
}

// Import loads memories from an exported document. With merge, memories whose
// id is already present are skipped; without it the memory list is replaced.
// It returns the number of memories added. Either the whole import is
// persisted or the store is left unchanged. Embeddings whose length differs
// from the rest of the resulting store fail with ErrDimensionMismatch.
func (s *MemoryStore) Import(ctx context.Context, entityID string, payload []byte, merge bool) (int, error) {
	if entityID == "" {
		return 0, ErrEmptyEntity
	}
	incoming, name, err := decodeImport(payload)
	if err != nil {
		return 0, err
	}

	unlock := s.lockEntity(entityID)
	defer unlock()

	next := s.loadLocked(ctx, entityID).Clone()
	if !merge {
		next.Memories = make([]types.MemoryRecord, 0, len(incoming))
	}

	seen := make(map[string]struct{}, len(next.Memories)+len(incoming))
	for i := range next.Memories {
		seen[next.Memories[i].ID] = struct{}{}
	}

	imported := 0
	for _, m := range incoming {
		if m.ID == "" {
			m.ID = s.uniqueID(next)
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if m.Metadata.Role == "" {
			m.Metadata.Role = types.RoleUnknown
		}
		seen[m.ID] = struct{}{}
		next.Memories = append(next.Memories, m)
		imported++
	}

	if next.EntityName == "" {
		next.EntityName = name
	}
	if dim := storeDimension(next); dim > 0 {
		for i := range next.Memories {
			if n := len(next.Memories[i].Embedding); n > 0 && n != dim {
				return 0, goerr.Wrap(ErrDimensionMismatch, "imported memories mix embedding dimensions",
					goerr.V("entity", entityID), goerr.V("store_dim", dim), goerr.V("found_dim", n),
					goerr.V("memory_id", next.Memories[i].ID))
			}
		}
	}

	if err := s.saveLocked(ctx, entityID, next); err != nil {
		return 0, err
	}
	return imported, nil
}

// decodeImport validates that payload is an object with a "memories" array
// and decodes it.
func decodeImport(payload []byte) ([]types.MemoryRecord, string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return nil, "", goerr.Wrap(types.ErrFormat, "import payload is not a JSON object", goerr.V("cause", err.Error()))
	}

	raw, ok := top["memories"]
	if !ok {
		return nil, "", goerr.Wrap(types.ErrFormat, "import payload has no memories field")
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, "", goerr.Wrap(types.ErrFormat, "import payload memories field is not an array")
	}

	var memories []types.MemoryRecord
	if err := json.Unmarshal(raw, &memories); err != nil {
		return nil, "", goerr.Wrap(types.ErrFormat, "import payload has malformed memories", goerr.V("cause", err.Error()))
	}

	var name string
	if rawName, ok := top["entity_name"]; ok {
		_ = json.Unmarshal(rawName, &name)
	}
	return memories, name, nil
}

// Entities lists the entity ids known to the persistence backend.
func (s *MemoryStore) Entities(ctx context.Context) ([]string, error) {
	k, ok := s.persist.(Keyer)
	if !ok {
		return nil, goerr.New("persistence backend cannot list entities")
	}
	keys, err := k.Keys(ctx)
	if err != nil {
		return nil, goerr.Wrap(types.ErrStorage, "failed to list entities", goerr.V("cause", err.Error()))
	}
	return keys, nil
}

// Invalidate drops the cached document for one entity.
func (s *MemoryStore) Invalidate(entityID string) {
	s.cache.Remove(entityID)
}

// InvalidateAll drops every cached document.
func (s *MemoryStore) InvalidateAll() {
	s.cache.Purge()
}
