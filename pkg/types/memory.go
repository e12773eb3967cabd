package types

import "time"

// DefaultImportance is the advisory importance assigned to new memories.
const DefaultImportance = 0.5

// Metadata carries the descriptive attributes of a memory record.
type Metadata struct {
	Role       Role    `json:"role"`       // Author of the source turn
	ChatID     *string `json:"chat_id"`    // Chat the turn came from (nullable)
	Importance float64 `json:"importance"` // Advisory only; not used for ranking
}

// MemoryRecord is one stored fact unit derived from one chat turn.
// Records are immutable after creation; updates replace the whole record.
type MemoryRecord struct {
	ID              string    `json:"id"`               // Opaque unique identifier
	Timestamp       time.Time `json:"timestamp"`        // Creation instant (ordering/display only)
	OriginalMessage string    `json:"original_message"` // Full source text
	Summary         string    `json:"summary"`          // Condensed text, the only embedded field
	Embedding       []float64 `json:"embedding"`        // Empty only if generation failed
	Metadata        Metadata  `json:"metadata"`
}

// HasEmbedding reports whether the record can take part in retrieval.
func (m *MemoryRecord) HasEmbedding() bool {
	return m != nil && len(m.Embedding) > 0
}

// StoreData is the persisted document for one entity's memory store.
// It is also the export/import wire format.
type StoreData struct {
	EntityID   string         `json:"entity_id"`
	EntityName string         `json:"entity_name"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Memories   []MemoryRecord `json:"memories"`
}

// NewStoreData returns an empty store shell for the given entity with both
// timestamps set to now.
func NewStoreData(entityID, entityName string, now time.Time) *StoreData {
	return &StoreData{
		EntityID:   entityID,
		EntityName: entityName,
		CreatedAt:  now,
		UpdatedAt:  now,
		Memories:   []MemoryRecord{},
	}
}

// Clone returns a copy whose Memories slice can be appended to or truncated
// without affecting the receiver. Records themselves are shared since they
// are never mutated after creation.
func (s *StoreData) Clone() *StoreData {
	if s == nil {
		return nil
	}
	out := *s
	out.Memories = make([]MemoryRecord, len(s.Memories))
	copy(out.Memories, s.Memories)
	return &out
}

// IndexOf returns the position of the memory with the given id, or -1.
func (s *StoreData) IndexOf(memoryID string) int {
	for i := range s.Memories {
		if s.Memories[i].ID == memoryID {
			return i
		}
	}
	return -1
}

// Stats summarises a store. OldestTimestamp and NewestTimestamp come from the
// first and last records in insertion order, not from a timestamp sort.
type Stats struct {
	Count           int        `json:"count"`
	EntityName      string     `json:"entity_name"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	OldestTimestamp *time.Time `json:"oldest_ts,omitempty"`
	NewestTimestamp *time.Time `json:"newest_ts,omitempty"`
}
