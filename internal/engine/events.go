package engine

import "time"

// EventType names a change published by the engine.
type EventType string

// Event types.
const (
	EventMemoryStored     EventType = "memory.stored"
	EventMemoryDeleted    EventType = "memory.deleted"
	EventMemoriesCleared  EventType = "memories.cleared"
	EventMemoriesImported EventType = "memories.imported"
	EventBatchCompleted   EventType = "batch.completed"
)

// Event describes a change to an entity's memories.
type Event struct {
	Type     EventType `json:"type"`
	EntityID string    `json:"entity_id"`
	MemoryID string    `json:"memory_id,omitempty"`
	Count    int       `json:"count,omitempty"`
	Time     time.Time `json:"time"`
}

// EventSink receives engine events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Publish calls f(e).
func (f EventSinkFunc) Publish(e Event) { f(e) }

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

// Publish delivers e to every non-nil sink in order.
func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

func (e *Engine) publish(typ EventType, entityID, memoryID string, count int) {
	if e.events == nil {
		return
	}
	e.events.Publish(Event{
		Type:     typ,
		EntityID: entityID,
		MemoryID: memoryID,
		Count:    count,
		Time:     e.now(),
	})
}
