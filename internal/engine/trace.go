package engine

import "time"

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindRetrievalStarted is emitted at the beginning of a top-k selection.
	KindRetrievalStarted TraceEventKind = "retrieval_started"

	// KindCandidatesFound is emitted once the memories with embeddings are known.
	KindCandidatesFound TraceEventKind = "candidates_found"

	// KindScoredCandidate is emitted once per memory that received a score.
	KindScoredCandidate TraceEventKind = "scored_candidate"

	// KindFilteredOut is emitted for every memory that was discarded.
	KindFilteredOut TraceEventKind = "filtered_out"

	// KindResultsReturned is emitted after truncation to record the final set.
	KindResultsReturned TraceEventKind = "results_returned"
)

// TraceEvent is a single structured event emitted during retrieval.
type TraceEvent struct {
	// Kind identifies the event type.
	Kind TraceEventKind `json:"kind"`

	// At is the wall-clock time the event was recorded.
	At time.Time `json:"at"`

	// MemoryID is populated for per-memory events (scored_candidate, filtered_out).
	MemoryID string `json:"memory_id,omitempty"`

	// Source names the retriever that produced candidates ("linear").
	Source string `json:"source,omitempty"`

	// Count is used by candidates_found and results_returned.
	Count int `json:"count,omitempty"`

	// Score is the cosine similarity for scored_candidate events.
	Score float64 `json:"score,omitempty"`

	// FilterReason is a human-readable explanation for filtered_out events.
	FilterReason string `json:"filter_reason,omitempty"`

	// Params captures k, threshold and store size for retrieval_started events.
	Params map[string]string `json:"params,omitempty"`

	// MemoryIDs lists all returned IDs for results_returned events.
	MemoryIDs []string `json:"memory_ids,omitempty"`
}

func newTraceEvent(kind TraceEventKind) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now()}
}

// EventRetrievalStarted creates a retrieval_started trace event.
func EventRetrievalStarted(params map[string]string) TraceEvent {
	e := newTraceEvent(KindRetrievalStarted)
	e.Params = params
	return e
}

// EventCandidatesFound creates a candidates_found trace event.
func EventCandidatesFound(count int, source string) TraceEvent {
	e := newTraceEvent(KindCandidatesFound)
	e.Count = count
	e.Source = source
	return e
}

// EventScoredCandidate creates a scored_candidate trace event.
func EventScoredCandidate(memoryID string, score float64) TraceEvent {
	e := newTraceEvent(KindScoredCandidate)
	e.MemoryID = memoryID
	e.Score = score
	return e
}

// EventFilteredOut creates a filtered_out trace event.
func EventFilteredOut(memoryID, reason string) TraceEvent {
	e := newTraceEvent(KindFilteredOut)
	e.MemoryID = memoryID
	e.FilterReason = reason
	return e
}

// EventResultsReturned creates a results_returned trace event.
func EventResultsReturned(memoryIDs []string) TraceEvent {
	e := newTraceEvent(KindResultsReturned)
	e.MemoryIDs = memoryIDs
	e.Count = len(memoryIDs)
	return e
}
