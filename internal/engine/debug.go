package engine

import (
	"context"
	"sync"
	"time"
)

// contextKey is an unexported type for context keys owned by this package.
type contextKey string

const traceKey contextKey = "retrieval_trace"

// TraceCollector accumulates TraceEvents for a single retrieval.
type TraceCollector struct {
	mu        sync.Mutex
	events    []TraceEvent
	startedAt time.Time
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{startedAt: time.Now()}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e TraceEvent) {
	tc.mu.Lock()
	tc.events = append(tc.events, e)
	tc.mu.Unlock()
}

// Events returns the collected events in emission order.
func (tc *TraceCollector) Events() []TraceEvent {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]TraceEvent, len(tc.events))
	copy(out, tc.events)
	return out
}

// ElapsedMS returns the elapsed time since the collector was created, in milliseconds.
func (tc *TraceCollector) ElapsedMS() int64 {
	return time.Since(tc.startedAt).Milliseconds()
}

// WithTraceCollector stores a collector in the context.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
// Returns (nil, false) if none is present.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext emits an event only when a collector is present in ctx.
func emitToContext(ctx context.Context, e TraceEvent) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		tc.Emit(e)
	}
}

// tracing reports whether ctx carries a collector, so callers can skip
// building per-memory events nobody will read.
func tracing(ctx context.Context) bool {
	_, ok := TraceCollectorFromContext(ctx)
	return ok
}

// DebugRetrievalResult is the structured explanation of one retrieval,
// returned by the search endpoint when debugging is requested.
type DebugRetrievalResult struct {
	// Params mirrors the k and threshold that were used.
	Params map[string]string `json:"params"`

	// CandidatesFound is the number of memories with an embedding.
	CandidatesFound int `json:"candidates_found"`

	// ScoredResults contains every candidate that received a score.
	ScoredResults []ScoredEntry `json:"scored_results"`

	// FilteredOut contains every memory that was discarded and why.
	FilteredOut []FilteredEntry `json:"filtered_out"`

	// Returned lists the IDs in the final result, best first.
	Returned []string `json:"returned"`

	// TimingMS is the total duration in milliseconds.
	TimingMS int64 `json:"timing_ms"`
}

// ScoredEntry is a candidate with its similarity.
type ScoredEntry struct {
	MemoryID string  `json:"memory_id"`
	Score    float64 `json:"score"`
}

// FilteredEntry represents a memory that was discarded.
type FilteredEntry struct {
	MemoryID string `json:"memory_id"`
	Reason   string `json:"reason"`
}

// BuildDebugResult converts collected trace events into a DebugRetrievalResult.
func BuildDebugResult(events []TraceEvent, elapsedMS int64) *DebugRetrievalResult {
	result := &DebugRetrievalResult{
		Params:   make(map[string]string),
		TimingMS: elapsedMS,
	}

	for _, e := range events {
		switch e.Kind {
		case KindRetrievalStarted:
			for k, v := range e.Params {
				result.Params[k] = v
			}
		case KindCandidatesFound:
			result.CandidatesFound += e.Count
		case KindScoredCandidate:
			result.ScoredResults = append(result.ScoredResults, ScoredEntry{
				MemoryID: e.MemoryID,
				Score:    e.Score,
			})
		case KindFilteredOut:
			result.FilteredOut = append(result.FilteredOut, FilteredEntry{
				MemoryID: e.MemoryID,
				Reason:   e.FilterReason,
			})
		case KindResultsReturned:
			result.Returned = e.MemoryIDs
		}
	}

	// Non-nil slices for clean JSON output.
	if result.ScoredResults == nil {
		result.ScoredResults = []ScoredEntry{}
	}
	if result.FilteredOut == nil {
		result.FilteredOut = []FilteredEntry{}
	}
	if result.Returned == nil {
		result.Returned = []string{}
	}

	return result
}
