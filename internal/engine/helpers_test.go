package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solo125812/st-voyageai-memory/internal/config"
	"github.com/solo125812/st-voyageai-memory/internal/llm"
	"github.com/solo125812/st-voyageai-memory/internal/storage"
)

type summarizeCall struct {
	system string
	user   string
}

// stubSummarizer records every call and answers through fn.
type stubSummarizer struct {
	mu    sync.Mutex
	calls []summarizeCall
	fn    func(n int, user string) (string, error)
}

func (s *stubSummarizer) Summarize(_ context.Context, system, user string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, summarizeCall{system, user})
	n := len(s.calls)
	s.mu.Unlock()
	return s.fn(n, user)
}

func (s *stubSummarizer) GetModel() string { return "stub-summarizer" }

func (s *stubSummarizer) Calls() []summarizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]summarizeCall(nil), s.calls...)
}

// stubEmbedder returns fixed vectors per mode.
type stubEmbedder struct {
	mu       sync.Mutex
	document func(text string) ([]float64, error)
	query    func(text string) ([]float64, error)
	queries  int
	ok       bool
}

func (s *stubEmbedder) EmbedDocument(_ context.Context, text string) ([]float64, error) {
	return s.document(text)
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float64, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
	return s.query(text)
}

func (s *stubEmbedder) TestConnection(context.Context) bool { return s.ok }

type stubClients struct {
	summarizer *stubSummarizer
	embedder   *stubEmbedder
	err        error
}

func (c *stubClients) Summarizer(config.SummarizerSettings) (llm.Summarizer, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.summarizer, nil
}

func (c *stubClients) Embedder(config.EmbeddingSettings) (llm.Embedder, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.embedder, nil
}

func fixedSummary(summary string) *stubSummarizer {
	return &stubSummarizer{fn: func(int, string) (string, error) { return summary, nil }}
}

func fixedVector(v ...float64) func(string) ([]float64, error) {
	return func(string) ([]float64, error) { return v, nil }
}

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.BatchDelay = 0
	return s
}

type fixture struct {
	engine  *Engine
	store   *storage.MemoryStore
	persist *storage.Memory
	clients *stubClients
	events  *eventRecorder
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newFixture(t *testing.T, s config.Settings, clients *stubClients) *fixture {
	t.Helper()
	persist := storage.NewMemory()
	store, err := storage.NewMemoryStore(persist, 0)
	require.NoError(t, err)

	events := &eventRecorder{}
	e, err := New(config.StaticSettings(s), clients, store, WithEventSink(events))
	require.NoError(t, err)
	return &fixture{engine: e, store: store, persist: persist, clients: clients, events: events}
}

func staticTestSettings() config.SettingsSource {
	return config.StaticSettings(testSettings())
}
