package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/config"
	"github.com/solo125812/st-voyageai-memory/internal/llm"
	"github.com/solo125812/st-voyageai-memory/internal/logging"
	"github.com/solo125812/st-voyageai-memory/internal/storage"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// Guard rejections of the write path. They are not failures of the pipeline
// and are logged at Info.
var (
	ErrWriteInFlight = errors.New("a memory write is already in progress")
	ErrTextTooShort  = errors.New("message is too short to summarize")
	ErrNoEntity      = errors.New("no active entity")
)

// ClientSource supplies summarizer and embedder clients for the current
// settings. *llm.Factory implements it.
type ClientSource interface {
	Summarizer(s config.SummarizerSettings) (llm.Summarizer, error)
	Embedder(s config.EmbeddingSettings) (llm.Embedder, error)
}

// ChatTurn is one message of the host's chat.
type ChatTurn struct {
	Name string     `json:"name"`
	Role types.Role `json:"role"`
	Text string     `json:"text"`
}

// EntityContext identifies the active conversation.
type EntityContext struct {
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name,omitempty"`
	UserName   string `json:"user_name,omitempty"`
	ChatID     string `json:"chat_id,omitempty"`

	// History is the recent chat, oldest first. A trailing copy of the
	// message being processed is ignored.
	History []ChatTurn `json:"history,omitempty"`
}

// Engine is the memory pipeline for one process. It holds the store, the
// client source and the single-flight flag guarding the write path. Settings
// are read from the source on every call.
type Engine struct {
	settings  config.SettingsSource
	clients   ClientSource
	store     *storage.MemoryStore
	retriever Retriever
	events    EventSink

	inFlight atomic.Bool

	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetriever replaces the linear top-k selection.
func WithRetriever(r Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// WithEventSink sets where change events are published.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// WithClock overrides the time source used for events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(settings config.SettingsSource, clients ClientSource, store *storage.MemoryStore, opts ...Option) (*Engine, error) {
	if settings == nil {
		return nil, goerr.New("settings source is required")
	}
	if clients == nil {
		return nil, goerr.New("client source is required")
	}
	if store == nil {
		return nil, goerr.New("memory store is required")
	}

	e := &Engine{
		settings:  settings,
		clients:   clients,
		store:     store,
		retriever: LinearRetriever{},
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logging.With("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store returns the underlying memory store.
func (e *Engine) Store() *storage.MemoryStore {
	return e.store
}

// Settings returns the current settings.
func (e *Engine) Settings() config.Settings {
	return e.settings.Settings()
}

// Busy reports whether a write is in flight.
func (e *Engine) Busy() bool {
	return e.inFlight.Load()
}

// ProcessAndStore summarizes text, embeds the summary and stores the result
// for ec.EntityID. Stages run strictly in sequence and any failure aborts the
// rest, so no partial memory is ever stored. A call made while another write
// is in flight is dropped with ErrWriteInFlight.
func (e *Engine) ProcessAndStore(ctx context.Context, text string, role types.Role, ec EntityContext) (types.MemoryRecord, error) {
	s := e.settings.Settings()
	if err := e.guard(s, text, ec); err != nil {
		return types.MemoryRecord{}, err
	}

	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Info("write already in progress, dropping message", "entity", ec.EntityID)
		return types.MemoryRecord{}, ErrWriteInFlight
	}
	defer e.inFlight.Store(false)

	rec, err := e.process(ctx, s, text, role, ec)
	if err != nil {
		e.logger.Error("failed to store memory", "entity", ec.EntityID, "error", err)
		return types.MemoryRecord{}, err
	}
	e.logger.Info("memory stored", "entity", ec.EntityID, "memory_id", rec.ID, "role", rec.Metadata.Role)
	return rec, nil
}

func (e *Engine) guard(s config.Settings, text string, ec EntityContext) error {
	if ec.EntityID == "" {
		e.logger.Info("no active entity, skipping message")
		return ErrNoEntity
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < s.MinLength {
		e.logger.Info("message too short, skipping", "entity", ec.EntityID, "length", n, "min_length", s.MinLength)
		return goerr.Wrap(ErrTextTooShort, "message below minimum length",
			goerr.V("length", n), goerr.V("min_length", s.MinLength))
	}
	return nil
}

// process runs compose, summarize, embed and store. The caller holds the
// single-flight flag.
func (e *Engine) process(ctx context.Context, s config.Settings, text string, role types.Role, ec EntityContext) (types.MemoryRecord, error) {
	if !role.Known() {
		role = types.RoleUnknown
	}

	summarizer, err := e.clients.Summarizer(s.Summarizer)
	if err != nil {
		return types.MemoryRecord{}, err
	}
	embedder, err := e.clients.Embedder(s.Embedding)
	if err != nil {
		return types.MemoryRecord{}, err
	}

	systemPrompt := llm.ProcessSystemPrompt(llm.SystemPrompt(s.CustomPrompt, s.Language), llm.PromptVars{
		WordLimit: s.WordLimit,
		UserName:  ec.UserName,
	})
	userContent := llm.FormatUserContent(text, llm.ContentOptions{
		Role:           role,
		SpeakerName:    speakerName(role, ec),
		SummaryHistory: e.recentSummaries(ctx, s, ec.EntityID),
		RawHistory:     recentTurns(s, ec.History, text),
	})
	if s.DebugMode {
		e.logger.Info("summarizer request",
			"entity", ec.EntityID,
			"model", summarizer.GetModel(),
			"system_prompt", systemPrompt,
			"user_content", userContent,
		)
	}

	summary, err := summarizer.Summarize(ctx, systemPrompt, userContent)
	if err != nil {
		return types.MemoryRecord{}, goerr.Wrap(err, "summarization failed", goerr.V("entity", ec.EntityID))
	}
	summary = strings.TrimSpace(summary)
	if s.DebugMode {
		e.logger.Info("summarizer response", "entity", ec.EntityID, "summary", summary)
	}

	embedding, err := embedder.EmbedDocument(ctx, summary)
	if err != nil {
		return types.MemoryRecord{}, goerr.Wrap(err, "embedding failed", goerr.V("entity", ec.EntityID))
	}

	var chatID *string
	if ec.ChatID != "" {
		id := ec.ChatID
		chatID = &id
	}
	rec, err := e.store.Add(ctx, ec.EntityID, types.MemoryRecord{
		OriginalMessage: text,
		Summary:         summary,
		Embedding:       embedding,
		Metadata: types.Metadata{
			Role:       role,
			ChatID:     chatID,
			Importance: types.DefaultImportance,
		},
	})
	if err != nil {
		return types.MemoryRecord{}, goerr.Wrap(err, "failed to save memory", goerr.V("entity", ec.EntityID))
	}
	if err := e.store.SetEntityName(ctx, ec.EntityID, ec.EntityName); err != nil {
		e.logger.Warn("failed to record entity name", "entity", ec.EntityID, "error", err)
	}

	e.publish(EventMemoryStored, ec.EntityID, rec.ID, 1)
	return rec, nil
}

func speakerName(role types.Role, ec EntityContext) string {
	switch role {
	case types.RoleUser:
		return ec.UserName
	case types.RoleAssistant:
		return ec.EntityName
	default:
		return ""
	}
}

// recentSummaries returns up to HistoryCount of the newest stored summaries,
// oldest first.
func (e *Engine) recentSummaries(ctx context.Context, s config.Settings, entityID string) []string {
	if !s.IncludeHistory || s.HistoryCount == 0 {
		return nil
	}
	memories := e.store.GetAll(ctx, entityID)
	if len(memories) > s.HistoryCount {
		memories = memories[len(memories)-s.HistoryCount:]
	}
	out := make([]string, 0, len(memories))
	for _, m := range memories {
		if m.Summary != "" {
			out = append(out, m.Summary)
		}
	}
	return out
}

// recentTurns returns up to RawHistoryCount of the newest turns whose role is
// enabled, oldest first. The message being processed is excluded.
func recentTurns(s config.Settings, history []ChatTurn, current string) []llm.RawTurn {
	if !s.IncludeRawHistory || s.RawHistoryCount == 0 || len(history) == 0 {
		return nil
	}
	if last := history[len(history)-1]; strings.TrimSpace(last.Text) == strings.TrimSpace(current) {
		history = history[:len(history)-1]
	}

	var picked []llm.RawTurn
	for i := len(history) - 1; i >= 0 && len(picked) < s.RawHistoryCount; i-- {
		t := history[i]
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		switch {
		case t.Role == types.RoleUser && s.RawIncludeUser,
			t.Role == types.RoleAssistant && s.RawIncludeBot:
			picked = append(picked, llm.RawTurn{Name: t.Name, Role: t.Role, Text: t.Text})
		}
	}

	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// RetrieveRelevant embeds queryText in query mode and returns the entity's
// most similar memories. Missing preconditions (no entity, blank query, no
// embedded memories) yield an empty result without calling the embedder.
func (e *Engine) RetrieveRelevant(ctx context.Context, queryText, entityID string, k int, threshold float64) ([]ScoredMemory, error) {
	if entityID == "" || strings.TrimSpace(queryText) == "" {
		return []ScoredMemory{}, nil
	}
	memories := e.store.GetAll(ctx, entityID)
	if !anyEmbedded(memories) {
		return []ScoredMemory{}, nil
	}

	embedder, err := e.clients.Embedder(e.settings.Settings().Embedding)
	if err != nil {
		return nil, err
	}
	query, err := embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, goerr.Wrap(err, "query embedding failed", goerr.V("entity", entityID))
	}

	return e.retriever.TopK(ctx, query, memories, k, threshold), nil
}

func anyEmbedded(memories []types.MemoryRecord) bool {
	for i := range memories {
		if memories[i].HasEmbedding() {
			return true
		}
	}
	return false
}

// SearchResult is the outcome of Search.
type SearchResult struct {
	Results []ScoredMemory        `json:"results"`
	Debug   *DebugRetrievalResult `json:"debug,omitempty"`
}

// Search is RetrieveRelevant with an optional retrieval trace. Non-positive k
// and out-of-range thresholds fall back to the current settings.
func (e *Engine) Search(ctx context.Context, entityID, queryText string, k int, threshold *float64, debug bool) (*SearchResult, error) {
	s := e.settings.Settings()
	if k < 1 {
		k = s.TopK
	}
	th := s.SimilarityThreshold
	if threshold != nil && *threshold >= -1 && *threshold <= 1 {
		th = *threshold
	}

	var tc *TraceCollector
	if debug {
		tc = NewTraceCollector()
		ctx = WithTraceCollector(ctx, tc)
	}

	results, err := e.RetrieveRelevant(ctx, queryText, entityID, k, th)
	if err != nil {
		return nil, err
	}
	out := &SearchResult{Results: results}
	if tc != nil {
		out.Debug = BuildDebugResult(tc.Events(), tc.ElapsedMS())
	}
	return out, nil
}

// TestConnection checks the embedding service with a minimal request.
func (e *Engine) TestConnection(ctx context.Context) Notice {
	embedder, err := e.clients.Embedder(e.settings.Settings().Embedding)
	if err != nil {
		return Failure("Connection test", err)
	}
	if !embedder.TestConnection(ctx) {
		return Notice{Level: LevelError, Message: "Connection test failed: the embedding service did not respond successfully."}
	}
	return Successf("Connection to the embedding service succeeded.")
}
