package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/solo125812/st-voyageai-memory/internal/config"
	"github.com/solo125812/st-voyageai-memory/internal/engine"
	"github.com/solo125812/st-voyageai-memory/internal/llm"
	"github.com/solo125812/st-voyageai-memory/internal/server"
	"github.com/solo125812/st-voyageai-memory/internal/storage"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(context.Context, string, string) (string, error) {
	return "Aqua asked Kazuma to carry the picnic basket.", nil
}

func (fakeSummarizer) GetModel() string { return "fake" }

type fakeEmbedder struct{ ok bool }

func (fakeEmbedder) EmbedDocument(context.Context, string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func (fakeEmbedder) EmbedQuery(context.Context, string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func (e fakeEmbedder) TestConnection(context.Context) bool { return e.ok }

type fakeClients struct{ embedderOK bool }

func (fakeClients) Summarizer(config.SummarizerSettings) (llm.Summarizer, error) {
	return fakeSummarizer{}, nil
}

func (c fakeClients) Embedder(config.EmbeddingSettings) (llm.Embedder, error) {
	return fakeEmbedder{ok: c.embedderOK}, nil
}

type testServer struct {
	url   string
	store *storage.MemoryStore
	hub   *server.Hub
}

func newTestServer(t *testing.T, cfg config.ServerConfig, embedderOK bool) *testServer {
	t.Helper()
	settings := config.DefaultSettings()
	settings.BatchDelay = 0
	return newTestServerWithSettings(t, cfg, config.StaticSettings(settings), embedderOK)
}

func newTestServerWithSettings(t *testing.T, cfg config.ServerConfig, settings config.SettingsSource, embedderOK bool) *testServer {
	t.Helper()

	store, err := storage.NewMemoryStore(storage.NewMemory(), 0)
	require.NoError(t, err)

	hub := server.NewHub(cfg.AllowedOrigins)
	go hub.Run()
	t.Cleanup(hub.Stop)

	eng, err := engine.New(settings, fakeClients{embedderOK: embedderOK}, store, engine.WithEventSink(hub))
	require.NoError(t, err)

	ts := httptest.NewServer(server.New(cfg, eng, hub))
	t.Cleanup(ts.Close)
	return &testServer{url: ts.URL, store: store, hub: hub}
}

func defaultServerConfig() config.ServerConfig {
	return config.ServerConfig{RateLimit: 1000, RateBurst: 1000}
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func noticeMessage(t *testing.T, body map[string]any) string {
	t.Helper()
	n, ok := body["notice"].(map[string]any)
	require.True(t, ok, "response has a notice: %v", body)
	return n["message"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig(), true)

	resp, body := doJSON(t, http.MethodGet, ts.url+"/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["busy"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestMemoryLifecycle(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig(), true)
	base := ts.url + "/api/entities/aqua"

	resp, body := doJSON(t, http.MethodPost, base+"/store", map[string]any{
		"text":        "Carry the picnic basket to the lake, Kazuma!",
		"role":        "assistant",
		"entity_name": "Aqua",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "Memory stored.", noticeMessage(t, body))
	id := body["memory"].(map[string]any)["id"].(string)

	resp, body = doJSON(t, http.MethodGet, base+"/memories", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["memories"], 1)

	resp, body = doJSON(t, http.MethodPost, base+"/search", map[string]any{"query": "picnic", "debug": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].(map[string]any)["score"], 1e-9)
	assert.NotNil(t, body["debug"])

	resp, body = doJSON(t, http.MethodGet, base+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, "Aqua", body["entity_name"])

	resp, body = doJSON(t, http.MethodGet, ts.url+"/api/entities", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"aqua"}, body["entities"])

	exportResp, err := http.Get(base + "/export")
	require.NoError(t, err)
	exported, err := io.ReadAll(exportResp.Body)
	require.NoError(t, err)
	_ = exportResp.Body.Close()
	assert.Contains(t, exportResp.Header.Get("Content-Disposition"), "aqua_memories.json")

	resp, body = doJSON(t, http.MethodDelete, base+"/memories/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["deleted"])

	resp, body = doJSON(t, http.MethodDelete, base+"/memories/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["deleted"])

	importResp, err := http.Post(base+"/import?merge=false", "application/json", bytes.NewReader(exported))
	require.NoError(t, err)
	_ = importResp.Body.Close()
	require.Equal(t, http.StatusOK, importResp.StatusCode)
	assert.Len(t, ts.store.GetAll(context.Background(), "aqua"), 1)

	resp, body = doJSON(t, http.MethodDelete, base+"/memories", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["removed"])
	assert.Equal(t, "Cleared 1 memory.", noticeMessage(t, body))
}

func TestHooks(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig(), true)
	entity := map[string]any{"entity_id": "aqua", "entity_name": "Aqua", "user_name": "Kazuma"}

	resp, body := doJSON(t, http.MethodPost, ts.url+"/api/hooks/entity-changed", map[string]any{"entity": entity})
	require.Equal(t, http.StatusNoContent, resp.StatusCode, body)

	resp, body = doJSON(t, http.MethodPost, ts.url+"/api/hooks/turn-received", map[string]any{
		"entity": entity,
		"turn":   map[string]any{"name": "Aqua", "text": "I am the goddess of water, worship me!"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.NotNil(t, body["memory"])
	assert.Equal(t, string(types.RoleAssistant), body["memory"].(map[string]any)["metadata"].(map[string]any)["role"])

	resp, body = doJSON(t, http.MethodPost, ts.url+"/api/hooks/before-generation", map[string]any{
		"entity": entity,
		"query":  "what did Aqua say?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	inj := body["injection"].(map[string]any)
	assert.Contains(t, inj["text"], "1. [Assistant] Aqua asked Kazuma to carry the picnic basket. (100%)")
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig(), false)
	base := ts.url + "/api/entities/aqua"

	resp, body := doJSON(t, http.MethodPost, base+"/store", map[string]any{"text": "hi", "role": "user"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Message is too short to summarize.", noticeMessage(t, body))

	resp, body = doJSON(t, http.MethodPost, base+"/import", map[string]any{"nope": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Import failed: invalid memory file format.", noticeMessage(t, body))

	resp, _ = doJSON(t, http.MethodPost, base+"/import?merge=maybe", map[string]any{"memories": []any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, ts.url+"/api/test-connection", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, false, body["ok"])

	req, err := http.NewRequest(http.MethodPost, base+"/search", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestStoreChat(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig(), true)

	resp, body := doJSON(t, http.MethodPost, ts.url+"/api/entities/aqua/store-chat", map[string]any{
		"entity_name": "Aqua",
		"chat": []map[string]any{
			{"role": "user", "text": "We should visit the lake tomorrow morning."},
			{"role": "assistant", "text": "Only if you promise to carry the picnic basket."},
			{"role": "user", "text": "ok"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	report := body["report"].(map[string]any)
	assert.EqualValues(t, 2, report["processed"])
	assert.EqualValues(t, 1, report["skipped"])
	assert.Equal(t, "Stored 2 memories.", noticeMessage(t, body))
}

func TestAuth(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.APIToken = "secret-token"
	ts := newTestServer(t, cfg, true)

	resp, _ := doJSON(t, http.MethodGet, ts.url+"/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")

	resp, _ = doJSON(t, http.MethodGet, ts.url+"/api/entities", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for _, header := range []string{"Bearer wrong", "secret-token"} {
		req, err := http.NewRequest(http.MethodGet, ts.url+"/api/entities", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", header)
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = r.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, r.StatusCode, header)
	}

	req, err := http.NewRequest(http.MethodGet, ts.url+"/api/entities", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{RateLimit: 0.001, RateBurst: 1}, true)

	resp, _ := doJSON(t, http.MethodGet, ts.url+"/api/entities", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.url+"/api/entities", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", body["code"])
}

func TestWebSocket_ReceivesEvents(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	require.Eventually(t, func() bool { return ts.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, _ := doJSON(t, http.MethodPost, ts.url+"/api/entities/aqua/store", map[string]any{
		"text": "Carry the picnic basket to the lake, Kazuma!",
		"role": "assistant",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var event engine.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, engine.EventMemoryStored, event.Type)
	assert.Equal(t, "aqua", event.EntityID)
}

func TestWebSocket_RejectsUnknownOrigin(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.AllowedOrigins = []string{"http://localhost:8000"}
	ts := newTestServer(t, cfg, true)

	req, err := http.NewRequest(http.MethodGet, ts.url+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.com")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "Forbidden")
}

func TestSettings(t *testing.T) {
	t.Run("static settings are read-only", func(t *testing.T) {
		ts := newTestServer(t, defaultServerConfig(), true)

		resp, body := doJSON(t, http.MethodGet, ts.url+"/api/settings", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, body["writable"])

		resp, body = doJSON(t, http.MethodPut, ts.url+"/api/settings", map[string]any{"top_k": 3})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "Save settings failed: settings are read-only without a settings file.", noticeMessage(t, body))
	})

	t.Run("file settings accept partial updates", func(t *testing.T) {
		base := config.DefaultSettings()
		base.BatchDelay = 0
		base.Embedding.APIKey = "pa-0123456789abcdef"
		path := filepath.Join(t.TempDir(), "settings.yaml")
		ts := newTestServerWithSettings(t, defaultServerConfig(), config.NewFileSettings(path, base), true)

		resp, body := doJSON(t, http.MethodGet, ts.url+"/api/settings", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["writable"])
		settings := body["settings"].(map[string]any)
		masked := settings["embedding"].(map[string]any)["api_key"]
		assert.Equal(t, "pa-0123...cdef", masked)

		settings["top_k"] = 7
		resp, body = doJSON(t, http.MethodPut, ts.url+"/api/settings", settings)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Settings saved.", noticeMessage(t, body))
		assert.EqualValues(t, 7, body["settings"].(map[string]any)["top_k"])

		saved := config.NewFileSettings(path, config.DefaultSettings()).Settings()
		assert.Equal(t, 7, saved.TopK)
		assert.Equal(t, "pa-0123456789abcdef", saved.Embedding.APIKey, "masked key keeps the stored value")
	})
}
