package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/solo125812/st-voyageai-memory/internal/vector"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// DefaultOllamaURL is the address of a local Ollama server.
const DefaultOllamaURL = "http://localhost:11434"

// Task prefixes for nomic-style embedding models, which distinguish stored
// documents from search queries through the input text.
const (
	ollamaDocumentPrefix = "search_document: "
	ollamaQueryPrefix    = "search_query: "
)

// OllamaConfig holds configuration for the Ollama embedding backend.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the embedding model (default: nomic-embed-text)
	Model string

	// Timeout is the request timeout duration (default: 30s)
	Timeout time.Duration

	HTTPClient *http.Client
}

// OllamaBackend implements EmbeddingBackend using a local Ollama server.
// No credential is required.
type OllamaBackend struct {
	cfg    OllamaConfig
	client *ollama.Client
	err    error
}

// NewOllamaBackend creates a backend. An unparseable BaseURL is reported by
// Validate.
func NewOllamaBackend(cfg OllamaConfig) *OllamaBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	b := &OllamaBackend{cfg: cfg}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		b.err = fmt.Errorf("invalid ollama URL %q", cfg.BaseURL)
		return b
	}
	b.client = ollama.NewClient(u, httpClient)
	return b
}

// Validate reports an unusable base URL.
func (o *OllamaBackend) Validate() error {
	if o.err != nil {
		return configError(ServiceEmbedding, o.err.Error())
	}
	return nil
}

// EmbedBatch embeds texts in one request. Ollama returns embeddings in input
// order.
func (o *OllamaBackend) EmbedBatch(ctx context.Context, texts []string, mode InputType) ([][]float64, int, error) {
	prefix := ollamaDocumentPrefix
	if mode == InputQuery {
		prefix = ollamaQueryPrefix
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = prefix + t
	}

	resp, err := o.client.Embed(ctx, &ollama.EmbedRequest{
		Model: o.cfg.Model,
		Input: input,
	})
	if err != nil {
		var statusErr ollama.StatusError
		if errors.As(err, &statusErr) {
			msg := statusErr.ErrorMessage
			if msg == "" {
				msg = statusErr.Status
			}
			return nil, 0, &types.UpstreamError{Service: ServiceEmbedding, Status: statusErr.StatusCode, Message: msg}
		}
		return nil, 0, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, 0, &types.UpstreamError{
			Service: ServiceEmbedding,
			Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)),
		}
	}

	vectors := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = vector.ToFloat64(e)
	}
	return vectors, resp.PromptEvalCount, nil
}

// GetModel returns the configured model name.
func (o *OllamaBackend) GetModel() string {
	return o.cfg.Model
}

// Compile-time assertion.
var _ EmbeddingBackend = (*OllamaBackend)(nil)
