package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// DefaultVoyageURL is the hosted Voyage AI embeddings endpoint.
const DefaultVoyageURL = "https://api.voyageai.com/v1/embeddings"

// maxErrorBody bounds how much of an error response is kept in UpstreamError.
const maxErrorBody = 512

// VoyageConfig holds configuration for a Voyage-compatible embedding backend.
type VoyageConfig struct {
	APIKey     string
	URL        string        // default: DefaultVoyageURL
	Model      string        // default: voyage-3-lite
	Timeout    time.Duration // default: 30s
	HTTPClient *http.Client
}

// VoyageBackend implements EmbeddingBackend against the Voyage embeddings API
// or any service using the same request and response shape.
type VoyageBackend struct {
	cfg      VoyageConfig
	endpoint string
	client   *http.Client
}

// NewVoyageBackend creates a backend. Missing credentials are reported by
// Validate rather than here so that a misconfigured gateway can still answer
// connection tests.
func NewVoyageBackend(cfg VoyageConfig) *VoyageBackend {
	if cfg.Model == "" {
		cfg.Model = "voyage-3-lite"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &VoyageBackend{
		cfg:      cfg,
		endpoint: normalizeEmbeddingEndpoint(cfg.URL),
		client:   client,
	}
}

// normalizeEmbeddingEndpoint accepts a host, a "/v1" base or a full
// "/embeddings" URL.
func normalizeEmbeddingEndpoint(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case u == "":
		return DefaultVoyageURL
	case strings.HasSuffix(u, "/embeddings"):
		return u
	case strings.HasSuffix(u, "/v1"):
		return u + "/embeddings"
	default:
		return u + "/v1/embeddings"
	}
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type voyageResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Validate reports a missing API key.
func (v *VoyageBackend) Validate() error {
	if strings.TrimSpace(v.cfg.APIKey) == "" {
		return configError(ServiceEmbedding, "embedding API key is not configured")
	}
	return nil
}

// EmbedBatch sends one request and returns the vectors placed by the index
// the service reports. Indices must cover 0..n-1 exactly once.
func (v *VoyageBackend) EmbedBatch(ctx context.Context, texts []string, mode InputType) ([][]float64, int, error) {
	body, err := json.Marshal(voyageRequest{
		Input:     texts,
		Model:     v.cfg.Model,
		InputType: string(mode),
	})
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to create embedding request", goerr.V("endpoint", v.endpoint))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, 0, &types.UpstreamError{
			Service: ServiceEmbedding,
			Status:  resp.StatusCode,
			Message: errorMessage(raw, resp.Status),
		}
	}

	var out voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, &types.UpstreamError{Service: ServiceEmbedding, Message: "failed to decode response: " + err.Error()}
	}
	if len(out.Data) != len(texts) {
		return nil, 0, &types.UpstreamError{
			Service: ServiceEmbedding,
			Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(out.Data)),
		}
	}

	vectors := make([][]float64, len(out.Data))
	seen := make([]bool, len(out.Data))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) || seen[d.Index] {
			return nil, 0, &types.UpstreamError{
				Service: ServiceEmbedding,
				Message: fmt.Sprintf("embedding index %d is out of range or repeated for %d inputs", d.Index, len(texts)),
			}
		}
		seen[d.Index] = true
		vectors[d.Index] = d.Embedding
	}
	return vectors, out.Usage.TotalTokens, nil
}

// GetModel returns the configured model name.
func (v *VoyageBackend) GetModel() string {
	return v.cfg.Model
}

// errorMessage extracts "detail", "message" or "error.message" from a JSON
// error body, falling back to the raw text or the HTTP status line.
func errorMessage(raw []byte, status string) string {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Detail != "":
			return body.Detail
		case body.Message != "":
			return body.Message
		case body.Error.Message != "":
			return body.Error.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return status
}

// Compile-time assertion.
var _ EmbeddingBackend = (*VoyageBackend)(nil)
