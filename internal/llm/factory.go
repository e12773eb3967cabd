package llm

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/solo125812/st-voyageai-memory/internal/config"
)

// Provider names accepted in settings.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderVoyage    = "voyage"
	ProviderOllama    = "ollama"
)

// Factory builds clients from the current settings. The most recently built
// client of each kind is reused while its settings stay unchanged, so a
// settings edit takes effect on the next call without restarting.
type Factory struct {
	httpClient *http.Client

	mu         sync.Mutex
	sumKey     config.SummarizerSettings
	summarizer Summarizer
	embKey     config.EmbeddingSettings
	embedder   *EmbeddingGateway
}

// NewFactory creates a factory. httpClient may be nil.
func NewFactory(httpClient *http.Client) *Factory {
	return &Factory{httpClient: httpClient}
}

// NewSummarizer creates the summarizer selected by s.Provider.
func NewSummarizer(s config.SummarizerSettings, httpClient *http.Client) (Summarizer, error) {
	switch strings.ToLower(s.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAISummarizer(OpenAIConfig{
			APIKey:      s.APIKey,
			URL:         s.URL,
			Model:       s.Model,
			MaxTokens:   s.MaxTokens,
			Temperature: s.Temperature,
			HTTPClient:  httpClient,
		})
	case ProviderAnthropic:
		return NewAnthropicSummarizer(AnthropicConfig{
			APIKey:      s.APIKey,
			BaseURL:     s.URL,
			Model:       s.Model,
			MaxTokens:   s.MaxTokens,
			Temperature: s.Temperature,
			HTTPClient:  httpClient,
		})
	default:
		return nil, configError(ServiceSummarizer, fmt.Sprintf("unsupported summarizer provider %q", s.Provider))
	}
}

// NewEmbeddingBackend creates the backend selected by s.Provider.
func NewEmbeddingBackend(s config.EmbeddingSettings, httpClient *http.Client) (EmbeddingBackend, error) {
	switch strings.ToLower(s.Provider) {
	case ProviderVoyage, "":
		return NewVoyageBackend(VoyageConfig{
			APIKey:     s.APIKey,
			URL:        s.URL,
			Model:      s.Model,
			HTTPClient: httpClient,
		}), nil
	case ProviderOllama:
		return NewOllamaBackend(OllamaConfig{
			BaseURL:    s.URL,
			Model:      s.Model,
			HTTPClient: httpClient,
		}), nil
	default:
		return nil, configError(ServiceEmbedding, fmt.Sprintf("unsupported embedding provider %q", s.Provider))
	}
}

// Summarizer returns a summarizer for s, reusing the cached one when s is
// unchanged.
func (f *Factory) Summarizer(s config.SummarizerSettings) (Summarizer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.summarizer != nil && f.sumKey == s {
		return f.summarizer, nil
	}
	sum, err := NewSummarizer(s, f.httpClient)
	if err != nil {
		return nil, err
	}
	f.sumKey, f.summarizer = s, sum
	return sum, nil
}

// Embedder returns an embedding gateway for s, reusing the cached one when s
// is unchanged.
func (f *Factory) Embedder(s config.EmbeddingSettings) (Embedder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.embedder != nil && f.embKey == s {
		return f.embedder, nil
	}
	backend, err := NewEmbeddingBackend(s, f.httpClient)
	if err != nil {
		return nil, err
	}
	f.embKey, f.embedder = s, NewEmbeddingGateway(backend, s.BatchSize)
	return f.embedder, nil
}
