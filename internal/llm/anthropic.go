package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// AnthropicConfig holds configuration for the Anthropic summarizer.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string // default: SDK default
	Model       string // default: claude-3-5-haiku-latest
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // default: 60s
	HTTPClient  *http.Client
}

// AnthropicSummarizer implements Summarizer using the Messages API.
type AnthropicSummarizer struct {
	cfg            AnthropicConfig
	client         anthropic.Client
	circuitBreaker *CircuitBreaker
}

// NewAnthropicSummarizer creates a summarizer. It fails with ErrConfig when the
// API key is missing.
func NewAnthropicSummarizer(cfg AnthropicConfig) (*AnthropicSummarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, configError(ServiceSummarizer, "anthropic API key is not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = 300
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// The pipeline never retries; failures surface to the caller.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	return &AnthropicSummarizer{
		cfg:            cfg,
		client:         anthropic.NewClient(opts...),
		circuitBreaker: NewCircuitBreaker("anthropic-summarizer"),
	}, nil
}

// Summarize sends the system prompt as a system block and the user content as
// a single user message.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, systemPrompt, userContent string) (string, error) {
	out, err := execute(ctx, s.circuitBreaker, func() (string, error) {
		return s.summarize(ctx, systemPrompt, userContent)
	})
	if err != nil {
		return "", upstreamError(ServiceSummarizer, err)
	}
	return out, nil
}

func (s *AnthropicSummarizer) summarize(ctx context.Context, systemPrompt, userContent string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(s.cfg.Model),
		MaxTokens:   int64(s.cfg.MaxTokens),
		Temperature: anthropic.Float(s.cfg.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userContent)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &types.UpstreamError{Service: ServiceSummarizer, Status: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", &types.UpstreamError{Service: ServiceSummarizer, Message: "response contained no text"}
	}
	return content, nil
}

// GetModel returns the configured model name.
func (s *AnthropicSummarizer) GetModel() string {
	return s.cfg.Model
}

// Compile-time assertion.
var _ Summarizer = (*AnthropicSummarizer)(nil)
