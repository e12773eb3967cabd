package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// OpenAIConfig holds configuration for an OpenAI-compatible summarizer.
type OpenAIConfig struct {
	APIKey      string
	URL         string // any form accepted by NormalizeChatEndpoint
	Model       string // default: gpt-4o-mini
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // default: 60s
	HTTPClient  *http.Client
}

// OpenAISummarizer implements Summarizer against any endpoint speaking the
// chat completions protocol.
type OpenAISummarizer struct {
	cfg            OpenAIConfig
	client         *openai.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAISummarizer creates a summarizer. It fails with ErrConfig when the
// API key or URL is missing.
func NewOpenAISummarizer(cfg OpenAIConfig) (*OpenAISummarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, configError(ServiceSummarizer, "summarizer API key is not configured")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, configError(ServiceSummarizer, "summarizer URL is not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = chatBaseURL(cfg.URL)
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAISummarizer{
		cfg:            cfg,
		client:         openai.NewClientWithConfig(clientCfg),
		circuitBreaker: NewCircuitBreaker("openai-summarizer"),
	}, nil
}

// Summarize sends the system prompt and user content as one chat completion
// and returns the trimmed reply.
func (s *OpenAISummarizer) Summarize(ctx context.Context, systemPrompt, userContent string) (string, error) {
	out, err := execute(ctx, s.circuitBreaker, func() (string, error) {
		return s.summarize(ctx, systemPrompt, userContent)
	})
	if err != nil {
		return "", upstreamError(ServiceSummarizer, err)
	}
	return out, nil
}

func (s *OpenAISummarizer) summarize(ctx context.Context, systemPrompt, userContent string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: float32(s.cfg.Temperature),
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &types.UpstreamError{Service: ServiceSummarizer, Message: "response contained no choices"}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &types.UpstreamError{Service: ServiceSummarizer, Message: "response contained an empty summary"}
	}
	return content, nil
}

// GetModel returns the configured model name.
func (s *OpenAISummarizer) GetModel() string {
	return s.cfg.Model
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &types.UpstreamError{Service: ServiceSummarizer, Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.Error()
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &types.UpstreamError{Service: ServiceSummarizer, Status: reqErr.HTTPStatusCode, Message: msg}
	}
	return err
}

// Compile-time assertion.
var _ Summarizer = (*OpenAISummarizer)(nil)
