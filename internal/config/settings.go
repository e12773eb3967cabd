package config

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/solo125812/st-voyageai-memory/internal/logging"
)

// Defaults for the behaviour settings.
const (
	DefaultTopK                = 5
	DefaultSimilarityThreshold = 0.5
	DefaultWordLimit           = 50
	DefaultMinLength           = 20
	DefaultHistoryCount        = 3
	DefaultRawHistoryCount     = 4
	DefaultInjectionDepth      = 2
	DefaultEmbeddingBatchSize  = 128
	DefaultBatchDelay          = time.Second
	DefaultLanguage            = "en"
	DefaultMemoryTemplate      = "[Memories from earlier conversations]\n{{memories}}"

	defaultSummaryMaxTokens   = 300
	defaultSummaryTemperature = 0.3
)

// Injection positions understood by the host.
const (
	InjectionInPrompt     = 0 // appended to the system prompt block
	InjectionInChat       = 1 // inserted into the chat at InjectionDepth
	InjectionBeforePrompt = 2 // placed before the system prompt
)

// SummarizerSettings configures the external summarization service.
type SummarizerSettings struct {
	Provider    string  `yaml:"provider" json:"provider"` // openai (any compatible endpoint) or anthropic
	URL         string  `yaml:"url" json:"url"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	Model       string  `yaml:"model" json:"model"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// LogValue keeps the API key out of logs.
func (s SummarizerSettings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", s.Provider),
		slog.String("url", s.URL),
		slog.String("model", s.Model),
		slog.Int("api_key.len", len(s.APIKey)),
	)
}

// EmbeddingSettings configures the external embedding service.
type EmbeddingSettings struct {
	Provider  string `yaml:"provider" json:"provider"` // voyage or ollama
	URL       string `yaml:"url" json:"url"`
	APIKey    string `yaml:"api_key" json:"api_key"`
	Model     string `yaml:"model" json:"model"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

// LogValue keeps the API key out of logs.
func (s EmbeddingSettings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", s.Provider),
		slog.String("url", s.URL),
		slog.String("model", s.Model),
		slog.Int("api_key.len", len(s.APIKey)),
	)
}

// Settings is the behaviour surface configured by the host. It is read at
// every pipeline invocation.
type Settings struct {
	Summarizer SummarizerSettings `yaml:"summarizer" json:"summarizer"`
	Embedding  EmbeddingSettings  `yaml:"embedding" json:"embedding"`

	AutoStore           bool    `yaml:"auto_store" json:"auto_store"`
	AutoRetrieve        bool    `yaml:"auto_retrieve" json:"auto_retrieve"`
	TopK                int     `yaml:"top_k" json:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	InjectionPosition   int     `yaml:"injection_position" json:"injection_position"`
	InjectionDepth      int     `yaml:"injection_depth" json:"injection_depth"`

	SummarizeBot  bool   `yaml:"summarize_bot" json:"summarize_bot"`
	SummarizeUser bool   `yaml:"summarize_user" json:"summarize_user"`
	Language      string `yaml:"language" json:"language"`
	CustomPrompt  string `yaml:"custom_prompt" json:"custom_prompt"`
	WordLimit     int    `yaml:"word_limit" json:"word_limit"`

	MemoryTemplate string `yaml:"memory_template" json:"memory_template"`

	IncludeHistory    bool `yaml:"include_history" json:"include_history"`
	HistoryCount      int  `yaml:"history_count" json:"history_count"`
	IncludeRawHistory bool `yaml:"include_raw_history" json:"include_raw_history"`
	RawHistoryCount   int  `yaml:"raw_history_count" json:"raw_history_count"`
	RawIncludeBot     bool `yaml:"raw_include_bot" json:"raw_include_bot"`
	RawIncludeUser    bool `yaml:"raw_include_user" json:"raw_include_user"`

	DebugMode  bool          `yaml:"debug_mode" json:"debug_mode"`
	MinLength  int           `yaml:"min_length" json:"min_length"`
	BatchDelay time.Duration `yaml:"batch_delay" json:"batch_delay"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Summarizer: SummarizerSettings{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   defaultSummaryMaxTokens,
			Temperature: defaultSummaryTemperature,
		},
		Embedding: EmbeddingSettings{
			Provider:  "voyage",
			Model:     "voyage-3-lite",
			BatchSize: DefaultEmbeddingBatchSize,
		},
		AutoStore:           true,
		AutoRetrieve:        true,
		TopK:                DefaultTopK,
		SimilarityThreshold: DefaultSimilarityThreshold,
		InjectionPosition:   InjectionInChat,
		InjectionDepth:      DefaultInjectionDepth,
		SummarizeBot:        true,
		SummarizeUser:       true,
		Language:            DefaultLanguage,
		WordLimit:           DefaultWordLimit,
		MemoryTemplate:      DefaultMemoryTemplate,
		HistoryCount:        DefaultHistoryCount,
		RawHistoryCount:     DefaultRawHistoryCount,
		RawIncludeBot:       true,
		RawIncludeUser:      true,
		MinLength:           DefaultMinLength,
		BatchDelay:          DefaultBatchDelay,
	}
}

// Normalize replaces out-of-range values with defaults.
func (s *Settings) Normalize() {
	if s.TopK < 1 {
		s.TopK = DefaultTopK
	}
	if s.SimilarityThreshold < -1 || s.SimilarityThreshold > 1 {
		s.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if s.InjectionDepth < 0 {
		s.InjectionDepth = 0
	}
	if s.WordLimit < 1 {
		s.WordLimit = DefaultWordLimit
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	if s.MemoryTemplate == "" {
		s.MemoryTemplate = DefaultMemoryTemplate
	}
	if s.HistoryCount < 0 {
		s.HistoryCount = 0
	}
	if s.RawHistoryCount < 0 {
		s.RawHistoryCount = 0
	}
	if s.MinLength < 1 {
		s.MinLength = DefaultMinLength
	}
	if s.BatchDelay < 0 {
		s.BatchDelay = 0
	}
	if s.Embedding.BatchSize < 1 {
		s.Embedding.BatchSize = DefaultEmbeddingBatchSize
	}
	if s.Summarizer.MaxTokens < 1 {
		s.Summarizer.MaxTokens = defaultSummaryMaxTokens
	}
}

// SettingsSource supplies the current settings. Implementations must return
// a normalized value.
type SettingsSource interface {
	Settings() Settings
}

// StaticSettings serves a fixed value.
type StaticSettings Settings

// Settings returns the normalized static value.
func (s StaticSettings) Settings() Settings {
	out := Settings(s)
	out.Normalize()
	return out
}

// FileSettings reads settings from a YAML file on every call, layered over a
// base value. A missing file yields the base; a file that fails to parse
// yields the last value that did parse.
type FileSettings struct {
	path string
	base Settings

	mu       sync.Mutex
	lastGood *Settings
}

// NewFileSettings creates a FileSettings for path layered over base.
func NewFileSettings(path string, base Settings) *FileSettings {
	return &FileSettings{path: path, base: base}
}

// Settings re-reads the file and returns the normalized result.
func (f *FileSettings) Settings() Settings {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.base
	data, err := os.ReadFile(f.path)
	switch {
	case os.IsNotExist(err):
		out.Normalize()
		return out
	case err != nil:
		logging.Default().Warn("failed to read settings file, using previous values", "path", f.path, "error", err)
		return f.fallback()
	}

	if err := yaml.Unmarshal(data, &out); err != nil {
		logging.Default().Warn("failed to parse settings file, using previous values", "path", f.path, "error", err)
		return f.fallback()
	}

	out.Normalize()
	f.lastGood = &out
	return out
}

func (f *FileSettings) fallback() Settings {
	if f.lastGood != nil {
		return *f.lastGood
	}
	out := f.base
	out.Normalize()
	return out
}

// Save writes s to the settings file so subsequent reads observe it.
func (f *FileSettings) Save(s Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(s)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal settings")
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return goerr.Wrap(err, "failed to write settings file", goerr.V("path", f.path))
	}
	s.Normalize()
	f.lastGood = &s
	return nil
}
