// Package llm integrates the external language services the memory pipeline
// depends on: a chat-completion summarizer (OpenAI-compatible or Anthropic)
// and an embedding service (Voyage-compatible or Ollama). It also builds the
// exact prompt payload sent to the summarizer.
package llm

import "context"

// Summarizer condenses a chat turn into a short memory summary.
type Summarizer interface {
	Summarize(ctx context.Context, systemPrompt, userContent string) (string, error)
	GetModel() string
}

// InputType selects the embedding transform. Document and query embeddings
// from the same model are not interchangeable.
type InputType string

const (
	// InputDocument is used for texts being stored.
	InputDocument InputType = "document"

	// InputQuery is used for texts being searched with.
	InputQuery InputType = "query"
)

// EmbeddingBackend performs one bounded embedding request. Implementations
// return vectors in input order.
type EmbeddingBackend interface {
	// Validate reports ErrConfig-wrapped errors for missing credentials or URLs.
	Validate() error

	// EmbedBatch embeds one batch and reports the tokens consumed.
	EmbedBatch(ctx context.Context, texts []string, mode InputType) ([][]float64, int, error)

	GetModel() string
}

// Embedder is the single-text view of the embedding gateway used by the
// memory pipeline.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float64, error)
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	TestConnection(ctx context.Context) bool
}
