package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solo125812/st-voyageai-memory/internal/logging"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// DefaultEmbeddingBatchSize bounds the number of texts per embedding request.
const DefaultEmbeddingBatchSize = 128

// EmbedResult holds the vectors for an Embed call, in input order.
type EmbedResult struct {
	Vectors    [][]float64
	TokenUsage int
}

type batchResult struct {
	vectors [][]float64
	tokens  int
}

// EmbeddingGateway converts texts into vectors through an EmbeddingBackend.
// It splits large inputs into batches and concatenates the results in input
// order.
type EmbeddingGateway struct {
	backend        EmbeddingBackend
	batchSize      int
	circuitBreaker *CircuitBreaker
	logger         *slog.Logger
}

// NewEmbeddingGateway wraps backend. A batchSize below one uses
// DefaultEmbeddingBatchSize.
func NewEmbeddingGateway(backend EmbeddingBackend, batchSize int) *EmbeddingGateway {
	if batchSize < 1 {
		batchSize = DefaultEmbeddingBatchSize
	}
	return &EmbeddingGateway{
		backend:        backend,
		batchSize:      batchSize,
		circuitBreaker: NewCircuitBreaker("embedding"),
		logger:         logging.With("embedding"),
	}
}

// Embed returns one vector per text. It fails with ErrConfig when the
// backend is not configured and returns an empty result for empty input
// without contacting the service.
func (g *EmbeddingGateway) Embed(ctx context.Context, texts []string, mode InputType) (*EmbedResult, error) {
	if err := g.backend.Validate(); err != nil {
		return nil, err
	}
	result := &EmbedResult{Vectors: make([][]float64, 0, len(texts))}
	if len(texts) == 0 {
		return result, nil
	}

	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		batch := texts[start:end]

		out, err := execute(ctx, g.circuitBreaker, func() (batchResult, error) {
			vectors, tokens, err := g.backend.EmbedBatch(ctx, batch, mode)
			return batchResult{vectors: vectors, tokens: tokens}, err
		})
		if err != nil {
			return nil, upstreamError(ServiceEmbedding, err)
		}
		if len(out.vectors) != len(batch) {
			return nil, &types.UpstreamError{
				Service: ServiceEmbedding,
				Message: fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(out.vectors)),
			}
		}
		for i, v := range out.vectors {
			if len(v) == 0 {
				return nil, &types.UpstreamError{
					Service: ServiceEmbedding,
					Message: fmt.Sprintf("empty embedding for input %d", start+i),
				}
			}
		}

		result.Vectors = append(result.Vectors, out.vectors...)
		result.TokenUsage += out.tokens
	}

	g.logger.Debug("embedded texts",
		"count", len(texts),
		"mode", mode,
		"tokens", result.TokenUsage,
		"model", g.backend.GetModel())
	return result, nil
}

// EmbedDocument embeds a single text being stored.
func (g *EmbeddingGateway) EmbedDocument(ctx context.Context, text string) ([]float64, error) {
	return g.embedOne(ctx, text, InputDocument)
}

// EmbedQuery embeds a single text being searched with.
func (g *EmbeddingGateway) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return g.embedOne(ctx, text, InputQuery)
}

func (g *EmbeddingGateway) embedOne(ctx context.Context, text string, mode InputType) ([]float64, error) {
	res, err := g.Embed(ctx, []string{text}, mode)
	if err != nil {
		return nil, err
	}
	return res.Vectors[0], nil
}

// TestConnection issues a minimal embed call. Errors are logged, not returned.
func (g *EmbeddingGateway) TestConnection(ctx context.Context) bool {
	if _, err := g.Embed(ctx, []string{"connection test"}, InputQuery); err != nil {
		g.logger.Warn("embedding connection test failed", "model", g.backend.GetModel(), "error", err)
		return false
	}
	return true
}

// GetModel returns the backend's model name.
func (g *EmbeddingGateway) GetModel() string {
	return g.backend.GetModel()
}

// Compile-time assertion.
var _ Embedder = (*EmbeddingGateway)(nil)
