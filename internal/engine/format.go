package engine

import (
	"context"
	"fmt"
	"strings"
)

// PlaceholderMemories is replaced by the formatted memory list in the
// memory template.
const PlaceholderMemories = "{{memories}}"

// FormatMemories renders results as a 1-indexed list, one per line, and
// substitutes it into template. A template without the placeholder gets the
// list appended on its own line. No results yield an empty string.
func FormatMemories(template string, results []ScoredMemory) string {
	if len(results) == 0 {
		return ""
	}

	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("%d. [%s] %s (%.0f%%)", i+1, r.Memory.Metadata.Role.Label(), r.Memory.Summary, r.Score*100)
	}
	list := strings.Join(lines, "\n")

	if !strings.Contains(template, PlaceholderMemories) {
		if template == "" {
			return list
		}
		return template + "\n" + list
	}
	return strings.ReplaceAll(template, PlaceholderMemories, list)
}

// Injection is the text the host inserts into the generation context.
type Injection struct {
	Text     string         `json:"text"`
	Position int            `json:"position"`
	Depth    int            `json:"depth"`
	Memories []ScoredMemory `json:"memories"`
}

// BuildInjection retrieves memories relevant to queryText with the current
// top-k and threshold and formats them with the memory template. It returns
// nil when nothing relevant is found.
func (e *Engine) BuildInjection(ctx context.Context, queryText, entityID string) (*Injection, error) {
	s := e.settings.Settings()
	results, err := e.RetrieveRelevant(ctx, queryText, entityID, s.TopK, s.SimilarityThreshold)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	e.logger.Debug("injecting memories", "entity", entityID, "count", len(results))
	return &Injection{
		Text:     FormatMemories(s.MemoryTemplate, results),
		Position: s.InjectionPosition,
		Depth:    s.InjectionDepth,
		Memories: results,
	}, nil
}
