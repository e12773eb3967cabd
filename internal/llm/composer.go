package llm

import (
	"strconv"
	"strings"

	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// Placeholders recognised in system prompt templates.
const (
	PlaceholderWordLimit = "{{word_limit}}"
	PlaceholderUser      = "{{user}}"
)

// Defaults applied when prompt variables are missing.
const (
	DefaultPromptWordLimit = 50
	DefaultUserName        = "User"
)

// Delimiters wrapping each section of the summarizer user content.
const (
	historyOpen   = "<chat_history>"
	historyClose  = "</chat_history>"
	summariesOpen = "<previous_summaries>"
	summariesEnd  = "</previous_summaries>"
	messageOpen   = "<message_to_summarize>"
	messageClose  = "</message_to_summarize>"
)

// PromptVars are substituted into a system prompt template.
type PromptVars struct {
	WordLimit int
	UserName  string
}

// RawTurn is one prior chat message included verbatim as context.
type RawTurn struct {
	Name string
	Role types.Role
	Text string
}

// speaker returns the label the turn is rendered with.
func (t RawTurn) speaker() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Role.Label()
}

// ContentOptions describes the message being summarized and the optional
// context sent with it.
type ContentOptions struct {
	Role           types.Role
	SpeakerName    string
	SummaryHistory []string
	RawHistory     []RawTurn
}

// ProcessSystemPrompt substitutes the word limit and user name into template.
// Unknown placeholders are left untouched.
func ProcessSystemPrompt(template string, vars PromptVars) string {
	limit := vars.WordLimit
	if limit < 1 {
		limit = DefaultPromptWordLimit
	}
	user := strings.TrimSpace(vars.UserName)
	if user == "" {
		user = DefaultUserName
	}

	r := strings.NewReplacer(
		PlaceholderWordLimit, strconv.Itoa(limit),
		PlaceholderUser, user,
	)
	return r.Replace(template)
}

// FormatUserContent assembles the user message for the summarizer. Sections
// appear in a fixed order: raw chat history, previous summaries, then the
// message to summarize, which is always present and always last.
func FormatUserContent(message string, opts ContentOptions) string {
	var b strings.Builder

	if len(opts.RawHistory) > 0 {
		b.WriteString(historyOpen)
		b.WriteByte('\n')
		for _, turn := range opts.RawHistory {
			b.WriteString("[")
			b.WriteString(turn.speaker())
			b.WriteString("]: ")
			b.WriteString(turn.Text)
			b.WriteByte('\n')
		}
		b.WriteString(historyClose)
		b.WriteString("\n\n")
	}

	if len(opts.SummaryHistory) > 0 {
		b.WriteString(summariesOpen)
		b.WriteByte('\n')
		b.WriteString(strings.Join(opts.SummaryHistory, "\n"))
		b.WriteByte('\n')
		b.WriteString(summariesEnd)
		b.WriteString("\n\n")
	}

	b.WriteString(messageOpen)
	b.WriteByte('\n')
	if opts.Role.Known() {
		speaker := opts.SpeakerName
		if speaker == "" {
			speaker = opts.Role.Label()
		}
		b.WriteString("[")
		b.WriteString(speaker)
		b.WriteString("]: ")
	}
	b.WriteString(message)
	b.WriteByte('\n')
	b.WriteString(messageClose)

	return b.String()
}
