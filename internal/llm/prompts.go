package llm

import "strings"

// defaultPromptEN instructs the summarizer to condense one chat message into
// a single third-person memory.
const defaultPromptEN = `You are a memory extraction assistant for a long-running roleplay conversation.
Summarize the message inside <message_to_summarize> into one concise memory of at most {{word_limit}} words.

Rules:
- Write in the third person. Refer to the human participant as {{user}}.
- Keep names, places, promises, secrets, feelings and decisions. Drop greetings and filler.
- Use <chat_history> and <previous_summaries> only to resolve who and what the message refers to. Do not summarize them.
- Output only the memory text, with no preamble, quotes or labels.`

// defaultPromptZH is the Chinese variant of defaultPromptEN.
const defaultPromptZH = `你是一个长期角色扮演对话的记忆提取助手。
请将 <message_to_summarize> 中的消息概括为一条简洁的记忆，不超过 {{word_limit}} 个字。

规则：
- 使用第三人称，将人类参与者称为 {{user}}。
- 保留人名、地点、承诺、秘密、情感和决定，省略问候和无关内容。
- <chat_history> 和 <previous_summaries> 仅用于理解消息所指的人和事，不要对它们进行概括。
- 只输出记忆内容，不要添加前言、引号或标签。`

// DefaultPrompt returns the built-in system prompt template for a language.
// Unsupported languages get the English prompt.
func DefaultPrompt(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "zh", "zh-cn", "zh-tw", "chinese":
		return defaultPromptZH
	default:
		return defaultPromptEN
	}
}

// SystemPrompt returns custom when it is non-blank, otherwise the default
// prompt for language.
func SystemPrompt(custom, language string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	return DefaultPrompt(language)
}
