package llm

import "strings"

const chatCompletionsPath = "/chat/completions"

// NormalizeChatEndpoint turns a user-supplied summarizer URL into the full
// chat completions endpoint. A trailing slash is stripped; "/v1/chat/completions"
// is appended unless the URL already ends with it, and a bare "/v1" suffix only
// gets "/chat/completions".
func NormalizeChatEndpoint(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case u == "":
		return ""
	case strings.HasSuffix(u, "/v1"+chatCompletionsPath):
		return u
	case strings.HasSuffix(u, "/v1"):
		return u + chatCompletionsPath
	default:
		return u + "/v1" + chatCompletionsPath
	}
}

// chatBaseURL returns the "/v1" base that OpenAI-style SDK clients expect,
// derived from the normalized endpoint.
func chatBaseURL(raw string) string {
	return strings.TrimSuffix(NormalizeChatEndpoint(raw), chatCompletionsPath)
}
