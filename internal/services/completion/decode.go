package completion

import (
	"encoding/json"
	"strings"

	"patentbatch/internal/task"
)

// messageContent is the portion of a chat message carrying text.
type messageContent struct {
	Content string `json:"content"`
}

type choice struct {
	Message messageContent `json:"message"`
	Delta   messageContent `json:"delta"`
	Text    string         `json:"text"`
}

type usageEnvelope struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *usageEnvelope) toUsage() task.Usage {
	if u == nil {
		return task.Usage{}
	}
	return task.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

type apiError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

func (e *apiError) String() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	code := strings.Trim(strings.TrimSpace(string(e.Code)), `"`)
	switch {
	case msg != "" && code != "" && code != "null":
		return code + ": " + msg
	case msg != "":
		return msg
	case code != "null":
		return code
	default:
		return ""
	}
}

// completionEnvelope enumerates every response shape accepted for completion
// content. ContentText walks them in a fixed order.
type completionEnvelope struct {
	Content  string          `json:"content"`
	Choices  []choice        `json:"choices"`
	Response string          `json:"response"`
	Message  *messageContent `json:"message"`
	Usage    *usageEnvelope  `json:"usage"`
	Error    *apiError       `json:"error"`
}

// ContentText returns the first non-empty content in order: content,
// choices[].message.content, response, message.content, choices[].delta.content,
// choices[].text.
func (e completionEnvelope) ContentText() string {
	if text := strings.TrimSpace(e.Content); text != "" {
		return text
	}
	for _, c := range e.Choices {
		if text := strings.TrimSpace(c.Message.Content); text != "" {
			return text
		}
	}
	if text := strings.TrimSpace(e.Response); text != "" {
		return text
	}
	if e.Message != nil {
		if text := strings.TrimSpace(e.Message.Content); text != "" {
			return text
		}
	}
	for _, c := range e.Choices {
		if text := firstNonEmpty(c.Delta.Content, c.Text); text != "" {
			return text
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(extractFencedBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

// extractFencedBlock returns the body of the first ``` fence in content, or
// content unchanged when there is none.
func extractFencedBlock(content string) string {
	start := strings.Index(content, "```")
	if start < 0 {
		return content
	}
	body := content[start+3:]
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}

// JSONCandidate returns the span of content most likely to hold a JSON object:
// the body of the first fenced block when present, otherwise the outermost
// braces. It returns "" when content has no object.
func JSONCandidate(content string) string {
	candidate := sanitizeJSONPayload(content)
	if candidate == "" || candidate[0] != '{' {
		return ""
	}
	return candidate
}
