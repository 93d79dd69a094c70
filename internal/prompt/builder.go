package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"patentbatch/internal/task"
)

// Message is one chat message in the completion envelope.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestBody is the completion envelope shared by both substrates.
type RequestBody struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []Message `json:"messages"`
}

// BatchRequestItem is one line of the batch input file.
type BatchRequestItem struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     RequestBody `json:"body"`
}

const outputInstruction = "Respond with a single JSON object containing exactly the following fields:"

// RenderContent flattens input content into prompt text. Record fields are
// rendered as "name: value" blocks separated by blank lines in insertion order.
func RenderContent(content task.Content) string {
	if !content.IsRecord() {
		return content.Text
	}
	blocks := make([]string, 0, len(content.Fields))
	for _, field := range content.Fields {
		blocks = append(blocks, field.Name+": "+field.Value)
	}
	return strings.Join(blocks, "\n\n")
}

// BuildUserPrompt substitutes the input into the template's user prompt and
// appends the structured-output instructions when output fields are defined.
func BuildUserPrompt(input task.Input, tpl task.Template) string {
	content := RenderContent(input.Content)

	var prompt string
	switch {
	case strings.Contains(tpl.UserPromptTemplate, task.InputPlaceholder):
		prompt = strings.ReplaceAll(tpl.UserPromptTemplate, task.InputPlaceholder, content)
	case strings.TrimSpace(tpl.UserPromptTemplate) == "":
		prompt = content
	default:
		prompt = strings.TrimRight(tpl.UserPromptTemplate, "\n") + "\n\n" + content
	}

	if len(tpl.OutputFields) == 0 {
		return prompt
	}
	return prompt + "\n\n" + outputBlock(tpl.OutputFields)
}

func outputBlock(fields []task.OutputField) string {
	var b strings.Builder
	b.WriteString(outputInstruction)
	b.WriteByte('\n')
	for _, field := range fields {
		b.WriteString("- ")
		b.WriteString(field.Name)
		if desc := strings.TrimSpace(field.Description); desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nExample:\n```json\n{\n")
	for i, field := range fields {
		key, _ := json.Marshal(field.Name)
		b.WriteString("  ")
		b.Write(key)
		b.WriteString(": \"...\"")
		if i < len(fields)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}\n```")
	return b.String()
}

// BuildRequestBody wraps the prompt into the completion envelope. The system
// message is omitted when the template has no system prompt.
func BuildRequestBody(input task.Input, tpl task.Template) RequestBody {
	messages := make([]Message, 0, 2)
	if strings.TrimSpace(tpl.SystemPrompt) != "" {
		messages = append(messages, Message{Role: "system", Content: tpl.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: BuildUserPrompt(input, tpl)})
	return RequestBody{
		Model:       tpl.Model,
		Temperature: tpl.Temperature,
		Messages:    messages,
	}
}

// EncodeRequestBody returns the JSON encoding of BuildRequestBody.
func EncodeRequestBody(input task.Input, tpl task.Template) ([]byte, error) {
	encoded, err := json.Marshal(BuildRequestBody(input, tpl))
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return encoded, nil
}

// BuildBatchRequestItem renders one JSONL line without a trailing newline.
func BuildBatchRequestItem(input task.Input, tpl task.Template, customID, url string) ([]byte, error) {
	item := BatchRequestItem{
		CustomID: customID,
		Method:   "POST",
		URL:      url,
		Body:     BuildRequestBody(input, tpl),
	}
	encoded, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode batch item %s: %w", customID, err)
	}
	return encoded, nil
}
