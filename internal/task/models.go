package task

import (
	"strings"
)

// Mode selects the execution substrate for a run.
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeAsync Mode = "async"
	ModeBatch Mode = "batch"
)

// ParseMode converts user input into a known Mode. An empty value maps to auto.
func ParseMode(value string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeAuto:
		return ModeAuto, true
	case ModeAsync:
		return ModeAsync, true
	case ModeBatch:
		return ModeBatch, true
	default:
		return "", false
	}
}

// IsExplicit reports whether the mode names a concrete substrate.
func (m Mode) IsExplicit() bool {
	return m == ModeAsync || m == ModeBatch
}

// Field is one named column of a multi-field input record.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Content is either raw text or an ordered record of named fields. When Fields
// is non-empty it takes precedence over Text.
type Content struct {
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

// TextContent wraps raw text.
func TextContent(text string) Content {
	return Content{Text: text}
}

// FieldContent builds a record from name/value pairs in the given order.
func FieldContent(fields ...Field) Content {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Content{Fields: cp}
}

// IsRecord reports whether the content is a multi-field record.
func (c Content) IsRecord() bool {
	return len(c.Fields) > 0
}

// Value returns the value of the named field.
func (c Content) Value(name string) (string, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Input is one unit of work. Inputs are immutable once loaded.
type Input struct {
	ID      string  `json:"id"`
	Content Content `json:"content"`
}

// OutputField describes one key the remote model is asked to emit.
type OutputField struct {
	Name        string `json:"name" toml:"name"`
	Description string `json:"description" toml:"description"`
}

// InputPlaceholder is substituted with the input content in user prompts.
const InputPlaceholder = "{{INPUT}}"

// Template is the prompt-construction recipe applied to every input in a run.
type Template struct {
	Name               string        `json:"name" toml:"name"`
	SystemPrompt       string        `json:"system_prompt" toml:"system_prompt"`
	UserPromptTemplate string        `json:"user_prompt_template" toml:"user_prompt_template"`
	Model              string        `json:"model" toml:"model"`
	Temperature        float64       `json:"temperature" toml:"temperature"`
	OutputFields       []OutputField `json:"output_fields,omitempty" toml:"output_fields"`
}

// Usage captures token accounting reported by the remote service.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsZero reports whether no usage was recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}
