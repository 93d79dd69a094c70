package batchengine

import (
	"bytes"
	"strconv"
	"strings"

	"patentbatch/internal/prompt"
	"patentbatch/internal/services"
	"patentbatch/internal/services/completion"
	"patentbatch/internal/task"
)

// GenerateJSONL renders one request line per input in input order with
// custom ids request-1 … request-n.
func GenerateJSONL(inputs []task.Input, tpl task.Template, endpoint string) ([]byte, error) {
	var buf bytes.Buffer
	for i, in := range inputs {
		line, err := prompt.BuildBatchRequestItem(in, tpl, task.CustomID(i), endpoint)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "batch", "generate", "input "+in.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ParseResults decodes a batch output or error file. Every non-blank line
// yields one Result keyed by custom id. A line that is not valid JSON becomes
// a failed Result keyed by the custom id recovered from the raw text, or by
// line-<n> when none can be found, with the raw line preserved.
func ParseResults(content []byte) []task.Result {
	lines := strings.Split(string(content), "\n")
	out := make([]task.Result, 0, len(lines))
	for i, raw := range lines {
		raw = strings.TrimRight(raw, "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		parsed, err := completion.ParseBatchLine([]byte(raw))
		if err != nil {
			key, ok := completion.RecoverCustomID(raw)
			if !ok {
				key = "line-" + strconv.Itoa(i+1)
			}
			out = append(out, task.Result{
				Key:    key,
				Status: task.StatusFailed,
				Error:  err.Error(),
				Raw:    raw,
			})
			continue
		}
		result := task.Result{
			Key:     parsed.CustomID,
			Content: parsed.Content,
			Usage:   parsed.Usage,
			Status:  task.StatusCompleted,
		}
		if parsed.Failed() {
			result.Status = task.StatusFailed
			result.Error = parsed.Error
			result.Raw = raw
		}
		out = append(out, result)
	}
	return out
}

// customIndex returns the 0-based input index encoded in a request-N id.
func customIndex(customID string) (int, bool) {
	rest, ok := strings.CutPrefix(customID, "request-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}
