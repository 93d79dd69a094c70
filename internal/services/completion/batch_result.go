package completion

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"patentbatch/internal/services"
	"patentbatch/internal/task"
)

// BatchLine is one decoded line of a batch output or error file.
type BatchLine struct {
	CustomID   string
	StatusCode int
	Content    string
	Usage      task.Usage
	Error      string
}

// Failed reports whether the line describes a failed request.
func (l BatchLine) Failed() bool {
	if l.Error != "" {
		return true
	}
	if l.StatusCode != 0 && (l.StatusCode < 200 || l.StatusCode >= 300) {
		return true
	}
	return l.Content == ""
}

type batchLineEnvelope struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                `json:"status_code"`
		Body       completionEnvelope `json:"body"`
	} `json:"response"`
	Error *apiError `json:"error"`
}

var customIDPattern = regexp.MustCompile(`"custom_id"\s*:\s*"([^"]+)"`)

// RecoverCustomID scans a raw line for a custom_id value. It is used when the
// line as a whole is not valid JSON.
func RecoverCustomID(line string) (string, bool) {
	match := customIDPattern.FindStringSubmatch(line)
	if len(match) < 2 {
		return "", false
	}
	return match[1], true
}

// ParseBatchLine decodes one result line. A line that is not valid JSON or
// lacks a custom_id returns ErrParse; remote failures are reported through
// BatchLine.Error and StatusCode, not as an error.
func ParseBatchLine(line []byte) (BatchLine, error) {
	var env batchLineEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return BatchLine{}, services.Wrap(services.ErrParse, "completion", "parse batch line",
			summarizePayloadSnippet(string(line)), err)
	}
	out := BatchLine{CustomID: strings.TrimSpace(env.CustomID)}
	if out.CustomID == "" {
		return out, services.Wrap(services.ErrParse, "completion", "parse batch line",
			"missing custom_id", nil)
	}
	out.Error = env.Error.String()
	if env.Response != nil {
		out.StatusCode = env.Response.StatusCode
		out.Content = env.Response.Body.ContentText()
		out.Usage = env.Response.Body.Usage.toUsage()
		if out.Error == "" {
			out.Error = env.Response.Body.Error.String()
		}
	}
	if out.Error == "" && out.StatusCode != 0 && (out.StatusCode < 200 || out.StatusCode >= 300) {
		out.Error = fmt.Sprintf("http %d", out.StatusCode)
	}
	if out.Error == "" && out.Content == "" {
		out.Error = "response carried no content"
	}
	return out, nil
}
