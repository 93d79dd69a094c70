package output

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"patentbatch/internal/services/completion"
	"patentbatch/internal/task"
)

// DefaultCellLimit is the maximum number of characters a spreadsheet cell holds.
const DefaultCellLimit = 32767

const (
	columnID       = "id"
	columnInput    = "input"
	columnStatus   = "status"
	columnResponse = "response"
	columnError    = "error"
)

// Split records a column that was divided into numbered parts.
type Split struct {
	Field     string `json:"field"`
	Parts     int    `json:"parts"`
	MaxLength int    `json:"max_length"`
}

// Report is the exportable table.
type Report struct {
	Headers     []string   `json:"headers"`
	Rows        [][]string `json:"rows"`
	Splits      []Split    `json:"splits"`
	Stats       Stats      `json:"stats"`
	CellLimit   int        `json:"cell_limit"`
	GeneratedAt time.Time  `json:"generated_at"`
}

type row struct {
	values map[string]string
}

// BuildReport assembles the report for inputs in load order. Results whose
// input is unknown (for example unparseable batch lines) are appended after
// the input rows. A limit of zero or less uses DefaultCellLimit.
func BuildReport(inputs []task.Input, results []task.Result, limit int) Report {
	if limit <= 0 {
		limit = DefaultCellLimit
	}

	byInput := make(map[string]task.Result, len(results))
	var orphans []task.Result
	known := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		known[in.ID] = struct{}{}
	}
	for _, r := range results {
		if _, ok := known[r.InputID]; !ok {
			orphans = append(orphans, r)
			continue
		}
		byInput[r.InputID] = r
	}

	var (
		inputCols  columnSet
		outputCols columnSet
		needRaw    bool
		needError  bool
		rows       []row
		stats      Stats
	)
	reserved := map[string]struct{}{columnID: {}, columnStatus: {}, columnResponse: {}, columnError: {}}

	addRow := func(id string, content task.Content, result task.Result, hasResult bool) {
		values := map[string]string{columnID: id}
		if content.IsRecord() {
			for _, f := range content.Fields {
				name := f.Name
				if _, clash := reserved[name]; clash {
					name = "input." + name
				}
				inputCols.add(name)
				values[name] = f.Value
			}
		} else if content.Text != "" {
			inputCols.add(columnInput)
			values[columnInput] = content.Text
		}

		status := task.StatusPending
		if hasResult && result.Status != "" {
			status = result.Status
		}
		values[columnStatus] = string(status)
		stats.Total++
		switch status {
		case task.StatusCompleted:
			stats.Completed++
		case task.StatusFailed:
			stats.Failed++
		case task.StatusProcessing, task.StatusRetrying:
			stats.Processing++
		default:
			stats.Pending++
		}

		if hasResult && result.Content != "" {
			keys, fields, ok := parseObject(result.Content)
			if ok {
				for _, key := range keys {
					col := key
					if _, clash := reserved[col]; clash || inputCols.has(col) {
						col = "output." + key
					}
					outputCols.add(col)
					values[col] = fields[key]
				}
			} else {
				needRaw = true
				values[columnResponse] = result.Content
			}
		}
		if hasResult && (result.Error != "" || status == task.StatusFailed) {
			needError = true
			errText := result.Error
			if result.Raw != "" && !strings.Contains(errText, result.Raw) {
				if errText != "" {
					errText += "\n"
				}
				errText += result.Raw
			}
			values[columnError] = errText
		}
		rows = append(rows, row{values: values})
	}

	for _, in := range inputs {
		r, ok := byInput[in.ID]
		addRow(in.ID, in.Content, r, ok)
	}
	for _, r := range orphans {
		id := r.InputID
		if id == "" {
			id = r.Key
		}
		addRow(id, task.Content{}, r, true)
	}

	logical := []string{columnID}
	logical = append(logical, inputCols.names...)
	logical = append(logical, columnStatus)
	logical = append(logical, outputCols.names...)
	if needRaw {
		logical = append(logical, columnResponse)
	}
	if needError {
		logical = append(logical, columnError)
	}

	report := Report{Stats: stats, CellLimit: limit, GeneratedAt: time.Now().UTC()}
	parts := make([]int, len(logical))
	for i, col := range logical {
		maxLen := 0
		for _, r := range rows {
			if n := utf8.RuneCountInString(r.values[col]); n > maxLen {
				maxLen = n
			}
		}
		parts[i] = PartCount(maxLen, limit)
		if parts[i] > 1 {
			report.Splits = append(report.Splits, Split{Field: col, Parts: parts[i], MaxLength: maxLen})
			for p := 1; p <= parts[i]; p++ {
				report.Headers = append(report.Headers, PartName(col, p))
			}
			continue
		}
		report.Headers = append(report.Headers, col)
	}

	report.Rows = make([][]string, 0, len(rows))
	for _, r := range rows {
		cells := make([]string, 0, len(report.Headers))
		for i, col := range logical {
			value := r.values[col]
			if parts[i] > 1 {
				cells = append(cells, SplitValue(value, limit, parts[i])...)
				continue
			}
			cells = append(cells, value)
		}
		report.Rows = append(report.Rows, cells)
	}
	return report
}

// PartCount returns how many columns a value of length characters needs.
func PartCount(length, limit int) int {
	if length <= limit {
		return 1
	}
	return (length + limit - 1) / limit
}

// PartName names the n-th (1-based) part of a split column.
func PartName(field string, n int) string {
	return field + " (" + strconv.Itoa(n) + ")"
}

// SplitValue slices value into exactly parts chunks of at most limit
// characters. Trailing chunks are empty when value is short.
func SplitValue(value string, limit, parts int) []string {
	out := make([]string, parts)
	runes := []rune(value)
	for i := 0; i < parts; i++ {
		start := i * limit
		if start >= len(runes) {
			break
		}
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		out[i] = string(runes[start:end])
	}
	return out
}

// JoinParts reverses SplitValue.
func JoinParts(parts []string) string {
	return strings.Join(parts, "")
}

// Column returns the reassembled value of field for every row, joining split
// parts in order.
func (r Report) Column(field string) []string {
	var idx []int
	parts := 1
	for _, s := range r.Splits {
		if s.Field == field {
			parts = s.Parts
		}
	}
	for n := 1; n <= parts; n++ {
		name := field
		if parts > 1 {
			name = PartName(field, n)
		}
		for i, h := range r.Headers {
			if h == name {
				idx = append(idx, i)
			}
		}
	}
	if len(idx) == 0 {
		return nil
	}
	out := make([]string, len(r.Rows))
	for i, cells := range r.Rows {
		chunks := make([]string, 0, len(idx))
		for _, j := range idx {
			chunks = append(chunks, cells[j])
		}
		out[i] = JoinParts(chunks)
	}
	return out
}

type columnSet struct {
	names []string
	seen  map[string]struct{}
}

func (c *columnSet) add(name string) {
	if c.seen == nil {
		c.seen = map[string]struct{}{}
	}
	if _, ok := c.seen[name]; ok {
		return
	}
	c.seen[name] = struct{}{}
	c.names = append(c.names, name)
}

func (c *columnSet) has(name string) bool {
	_, ok := c.seen[name]
	return ok
}

// parseObject extracts a JSON object from completion text and returns its keys
// in document order with cell-ready values.
func parseObject(content string) ([]string, map[string]string, bool) {
	candidate := completion.JSONCandidate(content)
	if candidate == "" {
		return nil, nil, false
	}
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, false
	}
	var keys []string
	values := map[string]string{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, false
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, false
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, false
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = cellValue(raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, false
	}
	return keys, values, len(keys) > 0
}

func cellValue(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}
