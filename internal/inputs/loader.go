package inputs

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"patentbatch/internal/services"
	"patentbatch/internal/task"
)

// Format identifies an input file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatXLSX  Format = "xlsx"
)

// Options tune how rows map onto inputs.
type Options struct {
	// IDColumn names the id column. Defaults to "id".
	IDColumn string
	// TextColumn, when set, selects one column as raw text and ignores the rest.
	TextColumn string
	// Sheet selects the XLSX worksheet. Defaults to the first sheet.
	Sheet string
}

func (o Options) idColumn() string {
	if strings.TrimSpace(o.IDColumn) == "" {
		return "id"
	}
	return strings.TrimSpace(o.IDColumn)
}

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", services.Wrap(services.ErrValidation, "inputs", "detect format", "unsupported input file "+filepath.Base(path), nil)
	}
}

// LoadFile reads inputs from path, choosing the parser by extension.
func LoadFile(path string, opts Options) ([]task.Input, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == FormatXLSX {
		return LoadXLSX(path, opts)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "inputs", "open", filepath.Base(path), err)
	}
	defer file.Close()
	return Load(file, format, opts)
}

// Load parses inputs from r in the given format. XLSX needs a file path and
// is handled by LoadXLSX.
func Load(r io.Reader, format Format, opts Options) ([]task.Input, error) {
	var (
		inputs []task.Input
		err    error
	)
	switch format {
	case FormatCSV:
		inputs, err = loadCSV(r, opts)
	case FormatJSON:
		inputs, err = loadJSON(r, opts)
	case FormatJSONL:
		inputs, err = loadJSONL(r, opts)
	default:
		return nil, services.Wrap(services.ErrValidation, "inputs", "load", "unsupported format "+string(format), nil)
	}
	if err != nil {
		return nil, err
	}
	return finalize(inputs)
}

// LoadXLSX reads inputs from a worksheet.
func LoadXLSX(path string, opts Options) ([]task.Input, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "inputs", "open workbook", filepath.Base(path), err)
	}
	defer f.Close()

	sheet := strings.TrimSpace(opts.Sheet)
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, services.Wrap(services.ErrValidation, "inputs", "open workbook", "workbook has no sheets", nil)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "inputs", "read sheet", sheet, err)
	}
	inputs, err := fromTable(rows, opts)
	if err != nil {
		return nil, err
	}
	return finalize(inputs)
}

func loadCSV(r io.Reader, opts Options) ([]task.Input, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "inputs", "parse csv", "", err)
	}
	return fromTable(rows, opts)
}

func fromTable(rows [][]string, opts Options) ([]task.Input, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if headers[i] == "" {
			headers[i] = "column_" + strconv.Itoa(i+1)
		}
	}
	idCol := opts.idColumn()
	inputs := make([]task.Input, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		var id string
		fields := make([]task.Field, 0, len(headers))
		for i, name := range headers {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			if strings.EqualFold(name, idCol) {
				id = strings.TrimSpace(value)
				continue
			}
			fields = append(fields, task.Field{Name: name, Value: value})
		}
		content, err := contentFromFields(fields, opts)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, task.Input{ID: id, Content: content})
	}
	return inputs, nil
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func loadJSON(r io.Reader, opts Options) ([]task.Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "inputs", "read json", "", err)
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, services.Wrap(services.ErrValidation, "inputs", "parse json", "expected an array", err)
	}
	inputs := make([]task.Input, 0, len(elements))
	for i, raw := range elements {
		in, err := fromElement(raw, opts)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "inputs", "parse json", "element "+strconv.Itoa(i+1), err)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func loadJSONL(r io.Reader, opts Options) ([]task.Input, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var inputs []task.Input
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		in, err := fromElement(json.RawMessage(line), opts)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "inputs", "parse jsonl", "line "+strconv.Itoa(lineNo), err)
		}
		inputs = append(inputs, in)
	}
	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "inputs", "read jsonl", "", err)
	}
	return inputs, nil
}

func fromElement(raw json.RawMessage, opts Options) (task.Input, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return task.Input{}, errors.New("empty element")
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return task.Input{}, err
		}
		return task.Input{Content: task.TextContent(text)}, nil
	case '{':
		return fromObject(trimmed, opts)
	default:
		return task.Input{}, fmt.Errorf("expected string or object, got %s", firstToken(trimmed))
	}
}

func fromObject(raw []byte, opts Options) (task.Input, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return task.Input{}, err
	}
	idCol := opts.idColumn()
	var (
		id     string
		fields []task.Field
	)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return task.Input{}, err
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return task.Input{}, err
		}
		text := scalarText(value)
		if strings.EqualFold(key, idCol) {
			id = strings.TrimSpace(text)
			continue
		}
		fields = append(fields, task.Field{Name: key, Value: text})
	}
	content, err := contentFromFields(fields, opts)
	if err != nil {
		return task.Input{}, err
	}
	return task.Input{ID: id, Content: content}, nil
}

func contentFromFields(fields []task.Field, opts Options) (task.Content, error) {
	if col := strings.TrimSpace(opts.TextColumn); col != "" {
		for _, f := range fields {
			if strings.EqualFold(f.Name, col) {
				return task.TextContent(f.Value), nil
			}
		}
		return task.Content{}, fmt.Errorf("text column %q not found", col)
	}
	if len(fields) == 1 {
		return task.TextContent(fields[0].Value), nil
	}
	return task.FieldContent(fields...), nil
}

func scalarText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

func firstToken(raw []byte) string {
	if len(raw) > 16 {
		return string(raw[:16]) + "..."
	}
	return string(raw)
}

// finalize assigns missing ids and rejects duplicates.
func finalize(inputs []task.Input) ([]task.Input, error) {
	seen := make(map[string]struct{}, len(inputs))
	for i := range inputs {
		if inputs[i].ID == "" {
			inputs[i].ID = "input-" + strconv.Itoa(i+1)
		}
		if _, dup := seen[inputs[i].ID]; dup {
			return nil, services.Wrap(services.ErrValidation, "inputs", "load", "duplicate input id "+inputs[i].ID, nil)
		}
		seen[inputs[i].ID] = struct{}{}
	}
	if len(inputs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "inputs", "load", "no inputs found", nil)
	}
	return inputs, nil
}
