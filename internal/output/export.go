package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Export formats.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
	FormatJSON = "json"
)

const (
	resultsSheet  = "Results"
	metadataSheet = "Metadata"
)

// FormatFromPath infers the export format from a file extension.
func FormatFromPath(path string) (string, bool) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case FormatXLSX:
		return FormatXLSX, true
	case FormatCSV:
		return FormatCSV, true
	case FormatJSON:
		return FormatJSON, true
	default:
		return "", false
	}
}

// DefaultFilename returns a timestamped report name for the format.
func DefaultFilename(format string, now time.Time) string {
	return "results_" + now.UTC().Format("20060102_150405") + "." + format
}

// Export writes the report to path in the given format. An empty format is
// inferred from the extension.
func Export(path, format string, report Report) error {
	if format == "" {
		inferred, ok := FormatFromPath(path)
		if !ok {
			return fmt.Errorf("cannot infer export format from %q", path)
		}
		format = inferred
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	switch strings.ToLower(format) {
	case FormatXLSX:
		return WriteXLSX(path, report)
	case FormatCSV:
		return WriteCSV(path, report)
	case FormatJSON:
		return WriteJSON(path, report)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteXLSX writes a workbook with a Results sheet and a Metadata sheet that
// lists split columns.
func WriteXLSX(path string, report Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeSheet(f, resultsSheet, report.Headers, report.Rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(metadataSheet); err != nil {
		return fmt.Errorf("create metadata sheet: %w", err)
	}
	if err := writeSheet(f, metadataSheet, metadataHeaders(), metadataRows(report)); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]string) error {
	if err := setRow(f, sheet, 1, headers); err != nil {
		return err
	}
	for i, r := range rows {
		if err := setRow(f, sheet, i+2, r); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, rowNum, err)
	}
	return nil
}

// WriteCSV writes the results table to path and, when columns were split, a
// sibling "<name>_metadata.csv".
func WriteCSV(path string, report Report) error {
	if err := writeCSVFile(path, report.Headers, report.Rows); err != nil {
		return err
	}
	if len(report.Splits) == 0 {
		return nil
	}
	return writeCSVFile(MetadataPath(path), metadataHeaders(), metadataRows(report))
}

// MetadataPath returns the sidecar metadata location for a CSV report.
func MetadataPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_metadata" + ext
}

func writeCSVFile(path string, headers []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return file.Sync()
}

// WriteJSON writes the full report as indented JSON.
func WriteJSON(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func metadataHeaders() []string {
	return []string{"field", "parts", "max_length", "cell_limit"}
}

func metadataRows(report Report) [][]string {
	rows := make([][]string, 0, len(report.Splits))
	for _, s := range report.Splits {
		rows = append(rows, []string{
			s.Field,
			strconv.Itoa(s.Parts),
			strconv.Itoa(s.MaxLength),
			strconv.Itoa(report.CellLimit),
		})
	}
	return rows
}
