package output_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"patentbatch/internal/output"
	"patentbatch/internal/task"
)

func TestSplitValueRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		length int
		limit  int
		parts  int
	}{
		{"under", 5, 10, 1},
		{"exact", 10, 10, 1},
		{"one over", 11, 10, 2},
		{"exact multiple", 30, 10, 3},
		{"multibyte", 25, 10, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unit := "a"
			if tc.name == "multibyte" {
				unit = "専"
			}
			value := strings.Repeat(unit, tc.length)
			parts := output.PartCount(tc.length, tc.limit)
			if parts != tc.parts {
				t.Fatalf("PartCount = %d, want %d", parts, tc.parts)
			}
			chunks := output.SplitValue(value, tc.limit, parts)
			if len(chunks) != parts {
				t.Fatalf("got %d chunks", len(chunks))
			}
			for i, c := range chunks {
				if n := len([]rune(c)); n > tc.limit {
					t.Fatalf("chunk %d has %d characters", i, n)
				}
			}
			if output.JoinParts(chunks) != value {
				t.Fatal("joined value differs from original")
			}
		})
	}
}

func TestBuildReportColumnsAndOrder(t *testing.T) {
	inputs := []task.Input{
		{ID: "in-1", Content: task.TextContent("first")},
		{ID: "in-2", Content: task.TextContent("second")},
		{ID: "in-3", Content: task.TextContent("third")},
	}
	results := []task.Result{
		{Key: "r3", InputID: "in-3", Status: task.StatusFailed, Error: "remote failed"},
		{Key: "r1", InputID: "in-1", Status: task.StatusCompleted, Content: "```json\n{\"title\": \"A\", \"score\": 3}\n```"},
		{Key: "r2", InputID: "in-2", Status: task.StatusCompleted, Content: "no json here"},
		{Key: "line-9", InputID: "line-9", Status: task.StatusFailed, Raw: "{broken"},
	}

	report := output.BuildReport(inputs, results, 0)

	wantHeaders := []string{"id", "input", "status", "title", "score", "response", "error"}
	if strings.Join(report.Headers, ",") != strings.Join(wantHeaders, ",") {
		t.Fatalf("headers = %v", report.Headers)
	}
	if len(report.Rows) != 4 {
		t.Fatalf("rows = %d", len(report.Rows))
	}
	ids := report.Column("id")
	if strings.Join(ids, ",") != "in-1,in-2,in-3,line-9" {
		t.Fatalf("row order = %v", ids)
	}
	if got := report.Column("title")[0]; got != "A" {
		t.Fatalf("title = %q", got)
	}
	if got := report.Column("score")[0]; got != "3" {
		t.Fatalf("score = %q", got)
	}
	if got := report.Column("response")[1]; got != "no json here" {
		t.Fatalf("response = %q", got)
	}
	if got := report.Column("error")[3]; !strings.Contains(got, "{broken") {
		t.Fatalf("error column = %q", got)
	}
	want := output.Stats{Total: 4, Completed: 2, Failed: 2}
	if report.Stats != want {
		t.Fatalf("stats = %+v", report.Stats)
	}
	if len(report.Splits) != 0 {
		t.Fatalf("unexpected splits %v", report.Splits)
	}
}

func TestBuildReportRecordInputs(t *testing.T) {
	inputs := []task.Input{{ID: "p1", Content: task.FieldContent(
		task.Field{Name: "title", Value: "Widget"},
		task.Field{Name: "status", Value: "granted"},
	)}}
	results := []task.Result{{Key: "r", InputID: "p1", Status: task.StatusCompleted, Content: `{"title":"Better widget"}`}}

	report := output.BuildReport(inputs, results, 100)
	want := "id,title,input.status,status,output.title"
	if strings.Join(report.Headers, ",") != want {
		t.Fatalf("headers = %v", report.Headers)
	}
	if report.Rows[0][4] != "Better widget" {
		t.Fatalf("row = %v", report.Rows[0])
	}
}

func TestBuildReportSplitsLongCells(t *testing.T) {
	long := strings.Repeat("x", 25)
	inputs := []task.Input{
		{ID: "a", Content: task.TextContent(long)},
		{ID: "b", Content: task.TextContent("short")},
	}
	report := output.BuildReport(inputs, nil, 10)

	if len(report.Splits) != 1 {
		t.Fatalf("splits = %v", report.Splits)
	}
	split := report.Splits[0]
	if split.Field != "input" || split.Parts != 3 || split.MaxLength != 25 {
		t.Fatalf("split = %+v", split)
	}
	wantHeaders := "id,input (1),input (2),input (3),status"
	if strings.Join(report.Headers, ",") != wantHeaders {
		t.Fatalf("headers = %v", report.Headers)
	}
	col := report.Column("input")
	if col[0] != long || col[1] != "short" {
		t.Fatalf("reassembled = %v", col)
	}
	if report.Stats.Pending != 2 {
		t.Fatalf("stats = %+v", report.Stats)
	}
}

func TestExportXLSXReadBack(t *testing.T) {
	inputs := []task.Input{{ID: "a", Content: task.TextContent(strings.Repeat("y", 15))}}
	results := []task.Result{{Key: "r", InputID: "a", Status: task.StatusCompleted, Content: `{"k":"v"}`}}
	report := output.BuildReport(inputs, results, 10)

	path := filepath.Join(t.TempDir(), "out.xlsx")
	if err := output.Export(path, "", report); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Results")
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "id,input (1),input (2),status,k" {
		t.Fatalf("header row = %v", rows[0])
	}
	if rows[1][1]+rows[1][2] != strings.Repeat("y", 15) {
		t.Fatalf("split cells = %v", rows[1])
	}

	meta, err := f.GetRows("Metadata")
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if len(meta) != 2 || meta[1][0] != "input" || meta[1][1] != "2" {
		t.Fatalf("metadata = %v", meta)
	}
}

func TestExportCSVWritesMetadataSidecar(t *testing.T) {
	inputs := []task.Input{{ID: "a", Content: task.TextContent(strings.Repeat("z", 12))}}
	report := output.BuildReport(inputs, nil, 5)

	path := filepath.Join(t.TempDir(), "out.csv")
	if err := output.Export(path, output.FormatCSV, report); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "id,input (1),input (2),input (3),status\n") {
		t.Fatalf("csv = %q", data)
	}
	meta, err := os.ReadFile(output.MetadataPath(path))
	if err != nil {
		t.Fatalf("metadata sidecar: %v", err)
	}
	if !strings.Contains(string(meta), "input,3,12,5") {
		t.Fatalf("metadata = %q", meta)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	if err := output.Export(filepath.Join(t.TempDir(), "out.txt"), "", output.Report{}); err == nil {
		t.Fatal("expected error for unknown extension")
	}
}
