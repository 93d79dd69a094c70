package main

import (
	"strings"
	"testing"
)

func TestRenderTablePadsMissingCells(t *testing.T) {
	out := renderTable([]column{{header: "Input"}, {header: "Status"}, {header: "Tokens", align: alignRight}}, [][]string{
		{"p-1", "completed", "15"},
		{"p-2"},
	})
	for _, want := range []string{"Input", "Status", "Tokens", "p-1", "completed", "p-2"} {
		requireContains(t, out, want)
	}
	if lines := strings.Count(out, "\n"); lines < 5 {
		t.Fatalf("expected a bordered table, got %q", out)
	}
	if renderTable(nil, [][]string{{"x"}}) != "" {
		t.Fatal("expected empty output without columns")
	}
}

func TestRenderFields(t *testing.T) {
	out := renderFields([][2]string{{"Mode", "batch"}, {"Batch", "batch-1"}})
	requireContains(t, out, "Mode")
	requireContains(t, out, "batch-1")
	if strings.Contains(out, "Field") {
		t.Fatal("fields table should not render a header")
	}
}
