package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"patentbatch/internal/testsupport"
)

func TestRecommendCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	cases := []struct {
		args []string
		want string
	}{
		{[]string{"recommend", "10"}, "Recommended mode: async"},
		{[]string{"recommend", "49"}, "Recommended mode: async"},
		{[]string{"recommend", "50"}, "Recommended mode: batch"},
		{[]string{"recommend", "5000"}, "Recommended mode: batch"},
	}
	for _, tc := range cases {
		out, _, err := runCLI(t, tc.args, env.configPath)
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		requireContains(t, out, tc.want)
		requireContains(t, out, "Estimated duration")
	}

	out, _, err := runCLI(t, []string{"recommend", "--json", "60"}, env.configPath)
	if err != nil {
		t.Fatalf("recommend --json: %v", err)
	}
	var rec struct {
		Mode            string `json:"mode"`
		Count           int    `json:"count"`
		EstimateSeconds int    `json:"estimate_seconds"`
	}
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Mode != "batch" || rec.Count != 60 || rec.EstimateSeconds < 1800 {
		t.Fatalf("recommendation = %+v", rec)
	}
}

func TestRecommendCountsInputFile(t *testing.T) {
	env := setupCLITestEnv(t)
	path := testsupport.WriteFile(t, filepath.Join(env.baseDir, "in.jsonl"), "\"a\"\n\"b\"\n\"c\"\n")
	out, _, err := runCLI(t, []string{"recommend", "--inputs", path}, env.configPath)
	if err != nil {
		t.Fatalf("recommend --inputs: %v", err)
	}
	requireContains(t, out, "Recommended mode: async")
}

func TestRecommendRequiresCount(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"recommend"}, env.configPath); err == nil {
		t.Fatal("expected error without a count")
	}
	if _, _, err := runCLI(t, []string{"recommend", "many"}, env.configPath); err == nil {
		t.Fatal("expected error for a non-numeric count")
	}
}
