package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"patentbatch/internal/config"
	"patentbatch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
	remote     *testsupport.FakeRemote
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	remote, srv := testsupport.NewFakeRemote(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(srv.URL))
	cfg.Logging.Level = "error"

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	base := testsupport.BaseDir(cfg)
	path := testsupport.WriteFile(t, filepath.Join(base, "config.toml"), string(data))

	return &cliTestEnv{cfg: cfg, configPath: path, baseDir: base, remote: remote}
}

// writeRunFiles writes a three-row CSV and a TOML template.
func (e *cliTestEnv) writeRunFiles(t *testing.T) (inputsPath, templatePath string) {
	t.Helper()
	inputsPath = testsupport.WriteFile(t, filepath.Join(e.baseDir, "patents.csv"),
		"id,abstract\np-1,A folding widget\np-2,A self-heating cup\np-3,A quiet fan blade\n")
	templatePath = testsupport.WriteFile(t, filepath.Join(e.baseDir, "summary.toml"), `
name = "summary"
system_prompt = "You are a patent analyst."
user_prompt_template = "Summarize: {{INPUT}}"
model = "glm-4"
temperature = 0.2
`)
	return inputsPath, templatePath
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q to contain %q", haystack, needle)
	}
}
