package testsupport

import (
	"fmt"
	"testing"

	"patentbatch/internal/config"
	"patentbatch/internal/task"
	"patentbatch/internal/taskstore"
)

// MustOpenStore opens the SQLite snapshot store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *taskstore.SQLiteStore {
	t.Helper()

	store, err := taskstore.OpenSQLite(cfg)
	if err != nil {
		t.Fatalf("taskstore.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Inputs returns n text inputs with ids in-1 … in-n.
func Inputs(n int) []task.Input {
	out := make([]task.Input, n)
	for i := range out {
		out[i] = task.Input{
			ID:      fmt.Sprintf("in-%d", i+1),
			Content: task.TextContent(fmt.Sprintf("patent abstract %d", i+1)),
		}
	}
	return out
}

// Template returns a minimal template suitable for engine tests.
func Template() task.Template {
	return task.Template{
		Name:               "test",
		SystemPrompt:       "You are a patent analyst.",
		UserPromptTemplate: "Analyze:\n{{INPUT}}",
		Model:              "test-model",
		Temperature:        0.1,
	}
}

// MustLoadSession returns a session loaded with inputs and a test template.
func MustLoadSession(t testing.TB, inputs []task.Input) *taskstore.Session {
	t.Helper()

	session := taskstore.NewSession()
	if err := session.Load(inputs, Template()); err != nil {
		t.Fatalf("session.Load: %v", err)
	}
	return session
}
