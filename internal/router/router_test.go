package router_test

import (
	"testing"
	"time"

	"patentbatch/internal/config"
	"patentbatch/internal/router"
	"patentbatch/internal/task"
)

func defaultSettings() router.Settings {
	cfg := config.Default()
	return router.SettingsFromConfig(&cfg)
}

func TestDetermineModeThreshold(t *testing.T) {
	s := defaultSettings()
	for n := 0; n <= 200; n++ {
		got := s.DetermineMode(n, task.ModeAuto)
		want := task.ModeBatch
		if n < s.Threshold {
			want = task.ModeAsync
		}
		if got != want {
			t.Fatalf("DetermineMode(%d, auto) = %s, want %s", n, got, want)
		}
		if s.DetermineMode(n, "") != want {
			t.Fatalf("empty preference should behave like auto at n=%d", n)
		}
	}
}

func TestDetermineModeOverrideWins(t *testing.T) {
	s := defaultSettings()
	for _, n := range []int{0, 1, 49, 50, 51, 10000} {
		if got := s.DetermineMode(n, task.ModeAsync); got != task.ModeAsync {
			t.Fatalf("explicit async overridden at n=%d: %s", n, got)
		}
		if got := s.DetermineMode(n, task.ModeBatch); got != task.ModeBatch {
			t.Fatalf("explicit batch overridden at n=%d: %s", n, got)
		}
	}
}

func TestRecommend(t *testing.T) {
	s := router.Settings{Threshold: 50, Concurrency: 5, PerItem: 8 * time.Second, BatchMinimum: 30 * time.Minute}

	rec := s.Recommend(10)
	if rec.Mode != task.ModeAsync {
		t.Fatalf("expected async, got %s", rec.Mode)
	}
	if rec.Estimate != 16*time.Second {
		t.Fatalf("expected 2 rounds of 8s, got %s", rec.Estimate)
	}
	if rec.Reason == "" {
		t.Fatal("expected a reason")
	}

	rec = s.Recommend(60)
	if rec.Mode != task.ModeBatch {
		t.Fatalf("expected batch, got %s", rec.Mode)
	}
	if rec.Estimate != 30*time.Minute {
		t.Fatalf("expected batch minimum, got %s", rec.Estimate)
	}

	if s.Recommend(0).Estimate != 0 {
		t.Fatal("expected zero estimate for no inputs")
	}
}
