// Package router decides which substrate executes a run and produces an
// advisory recommendation for the caller. It has no I/O.
package router

import (
	"fmt"
	"math"
	"time"

	"patentbatch/internal/config"
	"patentbatch/internal/task"
)

// Settings holds the constants that drive mode selection and estimates.
type Settings struct {
	Threshold    int
	Concurrency  int
	PerItem      time.Duration
	BatchMinimum time.Duration
}

// SettingsFromConfig extracts router settings from configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Threshold:    cfg.Router.Threshold,
		Concurrency:  cfg.Async.Concurrency,
		PerItem:      time.Duration(cfg.Router.PerItemSeconds * float64(time.Second)),
		BatchMinimum: time.Duration(cfg.Router.BatchMinimumSeconds) * time.Second,
	}
}

// Recommendation is an advisory summary of the mode decision.
type Recommendation struct {
	Mode     task.Mode     `json:"mode"`
	Count    int           `json:"count"`
	Reason   string        `json:"reason"`
	Estimate time.Duration `json:"estimate"`
}

// DetermineMode returns the explicit preference unchanged; otherwise async
// when count is below the threshold and batch at or above it.
func (s Settings) DetermineMode(count int, preference task.Mode) task.Mode {
	if preference.IsExplicit() {
		return preference
	}
	if count < s.Threshold {
		return task.ModeAsync
	}
	return task.ModeBatch
}

// Recommend describes the auto-mode decision for count inputs. The estimate
// is informational and never drives execution.
func (s Settings) Recommend(count int) Recommendation {
	mode := s.DetermineMode(count, task.ModeAuto)
	rec := Recommendation{Mode: mode, Count: count, Estimate: s.estimate(count, mode)}
	if mode == task.ModeAsync {
		rec.Reason = fmt.Sprintf("%d inputs is below the batch threshold of %d; async polling returns results within minutes", count, s.Threshold)
	} else {
		rec.Reason = fmt.Sprintf("%d inputs meets the batch threshold of %d; the batch API is cheaper at this volume but runs on a multi-hour window", count, s.Threshold)
	}
	return rec
}

func (s Settings) estimate(count int, mode task.Mode) time.Duration {
	if count <= 0 {
		return 0
	}
	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	rounds := int(math.Ceil(float64(count) / float64(concurrency)))
	linear := time.Duration(rounds) * s.PerItem
	if mode == task.ModeBatch && linear < s.BatchMinimum {
		return s.BatchMinimum
	}
	return linear
}
