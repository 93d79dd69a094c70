package services_test

import (
	"context"
	"testing"

	"patentbatch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithMode(ctx, "async")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-1" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if mode, ok := services.ModeFromContext(ctx); !ok || mode != "async" {
		t.Fatalf("unexpected mode: %v %v", mode, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithMode(ctx, "")
	ctx = services.WithRunID(ctx, "")
	if _, ok := services.ModeFromContext(ctx); ok {
		t.Fatal("expected no mode value")
	}
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("expected no run id value")
	}
}
