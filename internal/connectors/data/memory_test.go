package data

import (
	"context"
	"errors"
	"testing"

	"DeafFirst-Hub/pkg/plugin"
)

func newGlossary(t *testing.T) *Memory {
	t.Helper()
	conn, err := NewMemoryConstructor(map[string]any{
		"records": []any{
			map[string]any{"id": "1099", "title": "Form 1099", "summary": "Reports income other than wages"},
			`{"id":"w2","title":"Form W-2","summary":"Wage and tax statement"}`,
			map[string]any{"id": "eitc", "title": "Earned Income Tax Credit", "summary": "Refundable credit for low income workers"},
		},
		"search_fields": "title,summary",
	})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := conn.ValidateConfig(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return conn.(*Memory)
}

func TestMemoryGet(t *testing.T) {
	m := newGlossary(t)
	out, err := m.Invoke(context.Background(), "get", map[string]any{"key": "w2"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rec := out["record"].(map[string]any)
	if rec["title"] != "Form W-2" {
		t.Fatalf("unexpected record %+v", rec)
	}
	rec["title"] = "mutated"
	again, _ := m.Invoke(context.Background(), "get", map[string]any{"key": "w2"})
	if again["record"].(map[string]any)["title"] != "Form W-2" {
		t.Fatalf("records must be returned as copies")
	}
	if _, err := m.Invoke(context.Background(), "get", map[string]any{"key": "missing"}); !errors.Is(err, plugin.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemorySearchAndList(t *testing.T) {
	m := newGlossary(t)
	out, err := m.Invoke(context.Background(), "search", map[string]any{"query": "TAX"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if out["total"] != 2 {
		t.Fatalf("expected 2 matches, got %+v", out)
	}
	out, _ = m.Invoke(context.Background(), "list", map[string]any{"limit": 1})
	if out["total"] != 3 || len(out["records"].([]map[string]any)) != 1 {
		t.Fatalf("unexpected page %+v", out)
	}
	if _, err := m.Invoke(context.Background(), "search", nil); !errors.Is(err, plugin.ErrInvalidRequest) {
		t.Fatalf("empty query should be rejected, got %v", err)
	}
	if _, err := m.Invoke(context.Background(), "delete", nil); !errors.Is(err, plugin.ErrInvalidRequest) {
		t.Fatalf("unknown action should be rejected, got %v", err)
	}
}

func TestMemoryRejectsRecordsWithoutKey(t *testing.T) {
	m, err := NewMemory(MemoryConfig{Records: []any{map[string]any{"title": "no id"}}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.ValidateConfig(); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := NewMemory(MemoryConfig{Records: []any{42}}); !errors.Is(err, plugin.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
