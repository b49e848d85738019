package schema

import "testing"

func TestValidate_ValidTaskPasses(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := map[string]interface{}{
		"id":     "a",
		"module": "package",
		"args":   map[string]interface{}{"name": "nginx"},
	}
	if err := r.Validate("task", task); err != nil {
		t.Fatalf("expected valid task to pass, got %v", err)
	}
}

func TestValidate_MissingModuleFails(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := map[string]interface{}{"id": "a"}
	if err := r.Validate("task", task); err == nil {
		t.Fatalf("expected missing module to fail validation")
	}
}

func TestValidate_UnknownSchemaErrors(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Validate("nonexistent", map[string]interface{}{}); err == nil {
		t.Fatalf("expected error for unregistered schema")
	}
}

func TestValidate_InvalidStrategyEnumFails(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	play := map[string]interface{}{
		"name":     "play1",
		"hosts":    "all",
		"tasks":    []interface{}{},
		"strategy": "not-a-real-strategy",
	}
	if err := r.Validate("play", play); err == nil {
		t.Fatalf("expected invalid strategy enum to fail validation")
	}
}
