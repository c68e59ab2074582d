package schema

import (
	"encoding/json"
	"testing"
)

var requiredName = []byte(`{"type":"object","properties":{"name":{"type":"string","minLength":1}},"required":["name"]}`)

func TestCompileAndValidate(t *testing.T) {
	compiled, err := Compile("test", requiredName)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := compiled.Validate(map[string]any{"name": "ok"}); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	if err := compiled.Validate(map[string]any{"nope": "bad"}); err == nil {
		t.Fatalf("expected missing field error")
	}
	if err := compiled.Validate([]byte(`{"name":""}`)); err == nil {
		t.Fatalf("expected empty name rejected")
	}
}

func TestValidateSchemaOneShot(t *testing.T) {
	if err := ValidateSchema("test", requiredName, json.RawMessage(`{"name":"x"}`)); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	if err := ValidateSchema("test", nil, nil); err == nil {
		t.Fatalf("expected error for empty schema")
	}
}

func TestCompileRejectsBadSchema(t *testing.T) {
	if _, err := Compile("bad", []byte(`{"type":`)); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestMustCompilePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	MustCompile("bad", nil)
}

func TestNilCompiled(t *testing.T) {
	var c *Compiled
	if err := c.Validate(map[string]any{}); err == nil {
		t.Fatalf("expected error for nil schema")
	}
}

func TestNormalizeValue(t *testing.T) {
	val, err := normalizeValue(json.RawMessage(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("normalize raw: %v", err)
	}
	m, ok := val.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Fatalf("unexpected normalized value")
	}
	if _, err := normalizeValue([]byte("{")); err == nil {
		t.Fatalf("expected error for invalid byte json")
	}
}

func TestSchemaIDDefault(t *testing.T) {
	if got := schemaID(""); got != "inmemory://schema" {
		t.Fatalf("unexpected schema id: %s", got)
	}
}
