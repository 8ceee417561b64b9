package toolhost

import (
	"encoding/json"
	"testing"
)

func TestValidateToolSchemaAcceptsWellFormed(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "search text"},
			"tags": {"type": "array", "items": {"type": "string", "description": "a tag"}, "description": "tags"}
		},
		"required": ["query"]
	}`)
	if err := ValidateToolSchema(schema); err != nil {
		t.Fatalf("ValidateToolSchema: %v", err)
	}
}

func TestValidateToolSchemaRejectsNonObjectTop(t *testing.T) {
	if err := ValidateToolSchema(json.RawMessage(`{"type": "string"}`)); err == nil {
		t.Fatalf("expected error for non-object top-level type")
	}
}

func TestValidateToolSchemaRejectsMissingProperties(t *testing.T) {
	if err := ValidateToolSchema(json.RawMessage(`{"type": "object"}`)); err == nil {
		t.Fatalf("expected error for missing properties")
	}
}

func TestValidateToolSchemaRejectsArrayWithoutItems(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"tags":{"type":"array","description":"x"}}}`)
	if err := ValidateToolSchema(schema); err == nil {
		t.Fatalf("expected error for array property missing items")
	}
}

func TestValidateToolSchemaRejectsObjectWithoutPropertiesOrDescription(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"filters":{"type":"object"}}}`)
	if err := ValidateToolSchema(schema); err == nil {
		t.Fatalf("expected error for object property with neither properties nor description")
	}
}

func TestCompileAndValidateArgs(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"a": {"type": "integer", "description": "x"}},
		"required": ["a"]
	}`)
	compiled, err := CompileSchema(schema)
	if err != nil {
		t.Fatalf("CompileSchema: %v", err)
	}
	if err := ValidateArgs(compiled, json.RawMessage(`{"a": 1}`)); err != nil {
		t.Fatalf("ValidateArgs valid: %v", err)
	}
	if err := ValidateArgs(compiled, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected validation error for missing required field")
	}
}
