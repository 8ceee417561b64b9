package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/contextloom/loom/pkg/models"
)

// Callable is an in-process tool's implementation: it receives the
// call's raw JSON arguments and returns a JSON-encodable result or an
// error. It is invoked directly; an async Go implementation simply
// does its own waiting before returning, there being no separate
// "await" step in Go the way original_source/tool_local_client.py
// awaits a coroutine function.
type Callable func(ctx context.Context, args json.RawMessage) (any, error)

type localTool struct {
	spec models.ToolSpec
	fn   Callable
}

// InProcessProvider exposes Go callables as tools, the way
// original_source/tool_local_client.py's ToolLocalClient exposes
// Python functions: register once, dispatch by name.
type InProcessProvider struct {
	id string

	mu    sync.RWMutex
	tools map[string]localTool
	order []string
}

// NewInProcessProvider creates an empty provider under the given id.
func NewInProcessProvider(id string) *InProcessProvider {
	return &InProcessProvider{id: id, tools: map[string]localTool{}}
}

func (p *InProcessProvider) ID() string { return p.id }

// Open and Close are no-ops: in-process tools hold no exclusive
// handles needing scoped release.
func (p *InProcessProvider) Open(ctx context.Context) error { return nil }
func (p *InProcessProvider) Close() error                   { return nil }

// Register adds a tool with an explicitly supplied JSON Schema.
func (p *InProcessProvider) Register(name, description string, schema json.RawMessage, fn Callable) error {
	if strings.TrimSpace(name) == "" {
		return coreerr.ErrEmptyName
	}
	if err := ValidateToolSchema(schema); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.tools[name]; !exists {
		p.order = append(p.order, name)
	}
	p.tools[name] = localTool{
		spec: models.ToolSpec{Name: name, Description: description, Parameters: schema},
		fn:   fn,
	}
	return nil
}

func (p *InProcessProvider) ListTools(ctx context.Context) ([]models.ToolSpec, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.ToolSpec, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.tools[name].spec)
	}
	return out, nil
}

func (p *InProcessProvider) CallTool(ctx context.Context, callID, name string, args json.RawMessage) (string, error) {
	p.mu.RLock()
	tool, ok := p.tools[name]
	p.mu.RUnlock()
	if !ok {
		return "", coreerr.ErrUnknownTool
	}
	result, err := tool.fn(ctx, args)
	if err != nil {
		return "", coreerr.NewToolExecutionFailed(name, err)
	}
	return encodeResult(result)
}

// encodeResult renders a callable's return value the way the result
// is sent back over the LLM interface: strings pass through verbatim,
// everything else is JSON-encoded.
func encodeResult(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RegisterAuto registers fn under name, deriving its JSON Schema from
// T's fields by reflection: the spec's scalar/optional/list/map/object
// mapping, generalized from tool_local_client.py's
// python_function_to_json_schema (which reads Python signatures) since
// Go keeps no runtime parameter-name metadata for funcs — a typed
// struct stands in for the signature (see DESIGN.md).
//
// Field tags: `json:"name,omitempty"` controls the property name and
// whether it is required (omitempty ⇒ optional); `desc:"..."` supplies
// the property description spec §6 requires.
func RegisterAuto[T any](p *InProcessProvider, name, description string, fn func(ctx context.Context, args T) (any, error)) error {
	var zero T
	schema, err := deriveSchema(reflect.TypeOf(zero))
	if err != nil {
		return err
	}
	wrapped := func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		return fn(ctx, args)
	}
	return p.Register(name, description, schema, wrapped)
}

func deriveSchema(t reflect.Type) (json.RawMessage, error) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("toolhost: RegisterAuto requires a struct parameter type, got %v", t)
	}
	props := map[string]any{}
	var required []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		jsonName, optional := jsonFieldName(f)
		if jsonName == "-" {
			continue
		}
		prop, err := fieldSchema(f.Type)
		if err != nil {
			return nil, err
		}
		if desc := f.Tag.Get("desc"); desc != "" {
			prop["description"] = desc
		} else if prop["type"] == "object" {
			prop["description"] = jsonName
		}
		props[jsonName] = prop
		if !optional {
			required = append(required, jsonName)
		}
	}
	sort.Strings(required)
	doc := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

func jsonFieldName(f reflect.StructField) (name string, optional bool) {
	tag := f.Tag.Get("json")
	parts := strings.Split(tag, ",")
	name = f.Name
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			optional = true
		}
	}
	if f.Type.Kind() == reflect.Ptr {
		optional = true
	}
	return name, optional
}

func fieldSchema(t reflect.Type) (map[string]any, error) {
	if t.Kind() == reflect.Ptr {
		return fieldSchema(t.Elem())
	}
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}, nil
	case reflect.Bool:
		return map[string]any{"type": "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}, nil
	case reflect.Slice, reflect.Array:
		items, err := fieldSchema(t.Elem())
		if err != nil {
			return nil, err
		}
		if _, ok := items["description"]; !ok {
			items["description"] = "element"
		}
		return map[string]any{"type": "array", "items": items}, nil
	case reflect.Map, reflect.Struct:
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	default:
		return nil, fmt.Errorf("toolhost: unsupported field kind %v for auto-schema derivation", t.Kind())
	}
}
