package toolhost

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// scalarTypes are the JSON Schema primitive type names the structural
// checks below accept, matching tool_websocket_client.py's
// register_tool validation.
var scalarTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "object": true, "array": true,
}

// ValidateToolSchema enforces the structural rules spec §6 requires of
// an advertised tool's parameters: top-level type:object with a
// properties map; every property has a type and (for array/object) the
// companion field the schema needs to be useful to a model. This is a
// near-literal port of tool_websocket_client.py's register_tool checks.
func ValidateToolSchema(params json.RawMessage) error {
	var doc map[string]any
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("%w: parameters must be a JSON object: %v", coreerr.ErrInvalidSchema, err)
	}
	if t, _ := doc["type"].(string); t != "object" {
		return fmt.Errorf("%w: parameters top-level type must be \"object\"", coreerr.ErrInvalidSchema)
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: parameters must have a \"properties\" object", coreerr.ErrInvalidSchema)
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: property %q must be an object", coreerr.ErrInvalidSchema, name)
		}
		if err := validateProperty(name, prop); err != nil {
			return err
		}
	}
	if req, ok := doc["required"]; ok {
		if _, ok := req.([]any); !ok {
			return fmt.Errorf("%w: \"required\" must be a list of property names", coreerr.ErrInvalidSchema)
		}
	}
	return nil
}

func validateProperty(name string, prop map[string]any) error {
	ptype, _ := prop["type"].(string)
	if ptype == "" || !scalarTypes[ptype] {
		return fmt.Errorf("%w: property %q has unknown or missing type %q", coreerr.ErrInvalidSchema, name, ptype)
	}
	if ptype == "array" {
		items, ok := prop["items"].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: array property %q must have an \"items\" object", coreerr.ErrInvalidSchema, name)
		}
		itype, _ := items["type"].(string)
		if itype == "" || !scalarTypes[itype] {
			return fmt.Errorf("%w: array property %q items have unknown or missing type", coreerr.ErrInvalidSchema, name)
		}
	}
	if ptype == "object" {
		_, hasProps := prop["properties"]
		desc, _ := prop["description"].(string)
		if !hasProps && desc == "" {
			return fmt.Errorf("%w: object property %q needs \"properties\" or a \"description\"", coreerr.ErrInvalidSchema, name)
		}
	}
	return nil
}

// CompileSchema compiles a tool's parameters document for argument
// validation at dispatch time.
func CompileSchema(params json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool-params.json", bytesReader(params)); err != nil {
		return nil, err
	}
	return compiler.Compile("tool-params.json")
}

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// ValidateArgs checks args against a compiled parameter schema.
func ValidateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("tool arguments are not valid JSON: %w", err)
	}
	return schema.Validate(decoded)
}
