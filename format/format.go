// Package format defines named JSON Schema response formats and validation
// for structured model output. Formats travel with requests so providers with
// native structured output can constrain generation, and responses are
// validated against the schema before callers parse them.
package format

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Format names a JSON Schema that model output must conform to.
type Format struct {
	// Name identifies the format. Providers that accept named schemas
	// (OpenAI json_schema) surface it verbatim.
	Name string

	// Description documents the expected output for prompting purposes.
	Description string

	// Schema is the JSON Schema object ("type": "object" with "properties"
	// and "required") the output must satisfy.
	Schema map[string]any

	// Strict requests strict adherence on providers that support it.
	Strict bool
}

// Object builds a Format for the common object-schema case.
func Object(name, description string, properties map[string]any, required ...string) *Format {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return &Format{Name: name, Description: description, Schema: schema}
}

// ValidationError reports model output that failed schema validation. The
// raw content is preserved so callers can log or repair it.
type ValidationError struct {
	// Name is the format the content was validated against.
	Name string
	// Content is the raw output that failed.
	Content []byte
	// Cause is the JSON or schema error.
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("format %q: %s", e.Name, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// schemaCache caches compiled schemas keyed by name plus schema digest so a
// reused name with a changed schema recompiles instead of validating against
// the stale compilation.
var schemaCache sync.Map // map[string]*jsonschema.Schema

// Validate checks raw JSON output against the format's schema. Returns nil
// when the format is nil, has no schema, or the content conforms; returns a
// *ValidationError otherwise.
func (f *Format) Validate(raw []byte) error {
	if f == nil || f.Schema == nil {
		return nil
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &ValidationError{Name: f.Name, Content: raw, Cause: fmt.Errorf("invalid JSON: %w", err)}
	}

	compiled, err := f.compiled()
	if err != nil {
		return &ValidationError{Name: f.Name, Content: raw, Cause: fmt.Errorf("compile schema: %w", err)}
	}

	if err := compiled.Validate(parsed); err != nil {
		return &ValidationError{Name: f.Name, Content: raw, Cause: err}
	}
	return nil
}

// compiled returns the cached compiled schema, compiling and caching on the
// first use of a given name+schema pair.
func (f *Format) compiled() (*jsonschema.Schema, error) {
	// The jsonschema library expects a parsed JSON value, not raw bytes.
	// Marshaling also yields the bytes the cache key digests.
	defBytes, err := json.Marshal(f.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	sum := sha256.Sum256(defBytes)
	key := f.Name + "#" + hex.EncodeToString(sum[:8])

	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	var defParsed any
	if err := json.Unmarshal(defBytes, &defParsed); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	schemaURL := fmt.Sprintf("schema://%s.json", f.Name)
	if err := c.AddResource(schemaURL, defParsed); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, err
	}

	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateSchema validates raw JSON against a bare schema map. Used for tool
// input validation where no named Format exists.
func ValidateSchema(name string, schema map[string]any, raw []byte) error {
	if schema == nil {
		return nil
	}
	f := &Format{Name: name, Schema: schema}
	return f.Validate(raw)
}
