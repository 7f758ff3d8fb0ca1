package tool

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	engerrors "github.com/cloudops-io/workflow-core/engine/errors"
)

// ValidateArgs checks args against def.ParameterSchema (JSON Schema)
// before invocation, per spec §4.4. A nil or empty schema means any
// arguments are accepted.
func ValidateArgs(def *Definition, args map[string]any) error {
	if len(def.ParameterSchema) == 0 {
		return nil
	}
	schema, err := compileSchema(def.Name, def.ParameterSchema)
	if err != nil {
		return engerrors.Wrap(engerrors.Internal, "invalid parameter schema for tool "+def.Name, err)
	}
	instance, err := toInstance(args)
	if err != nil {
		return engerrors.Wrap(engerrors.Internal, "could not encode tool arguments", err)
	}
	if err := schema.Validate(instance); err != nil {
		return engerrors.Wrap(engerrors.Validation, "tool arguments failed schema validation", err)
	}
	return nil
}

// compileSchema compiles a raw JSON-Schema map into a *jsonschema.Schema.
// Each call builds a fresh compiler — parameter schemas are small and
// registration-time/invocation-time compiles are cheap relative to the
// external call the schema gates.
func compileSchema(name string, raw map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	url := "mem://tool/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// toInstance round-trips args through JSON so numeric/string types
// match what the schema validator expects from parsed JSON.
func toInstance(args map[string]any) (any, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}
