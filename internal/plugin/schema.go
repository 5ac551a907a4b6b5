package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// MustCompileSchema compiles a JSON Schema document, authored as a Go string
// literal inside a plugin package, into a reusable *jsonschema.Schema. It
// panics on an invalid literal, the same way the rest of this codebase uses
// regexp.MustCompile for package-level patterns that are never subject to
// runtime input: a broken schema literal is a programmer error caught at
// package init, not a condition any caller needs to recover from.
func MustCompileSchema(doc string) *jsonschema.Schema {
	var schemaDoc interface{}
	if err := json.Unmarshal([]byte(doc), &schemaDoc); err != nil {
		panic(fmt.Sprintf("plugin: invalid schema literal: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		panic(fmt.Sprintf("plugin: schema resource: %v", err))
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("plugin: schema compile: %v", err))
	}
	return schema
}

// ValidateConfig checks raw against schema before a plugin constructor
// unmarshals it into its own config struct, per spec.md's "validated via the
// plugin's own schema check". A nil schema (a plugin that declares none)
// always passes; an empty raw config is left to the plugin's own defaulting.
func ValidateConfig(schema *jsonschema.Schema, raw json.RawMessage) error {
	if schema == nil || len(raw) == 0 {
		return nil
	}
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("invalid JSON config: %w", err)
	}
	if err := schema.Validate(data); err != nil {
		return fmt.Errorf("config failed schema validation: %w", err)
	}
	return nil
}
