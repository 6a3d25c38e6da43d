package protocol

import (
	"embed"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	eventSchema   = sync.OnceValues(func() (*jsonschema.Schema, error) { return loadSchema("schema/event.schema.json") })
	computeSchema = sync.OnceValues(func() (*jsonschema.Schema, error) { return loadSchema("schema/compute.schema.json") })
)

func loadSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

func validateFrame(load func() (*jsonschema.Schema, error), body []byte) error {
	schema, err := load()
	if err != nil {
		return err
	}
	result := schema.ValidateJSON(body)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}
