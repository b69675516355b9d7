package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema returns the JSON Schema describing a full anvil config file,
// derived from the yaml tags on Config. Editors can point at it to get
// completion for anvil.yaml. The reflection runs once and is cached.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{
			FieldNameTag: "yaml",
		}
		schema := reflector.Reflect(&Config{})
		schema.Title = "anvil configuration"
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}
