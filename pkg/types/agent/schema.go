package agent

import (
	"github.com/invopop/jsonschema"
)

// GenerateSchema builds a strict JSON schema for a definition type, used
// to publish the frontmatter contract for editors and external tooling.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T

	return reflector.Reflect(v)
}

// MetadataSchema returns the schema for definition frontmatter.
func MetadataSchema() *jsonschema.Schema {
	return GenerateSchema[Metadata]()
}

// DefinitionSchema returns the schema for fully parsed definitions.
func DefinitionSchema() *jsonschema.Schema {
	return GenerateSchema[Definition]()
}
