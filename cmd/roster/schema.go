package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema for agent definitions",
	Long: `Print the JSON schema describing agent definition frontmatter, for
editor integration and external validation tooling.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		schemaType, _ := cmd.Flags().GetString("type")

		var schema *jsonschema.Schema
		switch schemaType {
		case "metadata":
			schema = agenttypes.MetadataSchema()
		case "definition":
			schema = agenttypes.DefinitionSchema()
		default:
			return errors.Errorf("unknown schema type %q, want metadata or definition", schemaType)
		}

		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal schema")
		}

		fmt.Println(string(data))
		return nil
	},
}

func init() {
	schemaCmd.Flags().String("type", "metadata", "Schema to print: metadata or definition")
}
