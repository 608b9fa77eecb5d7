// Package configcmd implements `usbsas-cli config`: utilities around the
// shared usbsas configuration file, currently JSON schema generation for
// editor autocompletion and validation.
package configcmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/usbsas/pkg/config"
)

// Cmd is the parent command for configuration utilities.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate a JSON schema for the configuration file",
	Long: `Generate a JSON schema for the usbsas configuration file.

The schema can be used for IDE autocompletion, configuration validation,
and documentation generation.

Examples:
  # Print schema to stdout
  usbsas-cli config schema

  # Save schema to a file
  usbsas-cli config schema --output usbsas.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "output file (default: stdout)")
	Cmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "usbsas Configuration"
	schema.Description = "Configuration schema for the usbsas front-end and workers"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}

	if schemaOutput != "" {
		if err := os.WriteFile(schemaOutput, schemaJSON, 0o644); err != nil {
			return fmt.Errorf("write schema file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
	return nil
}
