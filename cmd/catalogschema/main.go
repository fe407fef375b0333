// Command catalogschema exports a JSON Schema for internal/catalog.Entry,
// grounded on the teacher's effects/catalog/schema_generate.go, adapted
// into an ordinary compiled command so operators can regenerate the schema
// without go run'ing a build-tagged file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"raceline/internal/catalog"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "output path for the JSON schema")
	flag.Parse()

	if outPath == "" {
		log.Fatal("catalogschema: missing -out path")
	}

	schema, err := buildSchema()
	if err != nil {
		log.Fatalf("catalogschema: %v", err)
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("catalogschema: marshal schema: %v", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		log.Fatalf("catalogschema: create output dir: %v", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		log.Fatalf("catalogschema: write schema: %v", err)
	}
}

func buildSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	entrySchema := reflector.ReflectFromType(reflect.TypeOf(catalog.Entry{}))
	if entrySchema == nil {
		return nil, fmt.Errorf("failed to reflect entry schema")
	}
	entrySchema.Version = ""
	entrySchema.Title = "Event Catalog Entry"
	entrySchema.Description = "One scheduled-event definition consumed by the race scheduler."

	arraySchema := &jsonschema.Schema{
		Type:        "array",
		Title:       "Array Catalog",
		Description: "Event catalog expressed as an array of entry objects.",
		Items:       entrySchema,
	}

	objectSchema := &jsonschema.Schema{
		Type:                 "object",
		Title:                "Object Catalog",
		Description:          "Event catalog expressed as an object keyed by entry ID.",
		AdditionalProperties: entrySchema,
	}

	root := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Raceline Event Catalog",
		Description: "Designer-authored event definitions consumed by the race scheduler and applier.",
		OneOf: []*jsonschema.Schema{
			arraySchema,
			objectSchema,
		},
	}

	return root, nil
}
