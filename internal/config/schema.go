// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package config

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the generated config schema.
const SchemaID = "https://webcrumbs.dev/schemas/crumbhost-config.schema.json"

// durationPattern matches the strings accepted by time.ParseDuration.
const durationPattern = `^-?([0-9]+(\.[0-9]*)?(ns|us|µs|ms|s|m|h))+$|^0$`

var (
	schemaOnce     sync.Once
	compiledSchema *jschema.Schema
	errSchema      error
)

// GenerateSchema generates a JSON Schema from the Config struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:        "string",
					Pattern:     durationPattern,
					Description: "Go duration, e.g. 10s or 1m30s",
				}
			}
			return nil
		},
	}
	schema := r.Reflect(&Config{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "crumbhost configuration"
	schema.Description = "Schema for crumbhost config.yaml files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to marshal schema")
	}
	return data, nil
}

// ValidateSchema validates YAML data against the config JSON Schema.
// An empty document is valid.
func ValidateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.In("config").Code(CodeInvalid).Wrapf(err, "invalid YAML")
	}
	if doc == nil {
		return nil
	}

	sch, err := getCompiledSchema()
	if err != nil {
		return err
	}

	if err := sch.Validate(convertToJSONTypes(doc)); err != nil {
		return oops.In("config").Code(CodeInvalid).Wrapf(err, "schema validation failed")
	}
	return nil
}

// getCompiledSchema compiles the generated schema once.
func getCompiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, errSchema = compileSchema()
	})
	return compiledSchema, errSchema
}

func compileSchema() (*jschema.Schema, error) {
	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to parse schema JSON")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to add schema resource")
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to compile schema")
	}
	return sch, nil
}

// convertToJSONTypes converts YAML-decoded values to the types the schema
// validator understands. Non-string map keys are stringified.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = convertToJSONTypes(v)
		}
		return result
	case map[any]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			key, _ := json.Marshal(k)
			result[strings.Trim(string(key), `"`)] = convertToJSONTypes(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = convertToJSONTypes(v)
		}
		return result
	case string, int, int64, float64, bool, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var result any
			if err := json.Unmarshal(b, &result); err == nil {
				return result
			}
		}
		return val
	}
}

// FormatSchemaError strips the wrapping prefix from a schema error.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
