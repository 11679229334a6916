package common

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema constrains the decoded configuration. Durations are encoded
// by encoding/json as integer nanoseconds.
func configSchema() map[string]any {
	positiveInt := map[string]any{"type": "integer", "minimum": 1}
	nonNegInt := map[string]any{"type": "integer", "minimum": 0}
	nonEmpty := map[string]any{"type": "string", "minLength": 1}

	return map[string]any{
		"type":     "object",
		"required": []string{"server", "pipeline", "ocr", "tools", "storage", "log"},
		"properties": map[string]any{
			"server": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"max_upload_bytes": positiveInt,
					"shutdown_timeout": positiveInt,
				},
			},
			"pipeline": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"workers":         map[string]any{"type": "integer", "minimum": 1, "maximum": 256},
					"batch_retention": positiveInt,
					"preview_length":  positiveInt,
				},
			},
			"ocr": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"language":          map[string]any{"type": "string", "pattern": `^[a-z_]{3,}(\+[a-z_]{3,})*$`},
					"jobs":              positiveInt,
					"tesseract_timeout": positiveInt,
					"timeout":           positiveInt,
					// 0 disables; ocrmypdf rejects limits under 100
					"downsample_above": map[string]any{"anyOf": []any{
						map[string]any{"const": 0},
						map[string]any{"type": "integer", "minimum": 100, "maximum": 32767},
					}},
				},
			},
			"tools": map[string]any{
				"type":     "object",
				"required": []string{"ocrmypdf", "img2pdf", "libreoffice", "pdftotext", "pdfinfo"},
				"properties": map[string]any{
					"ocrmypdf":            nonEmpty,
					"img2pdf":             nonEmpty,
					"libreoffice":         nonEmpty,
					"pdftotext":           nonEmpty,
					"pdfinfo":             nonEmpty,
					"convert_timeout":     positiveInt,
					"extract_timeout":     positiveInt,
					"max_image_dimension": nonNegInt,
				},
			},
			"storage": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"artifact_backend": map[string]any{"type": "string", "enum": []string{"memory", "sqlite"}},
				},
			},
			"log": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"level":  map[string]any{"type": "string", "enum": []string{"debug", "info", "warn", "error"}},
					"format": map[string]any{"type": "string", "enum": []string{"text", "json"}},
				},
			},
		},
	}
}

// ValidateConfigSchema validates the configuration against configSchema.
func ValidateConfigSchema(cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return ValidateJSONAgainstSchema(configSchema(), data)
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
