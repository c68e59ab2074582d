package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	configschema "github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/schema"
)

func validateConfigSchema(name, schemaPath string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	schemaBytes, err := configSchemaFS.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("load %s schema: %w", name, err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse %s config: %w", name, err)
	}
	if payload == nil {
		return nil
	}
	// yaml decodes integers as int; the validator wants JSON numbers.
	doc, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s config: %w", name, err)
	}
	schemaID := strings.ReplaceAll(name, " ", "-")
	if err := configschema.ValidateSchema(schemaID, schemaBytes, doc); err != nil {
		return fmt.Errorf("validate %s config: %w", name, err)
	}
	return nil
}
