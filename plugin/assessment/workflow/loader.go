package workflow

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed standard.yaml
var standardYAML []byte

// Parse decodes and validates a workflow definition from YAML (or JSON) bytes.
func Parse(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("workflow: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("workflow: decode definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadFile loads a workflow definition from an explicit file path.
func LoadFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	def, err := Parse(content)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return def, nil
}

// Standard returns the built-in clinical intake workflow.
func Standard() (Definition, error) {
	return Parse(standardYAML)
}

// Load reads path, or the standard workflow when path is empty.
func Load(path string) (Definition, error) {
	if path == "" {
		return Standard()
	}
	return LoadFile(path)
}
