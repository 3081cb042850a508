package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a plan from the given file path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json for JSON.
// If the extension is unrecognized, YAML is attempted first, then JSON.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plan file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading plan: %s", path)
		}
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads and validates a plan from an io.Reader.
func LoadFromReader(r io.Reader, path string) (*Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a plan from raw bytes.
//
// The raw document is validated against the schema before it is decoded, so
// unknown fields are rejected rather than silently dropped.
func LoadFromBytes(data []byte, path string) (*Plan, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("plan file is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var p Plan
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if err := checkStructure(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Encode renders the plan in the format implied by path's extension. YAML is
// the default.
func Encode(p *Plan, path string) ([]byte, error) {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		b, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal plan: %w", err)
		}
		return append(b, '\n'), nil
	}
	b, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	return b, nil
}

// toJSON converts the input to JSON for schema validation. The typed decode
// also goes through JSON so YAML and JSON plans share one set of field names.
func toJSON(data []byte, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in plan: %w", err)
		}
		return data, nil
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse plan (tried YAML and JSON): %w", err)
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in plan: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert plan to JSON: %w", err)
	}
	return jsonData, nil
}
