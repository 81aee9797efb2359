package manifest

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

// Load reads and validates a manifest file. Format follows the extension
// (.yaml/.yml or .json); anything else is tried as YAML, then JSON.
// Relative parameter files resolve against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("manifest file not found: %s", path)
		case os.IsPermission(err):
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	m, err := LoadFromBytes(data, path)
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		m.dir = filepath.Dir(abs)
	} else {
		m.dir = filepath.Dir(path)
	}
	return m, nil
}

// LoadFromReader reads a manifest from r. Relative parameter files resolve
// against the working directory.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes validates the raw document against the schema before decoding,
// so unknown fields are rejected rather than silently dropped.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	doc, err := decodeGeneric(data, path)
	if err != nil {
		return nil, err
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	// Round-trip through JSON so YAML and JSON inputs decode identically.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// decodeGeneric parses data into plain maps, slices and scalars.
func decodeGeneric(data []byte, path string) (any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return decodeJSON(data)
	case ".yaml", ".yml":
		return decodeYAML(data)
	}

	doc, yamlErr := decodeYAML(data)
	if yamlErr == nil {
		return doc, nil
	}
	if doc, err := decodeJSON(data); err == nil {
		return doc, nil
	}
	return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", yamlErr)
}

func decodeJSON(data []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
	}
	return doc, nil
}

func decodeYAML(data []byte) (any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	doc, err := normalizeYAML(doc)
	if err != nil {
		return nil, err
	}
	// Re-decode as JSON so numbers match what the schema validator expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	return decodeJSON(raw)
}

// normalizeYAML converts yaml.v3 output into JSON-compatible values. Mapping
// keys must be strings.
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("invalid YAML in manifest: non-string key %v", k)
			}
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			out[ks] = n
		}
		return out, nil
	case []any:
		for i, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	}
	return v, nil
}
