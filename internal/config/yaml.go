package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// asJSON returns config bytes as JSON, converting from YAML when needed, so
// both formats go through the same strict decoder (DisallowUnknownFields).
//
// The format is decided by extension; unknown extensions are sniffed, where a
// leading '{' means JSON and anything else is treated as YAML.
func asJSON(path string, data []byte) ([]byte, error) {
	if !isYAML(path, data) {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	j, err := json.Marshal(stringifyKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

func isYAML(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	case ".json":
		return false
	}
	head := bytes.TrimLeft(data, " \t\r\n")
	return len(head) > 0 && head[0] != '{'
}

// stringifyKeys rewrites every map key to a string so the YAML tree can be
// JSON-marshaled.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return out
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i, v := range x {
			x[i] = stringifyKeys(v)
		}
		return x
	default:
		return in
	}
}
