package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fixture mirrors the dev fixture file. Only the data tree is read here;
// accounts are loaded by the development identity provider.
type fixture struct {
	Data map[string]interface{} `yaml:"data"`
}

// LoadFile builds a store seeded with the data tree of a YAML fixture.
func LoadFile(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return LoadYAML(raw)
}

func LoadYAML(raw []byte) (*Store, error) {
	var f fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	s := New()
	if err := s.Load(stringKeys(f.Data).(map[string]interface{})); err != nil {
		return nil, fmt.Errorf("load fixture: %w", err)
	}
	return s, nil
}

// stringKeys rewrites YAML mappings with non-string keys (numeric aadhaar
// ids, for instance) into JSON-compatible maps.
func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[k] = stringKeys(child)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = stringKeys(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = stringKeys(child)
		}
		return out
	case nil:
		return map[string]interface{}{}
	}
	return v
}
