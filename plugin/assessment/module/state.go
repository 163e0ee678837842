package module

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Working state round-trips through JSON between turns, so numbers come back
// as float64 and lists as []any. These helpers accept both shapes.

func intValue(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	}
	return 0
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func boolValue(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringsValue(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func mapValue(data map[string]any, key string) map[string]any {
	if m, ok := data[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	data[key] = m
	return m
}

// appendUnique merges values into the string list stored under key, sorted.
func appendUnique(data map[string]any, key string, values ...string) {
	if len(values) == 0 {
		return
	}
	seen := map[string]bool{}
	var merged []string
	for _, s := range append(stringsValue(data[key]), values...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		merged = append(merged, s)
	}
	sort.Strings(merged)
	data[key] = merged
}

func resetState(st *State) {
	for k := range st.Data {
		delete(st.Data, k)
	}
}

// decodeConfig copies a loosely typed Config into a typed struct via YAML tags.
func decodeConfig(cfg Config, out any) error {
	if len(cfg) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(map[string]any(cfg))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
