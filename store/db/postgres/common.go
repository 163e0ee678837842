package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/assessment/store"
)

// placeholder returns the n-th positional parameter ($1, $2, ...).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal json column")
	}
	return string(b), nil
}

func marshalReply(reply *store.TurnReply) (string, error) {
	if reply == nil {
		return "", nil
	}
	return marshalJSON(reply)
}

func unmarshalJSON(raw string, v any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errors.Wrap(err, "failed to unmarshal json column")
	}
	return nil
}

func nonNilHistory(history []string) []string {
	if history == nil {
		return []string{}
	}
	return history
}

func nonNilStates(states map[string]map[string]any) map[string]map[string]any {
	if states == nil {
		return map[string]map[string]any{}
	}
	return states
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
