package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/specterhq/specter/internal/spec"
)

// marshalEnv serializes a variable environment to canonical JSON.
// A nil environment serializes as an empty object so the column is
// never null.
func marshalEnv(env spec.Env) (string, error) {
	if env == nil {
		env = spec.Env{}
	}
	b, err := spec.MarshalCanonical(env)
	if err != nil {
		return "", fmt.Errorf("marshal env: %w", err)
	}
	return string(b), nil
}

// unmarshalEnv reads a stored environment back. Integral numbers come
// back as Int, everything else with a fraction or exponent as Float.
func unmarshalEnv(data string) (spec.Env, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal env: %w", err)
	}

	env := make(spec.Env, len(raw))
	for k, v := range raw {
		val, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("unmarshal env: variable %q: %w", k, err)
		}
		env[k] = val
	}
	return env, nil
}

func toValue(v any) (spec.Value, error) {
	switch val := v.(type) {
	case string:
		return spec.String(val), nil
	case bool:
		return spec.Bool(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return spec.Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", val, err)
		}
		return spec.Float(f), nil
	default:
		return nil, fmt.Errorf("unsupported stored value type %T", v)
	}
}

// marshalPath serializes the visited-state list.
func marshalPath(path []string) (string, error) {
	if path == nil {
		path = []string{}
	}
	b, err := spec.MarshalCanonical(path)
	if err != nil {
		return "", fmt.Errorf("marshal path: %w", err)
	}
	return string(b), nil
}

func unmarshalPath(data string) ([]string, error) {
	var path []string
	if err := json.Unmarshal([]byte(data), &path); err != nil {
		return nil, fmt.Errorf("unmarshal path: %w", err)
	}
	return path, nil
}
