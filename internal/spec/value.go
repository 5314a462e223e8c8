package spec

import (
	"fmt"
	"strconv"
)

// Value is the closed union of variable values captured during a run.
// The union is deliberately small: strings, 64-bit integers, floats,
// and booleans cover everything a driver can return.
type Value interface {
	valueMarker()
	String() string
}

// String is a string value.
type String string

// Int is a 64-bit integer value.
type Int int64

// Float is a 64-bit floating point value.
type Float float64

// Bool is a boolean value.
type Bool bool

func (String) valueMarker() {}
func (Int) valueMarker()    {}
func (Float) valueMarker()  {}
func (Bool) valueMarker()   {}

func (v String) String() string { return string(v) }
func (v Int) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Float) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }

// Env is a named variable environment. Invariants and guards are
// evaluated against a snapshot of an Env; evaluation never mutates it.
type Env map[string]Value

// Clone returns an independent copy of the environment.
func (e Env) Clone() Env {
	if e == nil {
		return nil
	}
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// ToValue converts a plain Go value into a Value.
// Used at the boundary where YAML/CUE/driver data enters the model.
func ToValue(v any) (Value, error) {
	switch val := v.(type) {
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float64:
		return Float(val), nil
	case float32:
		return Float(val), nil
	case bool:
		return Bool(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// ToEnv converts a plain map into an Env.
func ToEnv(m map[string]any) (Env, error) {
	if m == nil {
		return nil, nil
	}
	env := make(Env, len(m))
	for k, v := range m {
		val, err := ToValue(v)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", k, err)
		}
		env[k] = val
	}
	return env, nil
}

// Truthy reports whether a value counts as success for a wait condition.
// Booleans report their own value; everything else must be non-zero or
// non-empty.
func Truthy(v Value) bool {
	switch val := v.(type) {
	case Bool:
		return bool(val)
	case Int:
		return val != 0
	case Float:
		return val != 0
	case String:
		return val != ""
	default:
		return false
	}
}

// Equal reports deep equality between two values. Int and Float compare
// numerically so a driver returning 3 matches an expected 3.0.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aok := numeric(a)
	bn, bok := numeric(b)
	if aok && bok {
		return an == bn
	}
	return a == b
}

func numeric(v Value) (float64, bool) {
	switch val := v.(type) {
	case Int:
		return float64(val), true
	case Float:
		return float64(val), true
	default:
		return 0, false
	}
}
