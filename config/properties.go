package config

import (
	"fmt"
	"strconv"
)

// StringProperty returns the value of key as a string. It fails when the key
// is absent or the value is not string-like.
func StringProperty(props map[string]any, key string) (string, error) {
	v, ok := props[key]
	if !ok || v == nil {
		return "", fmt.Errorf("property %q is required", key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// IntProperty returns the value of key as an int. YAML and JSON decoders
// produce different numeric types for the same document, so all of them are
// accepted; anything else fails.
func IntProperty(props map[string]any, key string) (int, error) {
	v, ok := props[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("property %q is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("property %q: expected integer, got %v", key, v)
		}
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("property %q: expected integer, got %q", key, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("property %q: expected integer, got %T", key, v)
	}
}

// TakeString reads key as a string and removes it from props, so the
// remaining bag can be forwarded verbatim to an underlying client builder.
func TakeString(props map[string]any, key string) (string, error) {
	s, err := StringProperty(props, key)
	delete(props, key)
	return s, err
}

// TakeOptionalString behaves like TakeString but returns "" without error
// when the key is absent.
func TakeOptionalString(props map[string]any, key string) (string, error) {
	if _, ok := props[key]; !ok {
		return "", nil
	}
	return TakeString(props, key)
}

// TakeInt reads key as an int and removes it from props.
func TakeInt(props map[string]any, key string) (int, error) {
	n, err := IntProperty(props, key)
	delete(props, key)
	return n, err
}

// Properties flattens a property bag into string form for pass-through
// consumption by clients that parse their own configuration from key/value
// pairs.
func Properties(props map[string]any) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
