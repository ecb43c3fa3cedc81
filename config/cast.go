package config

import (
	"fmt"
	"reflect"

	"github.com/golobby/cast"
)

// Value pulls a typed value out of an opaque plugin configuration map.
// Values of the wrong dynamic type are converted through their string
// form, so "8080", 8080 and 8080.0 all satisfy a request for int.
func Value[T any](extra map[string]interface{}, key string) (T, bool, error) {
	var zero T
	raw, ok := extra[key]
	if !ok {
		return zero, false, nil
	}
	if typed, ok := raw.(T); ok {
		return typed, true, nil
	}
	converted, err := cast.FromType(fmt.Sprint(raw), reflect.TypeOf(zero))
	if err != nil {
		return zero, true, fmt.Errorf("config key %q: %w", key, err)
	}
	typed, ok := converted.(T)
	if !ok {
		return zero, true, fmt.Errorf("config key %q: cannot convert %T", key, raw)
	}
	return typed, true, nil
}

// ValueOr returns the typed value for key, or fallback when the key is
// absent or not convertible.
func ValueOr[T any](extra map[string]interface{}, key string, fallback T) T {
	v, ok, err := Value[T](extra, key)
	if !ok || err != nil {
		return fallback
	}
	return v
}
