package ipc

import (
	"maps"
	"math"
)

// Map is a flat normalized projection of a provider payload.  The values are
// scalars as produced by encoding/json: string, float64, bool, or nil.  Keys
// are namespaced by the source prefix, except for the intentionally shared
// ones, such as "asn" and "country_code".
type Map map[string]any

// Clone returns a shallow copy of m.
func (m Map) Clone() (c Map) {
	if m == nil {
		return nil
	}

	return maps.Clone(m)
}

// Overlay copies all entries of other into m.  Later overlays win on shared
// keys.  The overlay order is the completion order of the providers within a
// wave and is documented as not semantically significant.
func (m Map) Overlay(other Map) {
	for k, v := range other {
		m[k] = v
	}
}

// String returns the value for key as a string.  ok is false if the key is
// absent, nil, or not a string.
func (m Map) String(key string) (s string, ok bool) {
	s, ok = m[key].(string)

	return s, ok
}

// Float64 returns the value for key as a float64.  ok is false if the key is
// absent, nil, or not a number.
func (m Map) Float64(key string) (f float64, ok bool) {
	f, ok = m[key].(float64)

	return f, ok
}

// Int64 returns the value for key as an int64, truncating the fraction.  ok
// is false if the key is absent, nil, or not a number.
func (m Map) Int64(key string) (n int64, ok bool) {
	f, ok := m[key].(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return int64(f), true
}

// Bool returns the value for key as a bool.  ok is false if the key is
// absent, nil, or not a bool.
func (m Map) Bool(key string) (v, ok bool) {
	v, ok = m[key].(bool)

	return v, ok
}

// NonEmptyString returns the value for key as a string.  ok is false if the
// string is absent or empty.
func (m Map) NonEmptyString(key string) (s string, ok bool) {
	s, ok = m.String(key)

	return s, ok && s != ""
}

// FirstString returns the first non-empty string value among keys.  ok is
// false if none of the keys hold one.
func (m Map) FirstString(keys ...string) (s string, ok bool) {
	for _, key := range keys {
		s, ok = m.NonEmptyString(key)
		if ok {
			return s, true
		}
	}

	return "", false
}
