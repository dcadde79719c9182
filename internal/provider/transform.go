package provider

import (
	"strconv"
	"strings"

	"github.com/ssfun/ip-check/internal/ipc"
)

// Payload traversal helpers.  Provider responses are decoded into untyped
// maps, and the transforms must tolerate any shape deviation, so all helpers
// return zero values instead of panicking.

// dig returns the nested value at path or nil.
func dig(body map[string]any, path ...string) (v any) {
	v = any(body)
	for _, p := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}

		v = m[p]
	}

	return v
}

// digString returns the nested string at path, or "".
func digString(body map[string]any, path ...string) (s string) {
	s, _ = dig(body, path...).(string)

	return s
}

// digFloat returns the nested number at path.  ok is false when it is
// missing or not a number.
func digFloat(body map[string]any, path ...string) (f float64, ok bool) {
	f, ok = dig(body, path...).(float64)

	return f, ok
}

// digBool returns the nested bool at path, or false.
func digBool(body map[string]any, path ...string) (v bool) {
	v, _ = dig(body, path...).(bool)

	return v
}

// digMap returns the nested object at path, or nil.
func digMap(body map[string]any, path ...string) (m map[string]any) {
	m, _ = dig(body, path...).(map[string]any)

	return m
}

// asnString formats v as a textual ASN with the "AS" prefix.  v may be a
// JSON number or a string, with or without the prefix.  It returns "" when v
// holds neither.
func asnString(v any) (asn string) {
	switch v := v.(type) {
	case float64:
		return "AS" + strconv.FormatInt(int64(v), 10)
	case string:
		if v == "" {
			return ""
		}

		if strings.HasPrefix(v, "AS") || strings.HasPrefix(v, "as") {
			return "AS" + v[2:]
		}

		return "AS" + v
	default:
		return ""
	}
}

// parseFloat parses s as a float64, ignoring surrounding whitespace.
func parseFloat(s string) (f float64, err error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// setStr adds a non-empty string value to data.
func setStr(data ipc.Map, key, val string) {
	if val != "" {
		data[key] = val
	}
}

// setFloat adds a number value to data when ok.
func setFloat(data ipc.Map, key string, val float64, ok bool) {
	if ok {
		data[key] = val
	}
}
