package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// String extracts a string result.
func String(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Object asserts a JSON object result.
func Object(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", v)
	}
	return m, nil
}

// HexBig parses a 0x-prefixed or bare hex quantity. An empty value is zero.
func HexBig(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return n, nil
}

// IntBig reads an integer from a decoded JSON number or numeric string.
// A missing value is zero.
func IntBig(v any) (*big.Int, error) {
	var s string
	switch x := v.(type) {
	case nil:
		return new(big.Int), nil
	case json.Number:
		s = x.String()
	case string:
		s = x
	default:
		return nil, fmt.Errorf("unexpected numeric type %T", v)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
