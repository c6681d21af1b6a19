package dmx

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// JSON numbers decode as float64. Strings are accepted too so values such as
// "0x0082" can be written the way RDM documentation lists them.

func requireString(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParameter, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParameter, key)
	}
	return s, nil
}

func requireInt(params map[string]any, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameter, key)
	}
	return toInt(key, raw)
}

func requireUint16(params map[string]any, key string) (uint16, error) {
	v, ok, err := optionalUint16(params, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameter, key)
	}
	return v, nil
}

// optionalUint16 returns 0, false when key is absent.
func optionalUint16(params map[string]any, key string) (uint16, bool, error) {
	raw, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	v, err := toInt(key, raw)
	if err != nil {
		return 0, false, err
	}
	if v < 0 || v > math.MaxUint16 {
		return 0, false, fmt.Errorf("%w: %s %d out of range", ErrInvalidParameter, key, v)
	}
	return uint16(v), true, nil
}

func toInt(key string, raw any) (int, error) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParameter, key)
		}
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParameter, key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParameter, key)
	}
}
