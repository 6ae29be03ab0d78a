package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/pollenflow/types"
)

// Coercion helpers tolerate the value shapes produced by YAML decoding and
// by environment-variable overrides (always strings).

func asString(key string, v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", badValue(key, v, "string")
}

func asBool(key string, v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, badValue(key, v, "bool")
		}
		return b, nil
	}
	return false, badValue(key, v, "bool")
}

func asInt(key string, v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t == float64(int(t)) {
			return int(t), nil
		}
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err == nil {
			return i, nil
		}
	}
	return 0, badValue(key, v, "int")
}

func asFloat(key string, v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, badValue(key, v, "float")
}

func asDuration(key string, v any) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err == nil {
			return d, nil
		}
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	}
	return 0, badValue(key, v, "duration")
}

func asStringSlice(key string, v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, el := range t {
			s, ok := el.(string)
			if !ok {
				return nil, badValue(key, v, "string list")
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		// Comma-separated form used by environment overrides.
		parts := strings.Split(t, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
	return nil, badValue(key, v, "string list")
}

func asIntPair(key string, v any) ([2]int, error) {
	var pair [2]int
	switch t := v.(type) {
	case []int:
		if len(t) == 2 {
			return [2]int{t[0], t[1]}, nil
		}
	case []any:
		if len(t) == 2 {
			for i, el := range t {
				n, err := asInt(key, el)
				if err != nil {
					return pair, err
				}
				pair[i] = n
			}
			return pair, nil
		}
	case string:
		parts := strings.Split(t, ",")
		if len(parts) == 2 {
			for i, p := range parts {
				n, err := strconv.Atoi(strings.TrimSpace(p))
				if err != nil {
					return pair, badValue(key, v, "int pair")
				}
				pair[i] = n
			}
			return pair, nil
		}
	}
	return pair, badValue(key, v, "int pair")
}

func badValue(key string, v any, want string) error {
	return types.Errorf(types.CodeInvalidConfiguration,
		"option %q: cannot interpret %v (%T) as %s", key, v, v, want)
}

func unknownOption(prefix, name string) error {
	return types.Errorf(types.CodeInvalidConfiguration,
		"unknown option %q for stage %q", name, prefix)
}
