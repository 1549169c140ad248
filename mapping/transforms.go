package mapping

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/metahub/payload"
)

// transformFunc converts a resolved value. The second return reports whether
// the result is present; absent results fall back to the rule default.
type transformFunc func(v any) (any, bool)

// transforms is the closed transform table. Names are part of the stored
// mapping format and must not change.
var transforms = map[string]transformFunc{
	"uppercase": stringOnly(strings.ToUpper),
	"lowercase": stringOnly(strings.ToLower),
	"trim":      stringOnly(strings.TrimSpace),
	"number":    toNumber,
	"boolean":   toBoolean,
	"string":    toString,
	"date_iso":  toDateISO,
	"json_parse": func(v any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		parsed, err := payload.Decode([]byte(s))
		if err != nil {
			return nil, false
		}
		return parsed, true
	},
	"json_stringify": func(v any) (any, bool) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return string(data), true
	},
	"array_first": func(v any) (any, bool) {
		arr, ok := v.([]any)
		if !ok {
			return v, true // identity on non-arrays
		}
		if len(arr) == 0 {
			return nil, false
		}
		return arr[0], true
	},
	"array_last": func(v any) (any, bool) {
		arr, ok := v.([]any)
		if !ok {
			return v, true
		}
		if len(arr) == 0 {
			return nil, false
		}
		return arr[len(arr)-1], true
	},
	"array_join": func(v any) (any, bool) {
		arr, ok := v.([]any)
		if !ok {
			return v, true
		}
		parts := make([]string, len(arr))
		for i, e := range arr {
			parts[i] = payload.Stringify(e)
		}
		return strings.Join(parts, ","), true
	},
	"phone_clean": phoneClean,
	"email_lower": func(v any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		return strings.ToLower(strings.TrimSpace(s)), true
	},
}

func stringOnly(f func(string) string) transformFunc {
	return func(v any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		return f(s), true
	}
}

func toNumber(v any) (any, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, false
		}
		return t, true
	case bool:
		if t {
			return float64(1), true
		}
		return float64(0), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

func toBoolean(v any) (any, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		case "":
			return nil, false
		}
		return nil, false
	default:
		return nil, false
	}
}

func toString(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	s := payload.Stringify(v)
	if s == "" {
		return nil, false
	}
	return s, true
}

// toDateISO accepts RFC3339 strings, unix seconds and unix milliseconds and
// normalizes to RFC3339 UTC. Values above 1e12 are taken as milliseconds.
func toDateISO(v any) (any, bool) {
	const millisThreshold = 1e12

	emit := func(t time.Time) (any, bool) {
		return t.UTC().Format(time.RFC3339), true
	}

	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return nil, false
		}
		if t >= millisThreshold {
			return emit(time.UnixMilli(int64(t)))
		}
		return emit(time.Unix(int64(t), 0))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, false
		}
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			return emit(parsed)
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return toDateISO(n)
		}
		return nil, false
	default:
		return nil, false
	}
}

func phoneClean(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if plus {
		return "+" + b.String(), true
	}
	return b.String(), true
}
