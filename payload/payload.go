// Package payload provides the tagged JSON value shared between the mapping
// engine and the HTTP layer: decode, path resolution and path writes over
// plain map[string]any / []any trees.
package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is a decoded JSON object.
type Document = map[string]any

// Decode parses raw JSON into a generic value tree.
func Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// DecodeObject parses raw JSON and requires a top-level object.
func DecodeObject(data []byte) (Document, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(Document)
	if !ok {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	return doc, nil
}

// segment is one step of a parsed path: a key or an array index.
type segment struct {
	key   string
	index int
	isIdx bool
}

// parsePath splits a dotted path with optional [n] indices into segments.
// "entry[0].changes[0].value" → entry, [0], changes, [0], value.
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("invalid path %q: empty segment", path)
		}
		for {
			open := strings.IndexByte(part, '[')
			if open == -1 {
				segs = append(segs, segment{key: part})
				break
			}
			if open > 0 {
				segs = append(segs, segment{key: part[:open]})
			}
			close := strings.IndexByte(part, ']')
			if close < open {
				return nil, fmt.Errorf("invalid path %q: unbalanced brackets", path)
			}
			idx, err := strconv.Atoi(part[open+1 : close])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid path %q: bad index", path)
			}
			segs = append(segs, segment{index: idx, isIdx: true})
			part = part[close+1:]
			if part == "" {
				break
			}
		}
	}
	return segs, nil
}

// Resolve walks a path through a decoded JSON tree. The second return is
// false when any segment is missing, the index is out of bounds, or the
// path itself is malformed.
func Resolve(doc any, path string) (any, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}
	cur := doc
	for _, s := range segs {
		if s.isIdx {
			arr, ok := cur.([]any)
			if !ok || s.index >= len(arr) {
				return nil, false
			}
			cur = arr[s.index]
			continue
		}
		obj, ok := cur.(Document)
		if !ok {
			return nil, false
		}
		cur, ok = obj[s.key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Write sets a value at a dotted target path, creating intermediate objects
// as needed. Array indices are not supported on the write side; an existing
// scalar in the middle of the path is overwritten with a fresh object.
func Write(doc Document, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty target path")
	}
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts {
		if part == "" {
			return fmt.Errorf("invalid target path %q: empty segment", path)
		}
		if i == len(parts)-1 {
			cur[part] = value
			return nil
		}
		next, ok := cur[part].(Document)
		if !ok {
			next = Document{}
			cur[part] = next
		}
		cur = next
	}
	return nil
}

// Stringify renders a value the way templates expect: strings verbatim,
// numbers without a trailing ".0" when integral, everything else as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// DeepCopy copies a decoded JSON tree. Values outside the JSON variant set
// are shared, which is safe because decoded trees never contain them.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case Document:
		out := make(Document, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}
