package mapping

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/metahub/payload"
)

// Apply transforms a payload according to the mapping. It returns an error
// only for structurally invalid mappings; data problems are reported as
// warnings on the PartialResult.
func Apply(m *Mapping, doc any) (*PartialResult, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}

	switch m.Mode {
	case ModeFieldMap:
		return applyFieldMap(m, doc), nil
	case ModeTemplate:
		return applyTemplate(m, doc), nil
	default:
		return nil, fmt.Errorf("unknown mapping mode %q", m.Mode)
	}
}

func applyFieldMap(m *Mapping, doc any) *PartialResult {
	result := &PartialResult{}

	out := payload.Document{}
	if m.PassThrough {
		if src, ok := doc.(payload.Document); ok {
			out = payload.DeepCopy(src).(payload.Document)
		} else {
			result.Warnings = append(result.Warnings, "pass_through requires an object payload; starting empty")
		}
	}

	for i, rule := range m.Rules {
		val, present := payload.Resolve(doc, rule.SourcePath)
		if !present {
			if rule.DefaultValue == nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("rule %d: %s not found", i, rule.SourcePath))
				continue
			}
			val = rule.DefaultValue
		}

		if rule.Transform != "" {
			transformed, ok := transforms[rule.Transform](val)
			if !ok {
				if rule.DefaultValue == nil {
					result.Warnings = append(result.Warnings, fmt.Sprintf("rule %d: transform %s produced no value", i, rule.Transform))
					continue
				}
				transformed = rule.DefaultValue
			}
			val = transformed
		}

		if rule.Condition != "" && !evalCondition(rule.Condition, doc) {
			continue
		}

		if err := payload.Write(out, rule.TargetPath, val); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("rule %d: %v", i, err))
		}
	}

	mergeStatic(out, m.StaticFields, m.PassThrough)
	result.Output = out
	return result
}

// mergeStatic shallow-merges static fields. Static wins over computed fields
// except in pass_through mode, where computed values are preserved.
func mergeStatic(out, static payload.Document, passThrough bool) {
	for k, v := range static {
		if passThrough {
			if _, exists := out[k]; exists {
				continue
			}
		}
		out[k] = v
	}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([^}\s]+)\s*\}\}`)

func applyTemplate(m *Mapping, doc any) *PartialResult {
	result := &PartialResult{}

	rendered := placeholderRe.ReplaceAllStringFunc(m.Template, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		val, present := payload.Resolve(doc, path)
		if !present {
			result.Warnings = append(result.Warnings, fmt.Sprintf("template: %s not found", path))
			return ""
		}
		return payload.Stringify(val)
	})

	// The rendered text becomes a JSON value when it parses as one, else a
	// plain string. Static fields only apply to a parsed object.
	trimmed := strings.TrimSpace(rendered)
	var parsed any
	if trimmed != "" && json.Unmarshal([]byte(trimmed), &parsed) == nil {
		if obj, ok := parsed.(payload.Document); ok && len(m.StaticFields) > 0 {
			mergeStatic(obj, m.StaticFields, true)
		}
		result.Output = parsed
		return result
	}

	result.Output = rendered
	return result
}
