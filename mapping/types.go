// Package mapping implements the declarative JSON-to-JSON transformation
// applied to inbound payloads before delivery. The engine is pure: no I/O,
// no clock, and bad data produces warnings rather than errors.
package mapping

import (
	"fmt"

	"github.com/c360studio/metahub/payload"
)

// Mode selects how a mapping produces its output.
type Mode string

const (
	// ModeFieldMap builds the output from per-field rules.
	ModeFieldMap Mode = "field_map"
	// ModeTemplate renders a textual template with {{path}} placeholders.
	ModeTemplate Mode = "template"
)

// SourceType hints which inbound source a mapping was written for. Editor
// assistance only; the engine does not branch on it.
type SourceType string

const (
	SourceWhatsApp SourceType = "whatsapp"
	SourceForms    SourceType = "forms"
	SourceAds      SourceType = "ads"
	SourceWebhook  SourceType = "webhook"
	SourceAny      SourceType = "any"
)

// Rule maps one source path to one target path.
type Rule struct {
	// SourcePath is a dotted path with optional [n] indices into the
	// inbound payload.
	SourcePath string `json:"source_path"`
	// TargetPath is a dotted path into the output object.
	TargetPath string `json:"target_path"`
	// Transform names an entry of the transform table. Empty means none.
	Transform string `json:"transform,omitempty"`
	// DefaultValue is used when the source path resolves to nothing.
	DefaultValue any `json:"default_value,omitempty"`
	// Condition gates the rule. See condition.go for the grammar.
	Condition string `json:"condition,omitempty"`
}

// Mapping is a reusable transformation definition.
type Mapping struct {
	ID           string           `json:"id,omitempty"`
	WorkspaceID  string           `json:"workspace_id,omitempty"`
	Name         string           `json:"name,omitempty"`
	Mode         Mode             `json:"mode"`
	Rules        []Rule           `json:"rules,omitempty"`
	Template     string           `json:"template,omitempty"`
	StaticFields payload.Document `json:"static_fields,omitempty"`
	PassThrough  bool             `json:"pass_through,omitempty"`
	SourceType   SourceType       `json:"source_type,omitempty"`
}

// Validate checks the mapping for structural problems. Data problems are
// never structural; they surface as warnings during Apply.
func (m *Mapping) Validate() error {
	switch m.Mode {
	case ModeFieldMap:
		if m.Template != "" {
			return fmt.Errorf("template is not allowed in field_map mode")
		}
		for i, r := range m.Rules {
			if r.SourcePath == "" {
				return fmt.Errorf("rule %d: source_path is required", i)
			}
			if r.TargetPath == "" {
				return fmt.Errorf("rule %d: target_path is required", i)
			}
			if r.Transform != "" {
				if _, ok := transforms[r.Transform]; !ok {
					return fmt.Errorf("rule %d: unknown transform %q", i, r.Transform)
				}
			}
		}
	case ModeTemplate:
		if m.Template == "" {
			return fmt.Errorf("template is required in template mode")
		}
	default:
		return fmt.Errorf("unknown mapping mode %q", m.Mode)
	}
	return nil
}

// PartialResult is the outcome of applying a mapping: the transformed value
// plus warnings for every rule that was skipped over bad data.
type PartialResult struct {
	Output   any      `json:"output"`
	Warnings []string `json:"warnings,omitempty"`
}
