package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/formkit/internal/expr"
)

// RuleKind partitions the rule registry.
type RuleKind string

const (
	// KindValidation rules run locally and gate field values.
	KindValidation RuleKind = "validation"
	// KindComputation rules derive field values; the remote authority
	// owns their authoritative execution.
	KindComputation RuleKind = "computation"
	// KindBusinessLogic rules run only on the remote authority.
	KindBusinessLogic RuleKind = "businessLogic"
)

// ValidRuleKinds defines allowed rule kinds.
var ValidRuleKinds = map[RuleKind]bool{
	KindValidation:    true,
	KindComputation:   true,
	KindBusinessLogic: true,
}

// Wildcard matches every field in a role permission list.
const Wildcard = "*"

// Rule is one entry in the central rule registry. After normalization
// rules are referenced by id from field definitions, never embedded.
type Rule struct {
	ID          string     `json:"id"`
	Kind        RuleKind   `json:"kind"`
	Expression  *expr.Tree `json:"expression"`
	Text        string     `json:"text,omitempty"` // surface form, when the producer carries one
	Message     string     `json:"message,omitempty"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`

	// TargetField makes the rule-to-field link explicit. Synthetic
	// computation rules always set it; for legacy schemas that omit
	// it the mapping falls back to name inference.
	TargetField string `json:"targetField,omitempty"`
}

// RuleRef is a field's reference to a validation rule: either an id
// into the registry or, before normalization, an inline rule object.
type RuleRef struct {
	ID     string
	Inline *Rule
}

// UnmarshalJSON accepts both wire forms, dispatching on the first byte.
func (r *RuleRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty rule reference")
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	r.Inline = &Rule{}
	if err := json.Unmarshal(data, r.Inline); err != nil {
		return fmt.Errorf("decode inline rule: %w", err)
	}
	return nil
}

// MarshalJSON emits the id form once normalized, the inline form otherwise.
func (r RuleRef) MarshalJSON() ([]byte, error) {
	if r.Inline != nil {
		return json.Marshal(r.Inline)
	}
	return json.Marshal(r.ID)
}

// ValueSource describes where a field's selectable values come from:
// a static option list or a referenced record source.
type ValueSource struct {
	Options   []Option `json:"options,omitempty"`
	Reference string   `json:"reference,omitempty"`
}

// Option is one static selectable value.
type Option struct {
	Value any    `json:"value"`
	Label string `json:"label,omitempty"`
}

// FieldDefinition describes one field of the record shape.
//
// Invariant: a field with Computed=true or a non-nil Formula never
// accepts direct user edits; the permission calculator and the sync
// protocol's outgoing-diff filter both enforce this.
type FieldDefinition struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Required     bool         `json:"required,omitempty"`
	Unique       bool         `json:"unique,omitempty"`
	DefaultValue *expr.Tree   `json:"defaultValue,omitempty"`
	Formula      *expr.Tree   `json:"formula,omitempty"`
	Computed     bool         `json:"computed,omitempty"`
	Validation   []RuleRef    `json:"validation,omitempty"`
	ValueSource  *ValueSource `json:"valueSource,omitempty"`
	Description  string       `json:"description,omitempty"`
}

// ValidationRuleIDs returns the field's validation rule ids. Before
// normalization inline entries have no id and are skipped.
func (f *FieldDefinition) ValidationRuleIDs() []string {
	ids := make([]string, 0, len(f.Validation))
	for _, ref := range f.Validation {
		if ref.ID != "" {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// IsComputed reports whether the field is derived rather than edited.
func (f *FieldDefinition) IsComputed() bool {
	return f.Computed || f.Formula != nil
}

// RuleSet is the central rule registry, partitioned by kind.
type RuleSet struct {
	Validation    map[string]*Rule `json:"validation,omitempty"`
	Computation   map[string]*Rule `json:"computation,omitempty"`
	BusinessLogic map[string]*Rule `json:"businessLogic,omitempty"`
}

// RoleGrant lists the fields a role may edit or read. The wildcard
// "*" stands for every field.
type RoleGrant struct {
	Editable []string `json:"editable,omitempty"`
	ReadOnly []string `json:"readOnly,omitempty"`
}

// Schema is the record-shape description: fields, the rule registry,
// and role-based field permissions.
type Schema struct {
	ID              string                      `json:"id,omitempty"`
	Fields          map[string]*FieldDefinition `json:"fields"`
	Rules           RuleSet                     `json:"rules,omitempty"`
	RolePermissions map[string]RoleGrant        `json:"rolePermissions,omitempty"`

	// Normalized marks a schema that has been through Normalize;
	// normalization is idempotent and must not be re-applied.
	Normalized bool `json:"normalized,omitempty"`
}

// Field returns the definition for id, or nil.
func (s *Schema) Field(id string) *FieldDefinition {
	return s.Fields[id]
}

// Rule looks the id up across all three registry partitions.
func (s *Schema) Rule(id string) *Rule {
	if r, ok := s.Rules.Validation[id]; ok {
		return r
	}
	if r, ok := s.Rules.Computation[id]; ok {
		return r
	}
	if r, ok := s.Rules.BusinessLogic[id]; ok {
		return r
	}
	return nil
}

// ComputedFieldIDs returns the sorted ids of derived fields.
func (s *Schema) ComputedFieldIDs() []string {
	var ids []string
	for id, f := range s.Fields {
		if f.IsComputed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RequiredFieldIDs returns the sorted ids of required fields.
func (s *Schema) RequiredFieldIDs() []string {
	var ids []string
	for id, f := range s.Fields {
		if f.Required {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// FieldPermission is the derived per-field permission triple.
// Recomputed whenever role or schema changes; never persisted.
type FieldPermission struct {
	Editable bool `json:"editable"`
	Readable bool `json:"readable"`
	Hidden   bool `json:"hidden"`
}
