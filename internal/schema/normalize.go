package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/formkit/internal/expr"
)

// Normalize rewrites a raw schema into its canonical shape, in place:
//
//   - inline validation rule objects are hoisted into the central
//     registry under a stable generated id (field name + ordinal) and
//     replaced by id references;
//   - "required" semantics expressed as validation rules are detected
//     and folded into FieldDefinition.Required;
//   - every field with a formula gets a synthetic computation rule
//     registered as RULE_COMPUTE_<FIELD> with an explicit target.
//
// Normalization is idempotent: an already-normalized schema is
// returned unchanged.
func Normalize(s *Schema) error {
	if s == nil {
		return NewMalformedError("nil schema")
	}
	if s.Normalized {
		return nil
	}
	if s.Fields == nil {
		return NewMalformedError("schema has no fields")
	}

	ensureRuleMaps(s)

	for _, fieldID := range sortedFieldIDs(s) {
		field := s.Fields[fieldID]
		if field == nil {
			return &SchemaError{Code: ErrCodeFieldInvalid, Message: "nil field definition", Field: fieldID}
		}
		if field.ID == "" {
			field.ID = fieldID
		}

		if err := hoistInlineRules(s, field); err != nil {
			return err
		}
		detectRequired(s, field)

		if field.Formula != nil {
			registerFormulaRule(s, field)
			field.Computed = true
		}
	}

	s.Normalized = true
	return nil
}

func ensureRuleMaps(s *Schema) {
	if s.Rules.Validation == nil {
		s.Rules.Validation = make(map[string]*Rule)
	}
	if s.Rules.Computation == nil {
		s.Rules.Computation = make(map[string]*Rule)
	}
	if s.Rules.BusinessLogic == nil {
		s.Rules.BusinessLogic = make(map[string]*Rule)
	}
}

func sortedFieldIDs(s *Schema) []string {
	ids := make([]string, 0, len(s.Fields))
	for id := range s.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// hoistInlineRules moves a field's inline rule objects into the
// central validation registry, generating a stable id per rule.
func hoistInlineRules(s *Schema, field *FieldDefinition) error {
	for i := range field.Validation {
		ref := &field.Validation[i]
		if ref.Inline == nil {
			continue
		}
		rule := ref.Inline
		if rule.Expression == nil || rule.Expression.Node == nil {
			return &SchemaError{
				Code:    ErrCodeRuleInvalid,
				Message: "inline validation rule has no expression",
				Field:   field.ID,
			}
		}
		if rule.ID == "" {
			rule.ID = GenerateRuleID(field.ID, i)
		}
		if rule.Kind == "" {
			rule.Kind = KindValidation
		}
		if rule.TargetField == "" {
			rule.TargetField = field.ID
		}
		s.Rules.Validation[rule.ID] = rule
		*ref = RuleRef{ID: rule.ID}
	}
	return nil
}

// GenerateRuleID derives the stable registry id for the ordinal-th
// inline rule of a field.
func GenerateRuleID(fieldID string, ordinal int) string {
	return fmt.Sprintf("RULE_%s_%d", canonicalFieldToken(fieldID), ordinal+1)
}

// ComputationRuleID is the id of the synthetic computation rule
// registered for a formula field.
func ComputationRuleID(fieldID string) string {
	return "RULE_COMPUTE_" + canonicalFieldToken(fieldID)
}

// canonicalFieldToken upper-cases a field id and folds separators to
// underscores so generated ids are stable across producer spellings.
func canonicalFieldToken(fieldID string) string {
	var sb strings.Builder
	for _, r := range fieldID {
		switch {
		case r >= 'a' && r <= 'z':
			sb.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// requiredForms are the textual shapes recognized as "this field must
// be present": `field != null`, `field != ”`, `TRIM(field) != ”`,
// with loose or strict inequality, case-insensitively.
//
// This is a heuristic adapter for legacy schemas; an explicit
// `required: true` on the field always wins and is never cleared.
func requiredForms(fieldID string) *regexp.Regexp {
	f := regexp.QuoteMeta(fieldID)
	pattern := `(?i)^\s*(?:TRIM\(\s*` + f + `\s*\)|` + f + `)\s*!==?\s*(?:null|''|"")\s*$`
	return regexp.MustCompile(pattern)
}

func detectRequired(s *Schema, field *FieldDefinition) {
	if field.Required {
		return
	}
	form := requiredForms(field.ID)
	for _, ruleID := range field.ValidationRuleIDs() {
		rule := s.Rules.Validation[ruleID]
		if rule == nil {
			continue
		}
		if form.MatchString(ruleText(rule)) {
			field.Required = true
			return
		}
	}
}

// ruleText is the rule's surface form: the text the producer carried,
// or a rendering of the expression tree.
func ruleText(rule *Rule) string {
	if rule.Text != "" {
		return rule.Text
	}
	if rule.Expression != nil && rule.Expression.Node != nil {
		return expr.Format(rule.Expression.Node)
	}
	return ""
}

func registerFormulaRule(s *Schema, field *FieldDefinition) {
	id := ComputationRuleID(field.ID)
	if _, exists := s.Rules.Computation[id]; exists {
		return
	}
	s.Rules.Computation[id] = &Rule{
		ID:          id,
		Kind:        KindComputation,
		Expression:  field.Formula,
		Name:        "Compute " + field.ID,
		TargetField: field.ID,
	}
}
