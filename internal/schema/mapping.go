package schema

import (
	"fmt"
	"sort"
	"strings"
)

// RuleBuckets holds the rule ids attached to one field, by kind.
type RuleBuckets struct {
	Validation    []string
	Computation   []string
	BusinessLogic []string
}

// Mapping is the field-to-rule-id index the form engine drives
// evaluation from.
//
// Rules that could not be linked to any field are excluded from
// Fields and listed in Diagnostics: they will never fire from a field
// trigger, and the caller decides whether that is dead configuration
// or a schema bug worth surfacing.
type Mapping struct {
	Fields      map[string]*RuleBuckets
	Diagnostics []string
}

// BuildFieldRuleMapping links the classified registry to fields.
//
// Validation rules map through the fields' explicit id lists.
// Computation and business-logic rules map through their explicit
// TargetField when present; legacy rules without one go through name
// inference against the computed-field set.
func BuildFieldRuleMapping(s *Schema, cls Classified) Mapping {
	m := Mapping{Fields: make(map[string]*RuleBuckets, len(s.Fields))}
	for id := range s.Fields {
		m.Fields[id] = &RuleBuckets{}
	}

	for _, fieldID := range sortedFieldIDs(s) {
		field := s.Fields[fieldID]
		for _, ruleID := range field.ValidationRuleIDs() {
			if _, ok := cls.Validation[ruleID]; !ok {
				m.Diagnostics = append(m.Diagnostics,
					fmt.Sprintf("field %s references unknown validation rule %s", fieldID, ruleID))
				continue
			}
			m.Fields[fieldID].Validation = append(m.Fields[fieldID].Validation, ruleID)
		}
	}

	computed := s.ComputedFieldIDs()
	for _, ruleID := range sortedRuleIDs(cls.Computation) {
		rule := cls.Computation[ruleID]
		target := resolveTarget(s, rule, computed)
		if target == "" {
			m.Diagnostics = append(m.Diagnostics,
				fmt.Sprintf("computation rule %s matches no field and will never fire", ruleID))
			continue
		}
		m.Fields[target].Computation = append(m.Fields[target].Computation, ruleID)
	}

	for _, ruleID := range sortedRuleIDs(cls.BusinessLogic) {
		rule := cls.BusinessLogic[ruleID]
		target := rule.TargetField
		if target == "" {
			target = inferTarget(rule, allFieldIDs(s))
		}
		if target == "" || s.Fields[target] == nil {
			m.Diagnostics = append(m.Diagnostics,
				fmt.Sprintf("business-logic rule %s matches no field and will never fire", ruleID))
			continue
		}
		m.Fields[target].BusinessLogic = append(m.Fields[target].BusinessLogic, ruleID)
	}

	return m
}

func resolveTarget(s *Schema, rule *Rule, computed []string) string {
	if rule.TargetField != "" {
		if s.Fields[rule.TargetField] != nil {
			return rule.TargetField
		}
		return ""
	}
	return inferTarget(rule, computed)
}

// inferTarget matches a rule to a field by name. The rule id is
// normalized by stripping case and separators and searched for the
// candidate field names, preferring the longest field name so that
// e.g. LowStock is tried before Stock. When no id match exists, the
// rule's name and description text are searched the same way.
func inferTarget(rule *Rule, candidates []string) string {
	byLength := append([]string(nil), candidates...)
	sort.Slice(byLength, func(i, j int) bool {
		if len(byLength[i]) != len(byLength[j]) {
			return len(byLength[i]) > len(byLength[j])
		}
		return byLength[i] < byLength[j]
	})

	ruleKey := matchKey(rule.ID)
	for _, field := range byLength {
		if fk := matchKey(field); fk != "" && strings.Contains(ruleKey, fk) {
			return field
		}
	}

	text := matchKey(rule.Name + " " + rule.Description)
	for _, field := range byLength {
		if fk := matchKey(field); fk != "" && strings.Contains(text, fk) {
			return field
		}
	}
	return ""
}

// matchKey lower-cases and strips everything but letters and digits,
// so CamelCase, snake_case, and kebab-case spellings all collide.
func matchKey(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r - 'A' + 'a')
		}
	}
	return sb.String()
}

func sortedRuleIDs(m map[string]*Rule) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func allFieldIDs(s *Schema) []string {
	ids := make([]string, 0, len(s.Fields))
	for id := range s.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
