package schema

import (
	"fmt"
	"sort"

	"github.com/roach88/formkit/internal/expr"
)

// Issue is one problem found by Validate. Issues are advisory for
// warnings (cycles, dead rules) and fatal for structural errors.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	RuleID  string `json:"rule,omitempty"`
	Fatal   bool   `json:"fatal"`
}

// Validate checks a normalized schema for structural problems:
// fields without a type, rules without expressions, call expressions
// naming functions outside the fixed library, dangling rule
// references, and computed-field cycles.
func Validate(s *Schema) []Issue {
	var issues []Issue

	for _, fieldID := range sortedFieldIDs(s) {
		field := s.Fields[fieldID]
		if field.Type == "" {
			issues = append(issues, Issue{
				Code:    string(ErrCodeFieldInvalid),
				Message: "field has no type",
				Field:   fieldID,
				Fatal:   true,
			})
		}
		for _, ruleID := range field.ValidationRuleIDs() {
			if s.Rule(ruleID) == nil {
				issues = append(issues, Issue{
					Code:    string(ErrCodeRuleInvalid),
					Message: fmt.Sprintf("field references unknown rule %s", ruleID),
					Field:   fieldID,
					Fatal:   true,
				})
			}
		}
	}

	for _, rule := range allRulesSorted(s) {
		if rule.Expression == nil || rule.Expression.Node == nil {
			issues = append(issues, Issue{
				Code:    string(ErrCodeRuleInvalid),
				Message: "rule has no expression",
				RuleID:  rule.ID,
				Fatal:   true,
			})
			continue
		}
		for _, callee := range unknownCallees(rule.Expression.Node) {
			issues = append(issues, Issue{
				Code:    string(expr.ErrCodeUnknownFunction),
				Message: fmt.Sprintf("expression calls %s, which is not in the function library", callee),
				RuleID:  rule.ID,
				Fatal:   true,
			})
		}
	}

	for _, warning := range DetectComputedCycles(s) {
		issues = append(issues, Issue{
			Code:    string(ErrCodeCycleDetected),
			Message: warning.Message,
			Fatal:   false,
		})
	}

	return issues
}

// HasFatal reports whether any issue is fatal.
func HasFatal(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Fatal {
			return true
		}
	}
	return false
}

func allRulesSorted(s *Schema) []*Rule {
	var rules []*Rule
	for _, m := range []map[string]*Rule{s.Rules.Validation, s.Rules.Computation, s.Rules.BusinessLogic} {
		for _, rule := range m {
			if rule != nil {
				rules = append(rules, rule)
			}
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

func unknownCallees(n expr.Node) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(n expr.Node)
	walk = func(n expr.Node) {
		switch v := n.(type) {
		case *expr.Member:
			for _, a := range v.Args {
				walk(a)
			}
		case *expr.Binary:
			walk(v.Left)
			walk(v.Right)
		case *expr.Logical:
			for _, op := range v.Operands {
				walk(op)
			}
		case *expr.Call:
			if !expr.IsLibraryFunction(v.Callee) && !seen[v.Callee] {
				seen[v.Callee] = true
				out = append(out, v.Callee)
			}
			for _, a := range v.Args {
				walk(a)
			}
		case *expr.Assignment:
			walk(v.Value)
		}
	}
	walk(n)
	sort.Strings(out)
	return out
}
