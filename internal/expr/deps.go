package expr

import (
	"sort"
	"strings"
)

// reservedSigil marks identifiers that reference bound values rather
// than record fields; the analyzer excludes them from dependency sets.
const reservedSigil = "$"

// Dependencies walks a tree and returns the sorted set of field names
// it reads. System identifiers and sigil-prefixed names are excluded.
//
// The result drives three decisions: the rule-to-field dependency
// graph, evaluation-cache validity, and which edited field triggers
// recomputation of a computed field.
func Dependencies(n Node) []string {
	set := make(map[string]struct{})
	collectDeps(n, set)

	deps := make([]string, 0, len(set))
	for name := range set {
		deps = append(deps, name)
	}
	sort.Strings(deps)
	return deps
}

// DependsOn reports whether the tree reads the given field.
func DependsOn(n Node, field string) bool {
	for _, dep := range Dependencies(n) {
		if dep == field {
			return true
		}
	}
	return false
}

func collectDeps(n Node, set map[string]struct{}) {
	switch v := n.(type) {
	case *Literal, *SystemIdentifier, nil:
		// No field reads.

	case *Identifier:
		if strings.HasPrefix(v.Name, reservedSigil) {
			return
		}
		if SystemNames[v.Name] {
			return
		}
		set[v.Name] = struct{}{}

	case *Member:
		// Only the object expression reads fields; the remaining
		// arguments are static path segments.
		if len(v.Args) > 0 {
			collectDeps(v.Args[0], set)
		}

	case *Binary:
		collectDeps(v.Left, set)
		collectDeps(v.Right, set)

	case *Logical:
		for _, operand := range v.Operands {
			collectDeps(operand, set)
		}

	case *Call:
		for _, arg := range v.Args {
			collectDeps(arg, set)
		}

	case *Assignment:
		collectDeps(v.Value, set)
	}
}
