package schema

import (
	"strings"

	"github.com/roach88/formkit/internal/expr"
)

// CycleWarning reports a dependency cycle among computed fields.
//
// The engine never attempts to resolve such cycles; it only detects
// and reports them so the schema author can break the loop.
type CycleWarning struct {
	Path    []string `json:"path"` // e.g. ["Total", "Discount", "Total"]
	Message string   `json:"message"`
}

// DetectComputedCycles analyzes the formula dependency graph and
// returns one warning per cycle found. A DAG returns an empty list.
//
// The graph has an edge A -> B when computed field A's formula reads
// computed field B. Plain fields terminate every path and cannot
// participate in a cycle.
func DetectComputedCycles(s *Schema) []CycleWarning {
	graph := make(map[string][]string)
	for _, id := range s.ComputedFieldIDs() {
		field := s.Fields[id]
		if field.Formula == nil || field.Formula.Node == nil {
			continue
		}
		for _, dep := range expr.Dependencies(field.Formula.Node) {
			if target := s.Fields[dep]; target != nil && target.IsComputed() {
				graph[id] = append(graph[id], dep)
			}
		}
	}

	var warnings []CycleWarning
	state := make(map[string]int) // 0 unvisited, 1 on stack, 2 done
	var stack []string

	var visit func(node string)
	visit = func(node string) {
		state[node] = 1
		stack = append(stack, node)
		for _, next := range graph[node] {
			switch state[next] {
			case 0:
				visit(next)
			case 1:
				warnings = append(warnings, cycleWarning(stack, next))
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = 2
	}

	for _, id := range s.ComputedFieldIDs() {
		if state[id] == 0 {
			visit(id)
		}
	}
	return warnings
}

func cycleWarning(stack []string, reentry string) CycleWarning {
	start := 0
	for i, node := range stack {
		if node == reentry {
			start = i
			break
		}
	}
	path := append(append([]string(nil), stack[start:]...), reentry)
	return CycleWarning{
		Path:    path,
		Message: "computed field cycle: " + strings.Join(path, " -> "),
	}
}
