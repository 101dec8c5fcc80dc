package expr

import (
	"strconv"
	"strings"
)

// Format renders a tree in the surface syntax schema authors write,
// e.g. `TRIM(Name) != ”`. The output is for diagnostics and for the
// textual pattern heuristics; it is not re-parsed.
func Format(n Node) string {
	var sb strings.Builder
	formatNode(n, &sb)
	return sb.String()
}

func formatNode(n Node, sb *strings.Builder) {
	switch v := n.(type) {
	case *Literal:
		formatLiteral(v.Value, sb)
	case *Identifier:
		sb.WriteString(v.Name)
	case *SystemIdentifier:
		sb.WriteString(v.Name)
		if v.Property != "" {
			sb.WriteByte('.')
			sb.WriteString(v.Property)
		}
	case *Member:
		if len(v.Args) > 0 {
			formatNode(v.Args[0], sb)
		}
		for _, seg := range v.Args[1:] {
			sb.WriteByte('.')
			if name, err := segmentName(seg); err == nil {
				sb.WriteString(name)
			} else {
				sb.WriteByte('?')
			}
		}
	case *Binary:
		formatNode(v.Left, sb)
		sb.WriteByte(' ')
		sb.WriteString(v.Operator)
		sb.WriteByte(' ')
		formatNode(v.Right, sb)
	case *Logical:
		for i, operand := range v.Operands {
			if i > 0 {
				sb.WriteByte(' ')
				sb.WriteString(strings.ToUpper(v.Operator))
				sb.WriteByte(' ')
			}
			formatNode(operand, sb)
		}
	case *Call:
		sb.WriteString(v.Callee)
		sb.WriteByte('(')
		for i, arg := range v.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatNode(arg, sb)
		}
		sb.WriteByte(')')
	case *Assignment:
		sb.WriteString("= ")
		formatNode(v.Value, sb)
	case nil:
		sb.WriteString("<nil>")
	}
}

func formatLiteral(v any, sb *strings.Builder) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case string:
		sb.WriteByte('\'')
		sb.WriteString(val)
		sb.WriteByte('\'')
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case float64:
		sb.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	default:
		sb.WriteString(ToString(v))
	}
}
