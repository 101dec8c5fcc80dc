package expr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Node is a sealed interface over the closed expression grammar.
// Only the node types in this file implement it; the evaluator rejects
// anything else with ErrCodeInvalidNode.
type Node interface {
	node() // Sealed - only these types implement it
}

// Literal holds a constant value (string, number, bool, null, array).
type Literal struct {
	Value any
}

func (*Literal) node() {}

// Identifier resolves a field id against the evaluation context.
// Unknown names resolve to nil, never to an error.
type Identifier struct {
	Name   string
	Source string // optional origin tag carried by some schema producers
}

func (*Identifier) node() {}

// SystemIdentifier resolves one of the implicit system values
// (NOW, TODAY, CURRENT_USER, CURRENT_USER_ID), optionally narrowed
// to a property of that value.
type SystemIdentifier struct {
	Name     string
	Property string
}

func (*SystemIdentifier) node() {}

// Member resolves a property path off an evaluated object value.
// Args[0] is the object expression; the remaining arguments name the
// path segments. A missing property resolves to nil.
type Member struct {
	Args []Node
}

func (*Member) node() {}

// Binary applies a binary operator. Exactly two operands; the codec
// and the evaluator both enforce this.
type Binary struct {
	Operator string
	Left     Node
	Right    Node
}

func (*Binary) node() {}

// Logical applies AND/OR over two or more operands, short-circuiting
// left to right.
type Logical struct {
	Operator string
	Operands []Node
}

func (*Logical) node() {}

// Call dispatches to the fixed function library. An unknown callee
// fails evaluation with ErrCodeUnknownFunction.
type Call struct {
	Callee string
	Args   []Node
}

func (*Call) node() {}

// Assignment wraps the value expression of an assignment form.
// The engine only ever evaluates the right-hand side; the target is
// carried by the rule that owns the tree.
type Assignment struct {
	Value Node
}

func (*Assignment) node() {}

// Node type tags used by the JSON wire form.
const (
	tagLiteral    = "Literal"
	tagIdentifier = "Identifier"
	tagSystem     = "SystemIdentifier"
	tagMember     = "MemberExpression"
	tagBinary     = "BinaryExpression"
	tagLogical    = "LogicalExpression"
	tagCall       = "CallExpression"
	tagAssignment = "AssignmentExpression"
)

// rawNode is the wire shape shared by every node kind.
type rawNode struct {
	Type      string            `json:"type"`
	Value     json.RawMessage   `json:"value,omitempty"`
	Name      string            `json:"name,omitempty"`
	Source    string            `json:"source,omitempty"`
	Property  string            `json:"property,omitempty"`
	Operator  string            `json:"operator,omitempty"`
	Callee    json.RawMessage   `json:"callee,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// UnmarshalNode decodes one expression node from its JSON wire form.
// The shape is discriminated by the "type" tag.
func UnmarshalNode(data []byte) (Node, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode expression node: %w", err)
	}
	return decodeRaw(raw)
}

func decodeRaw(raw rawNode) (Node, error) {
	switch raw.Type {
	case tagLiteral:
		val, err := decodeLiteralValue(raw.Value)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: val}, nil

	case tagIdentifier:
		if raw.Name == "" {
			return nil, fmt.Errorf("identifier node missing name")
		}
		return &Identifier{Name: raw.Name, Source: raw.Source}, nil

	case tagSystem:
		if raw.Name == "" {
			return nil, fmt.Errorf("system identifier node missing name")
		}
		return &SystemIdentifier{Name: raw.Name, Property: raw.Property}, nil

	case tagMember:
		args, err := decodeArguments(raw.Arguments)
		if err != nil {
			return nil, err
		}
		if len(args) < 1 {
			return nil, fmt.Errorf("member expression requires an object argument")
		}
		return &Member{Args: args}, nil

	case tagBinary:
		args, err := decodeArguments(raw.Arguments)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("binary expression requires exactly 2 arguments, got %d", len(args))
		}
		return &Binary{Operator: raw.Operator, Left: args[0], Right: args[1]}, nil

	case tagLogical:
		args, err := decodeArguments(raw.Arguments)
		if err != nil {
			return nil, err
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("logical expression requires at least 2 operands, got %d", len(args))
		}
		return &Logical{Operator: raw.Operator, Operands: args}, nil

	case tagCall:
		callee, err := decodeCallee(raw.Callee)
		if err != nil {
			return nil, err
		}
		args, err := decodeArguments(raw.Arguments)
		if err != nil {
			return nil, err
		}
		return &Call{Callee: callee, Args: args}, nil

	case tagAssignment:
		args, err := decodeArguments(raw.Arguments)
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, fmt.Errorf("assignment expression requires exactly 1 argument, got %d", len(args))
		}
		return &Assignment{Value: args[0]}, nil

	case "":
		return nil, fmt.Errorf("expression node missing type tag")

	default:
		return nil, fmt.Errorf("unknown expression node type %q", raw.Type)
	}
}

// decodeLiteralValue decodes a literal payload. Numbers become float64,
// which is the evaluator's only numeric type.
func decodeLiteralValue(data json.RawMessage) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode literal value: %w", err)
	}
	return v, nil
}

// decodeCallee accepts either a bare string or an Identifier node for
// the callee; both forms occur in the wild.
func decodeCallee(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", fmt.Errorf("call expression missing callee")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", fmt.Errorf("decode callee: %w", err)
		}
		return s, nil
	}
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("decode callee: %w", err)
	}
	if raw.Name == "" {
		return "", fmt.Errorf("callee node missing name")
	}
	return raw.Name, nil
}

func decodeArguments(raws []json.RawMessage) ([]Node, error) {
	args := make([]Node, len(raws))
	for i, r := range raws {
		n, err := UnmarshalNode(r)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = n
	}
	return args, nil
}

// MarshalNode encodes a node back to its JSON wire form.
func MarshalNode(n Node) ([]byte, error) {
	raw, err := encodeRaw(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

func encodeRaw(n Node) (*rawNode, error) {
	switch v := n.(type) {
	case *Literal:
		data, err := json.Marshal(v.Value)
		if err != nil {
			return nil, fmt.Errorf("encode literal value: %w", err)
		}
		return &rawNode{Type: tagLiteral, Value: data}, nil
	case *Identifier:
		return &rawNode{Type: tagIdentifier, Name: v.Name, Source: v.Source}, nil
	case *SystemIdentifier:
		return &rawNode{Type: tagSystem, Name: v.Name, Property: v.Property}, nil
	case *Member:
		args, err := encodeArguments(v.Args)
		if err != nil {
			return nil, err
		}
		return &rawNode{Type: tagMember, Arguments: args}, nil
	case *Binary:
		args, err := encodeArguments([]Node{v.Left, v.Right})
		if err != nil {
			return nil, err
		}
		return &rawNode{Type: tagBinary, Operator: v.Operator, Arguments: args}, nil
	case *Logical:
		args, err := encodeArguments(v.Operands)
		if err != nil {
			return nil, err
		}
		return &rawNode{Type: tagLogical, Operator: v.Operator, Arguments: args}, nil
	case *Call:
		args, err := encodeArguments(v.Args)
		if err != nil {
			return nil, err
		}
		callee, err := json.Marshal(v.Callee)
		if err != nil {
			return nil, err
		}
		return &rawNode{Type: tagCall, Callee: callee, Arguments: args}, nil
	case *Assignment:
		args, err := encodeArguments([]Node{v.Value})
		if err != nil {
			return nil, err
		}
		return &rawNode{Type: tagAssignment, Arguments: args}, nil
	default:
		return nil, fmt.Errorf("unknown node type %T", n)
	}
}

func encodeArguments(nodes []Node) ([]json.RawMessage, error) {
	raws := make([]json.RawMessage, len(nodes))
	for i, n := range nodes {
		data, err := MarshalNode(n)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		raws[i] = data
	}
	return raws, nil
}

// Tree wraps a Node so schema structs can carry expressions through
// encoding/json without each caller repeating the discriminator logic.
type Tree struct {
	Node Node
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tree) UnmarshalJSON(data []byte) error {
	n, err := UnmarshalNode(data)
	if err != nil {
		return err
	}
	t.Node = n
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Tree) MarshalJSON() ([]byte, error) {
	if t.Node == nil {
		return []byte("null"), nil
	}
	return MarshalNode(t.Node)
}
