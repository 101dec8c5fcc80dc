package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalNode_FullTree(t *testing.T) {
	data := []byte(`{
		"type": "LogicalExpression",
		"operator": "AND",
		"arguments": [
			{"type": "BinaryExpression", "operator": ">=", "arguments": [
				{"type": "Identifier", "name": "Age"},
				{"type": "Literal", "value": 18}
			]},
			{"type": "BinaryExpression", "operator": "<=", "arguments": [
				{"type": "Identifier", "name": "Age"},
				{"type": "Literal", "value": 120}
			]}
		]
	}`)

	n, err := UnmarshalNode(data)
	require.NoError(t, err)

	logical, ok := n.(*Logical)
	require.True(t, ok)
	assert.Equal(t, "AND", logical.Operator)
	require.Len(t, logical.Operands, 2)

	left, ok := logical.Operands[0].(*Binary)
	require.True(t, ok)
	assert.Equal(t, ">=", left.Operator)
	assert.Equal(t, &Identifier{Name: "Age"}, left.Left)
	assert.Equal(t, &Literal{Value: 18.0}, left.Right)
}

func TestUnmarshalNode_CalleeForms(t *testing.T) {
	// Bare string callee.
	n, err := UnmarshalNode([]byte(`{"type":"CallExpression","callee":"TRIM","arguments":[{"type":"Identifier","name":"Name"}]}`))
	require.NoError(t, err)
	require.IsType(t, &Call{}, n)
	assert.Equal(t, "TRIM", n.(*Call).Callee)

	// Identifier node callee.
	n, err = UnmarshalNode([]byte(`{"type":"CallExpression","callee":{"type":"Identifier","name":"CONCAT"},"arguments":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "CONCAT", n.(*Call).Callee)
}

func TestUnmarshalNode_BinaryArityEnforced(t *testing.T) {
	_, err := UnmarshalNode([]byte(`{"type":"BinaryExpression","operator":"+","arguments":[{"type":"Literal","value":1}]}`))
	require.Error(t, err)
}

func TestUnmarshalNode_LogicalArityEnforced(t *testing.T) {
	_, err := UnmarshalNode([]byte(`{"type":"LogicalExpression","operator":"AND","arguments":[{"type":"Literal","value":true}]}`))
	require.Error(t, err)
}

func TestUnmarshalNode_UnknownType(t *testing.T) {
	_, err := UnmarshalNode([]byte(`{"type":"TernaryExpression"}`))
	require.Error(t, err)
}

func TestMarshalNode_RoundTrip(t *testing.T) {
	orig := &Call{Callee: "CONCAT", Args: []Node{
		&Identifier{Name: "FirstName"},
		&Literal{Value: " "},
		&Identifier{Name: "LastName"},
	}}

	data, err := MarshalNode(orig)
	require.NoError(t, err)

	back, err := UnmarshalNode(data)
	require.NoError(t, err)
	assert.Equal(t, orig, back)
}

func TestTree_JSONWrapper(t *testing.T) {
	var tree Tree
	err := tree.UnmarshalJSON([]byte(`{"type":"Identifier","name":"Status"}`))
	require.NoError(t, err)
	assert.Equal(t, &Identifier{Name: "Status"}, tree.Node)

	data, err := tree.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Identifier","name":"Status"}`, string(data))
}
