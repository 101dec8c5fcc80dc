package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawCustomerSchema is a legacy-shaped document: inline validation
// rules, required semantics hidden in rule text, and a formula field.
const rawCustomerSchema = `{
	"id": "customer",
	"fields": {
		"FirstName": {
			"type": "string",
			"validation": [
				{
					"expression": {"type": "BinaryExpression", "operator": "!=",
						"arguments": [
							{"type": "CallExpression", "callee": "TRIM", "arguments": [{"type": "Identifier", "name": "FirstName"}]},
							{"type": "Literal", "value": ""}
						]},
					"message": "First name is required"
				}
			]
		},
		"LastName": {"type": "string"},
		"Age": {
			"type": "number",
			"validation": [
				{
					"expression": {"type": "LogicalExpression", "operator": "AND", "arguments": [
						{"type": "BinaryExpression", "operator": ">=", "arguments": [{"type": "Identifier", "name": "Age"}, {"type": "Literal", "value": 18}]},
						{"type": "BinaryExpression", "operator": "<=", "arguments": [{"type": "Identifier", "name": "Age"}, {"type": "Literal", "value": 120}]}
					]},
					"message": "Age must be between 18 and 120"
				}
			]
		},
		"FullName": {
			"type": "string",
			"formula": {"type": "CallExpression", "callee": "CONCAT", "arguments": [
				{"type": "Identifier", "name": "FirstName"},
				{"type": "Literal", "value": " "},
				{"type": "Identifier", "name": "LastName"}
			]}
		}
	},
	"rolePermissions": {
		"manager": {"editable": ["*"], "readOnly": ["InternalNotes"]}
	}
}`

func decodeTestSchema(t *testing.T, doc string) *Schema {
	t.Helper()
	s, err := DecodeJSON([]byte(doc))
	require.NoError(t, err)
	return s
}

func normalizedCustomerSchema(t *testing.T) *Schema {
	t.Helper()
	s := decodeTestSchema(t, rawCustomerSchema)
	require.NoError(t, Normalize(s))
	return s
}

func TestNormalize_HoistsInlineRules(t *testing.T) {
	s := normalizedCustomerSchema(t)

	// The inline rules moved into the registry under generated ids.
	require.Contains(t, s.Rules.Validation, "RULE_FIRSTNAME_1")
	require.Contains(t, s.Rules.Validation, "RULE_AGE_1")

	// Field references became ids.
	assert.Equal(t, []string{"RULE_FIRSTNAME_1"}, s.Fields["FirstName"].ValidationRuleIDs())
	assert.Nil(t, s.Fields["FirstName"].Validation[0].Inline)

	rule := s.Rules.Validation["RULE_AGE_1"]
	assert.Equal(t, KindValidation, rule.Kind)
	assert.Equal(t, "Age", rule.TargetField)
	assert.Equal(t, "Age must be between 18 and 120", rule.Message)
}

func TestNormalize_DetectsRequiredFromRuleText(t *testing.T) {
	s := normalizedCustomerSchema(t)

	assert.True(t, s.Fields["FirstName"].Required, "TRIM(FirstName) != '' should read as required")
	assert.False(t, s.Fields["Age"].Required, "a range check is not a required check")
	assert.False(t, s.Fields["LastName"].Required)
}

func TestNormalize_RequiredForms(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Email != null", true},
		{"Email != ''", true},
		{"TRIM(Email) != ''", true},
		{"trim(email) !== ''", true},
		{"Email == null", false},
		{"LENGTH(Email) > 3", false},
		{"OtherField != null", false},
	}
	form := requiredForms("Email")
	for _, tt := range tests {
		assert.Equal(t, tt.want, form.MatchString(tt.text), tt.text)
	}
}

func TestNormalize_ExplicitRequiredNeverCleared(t *testing.T) {
	s := decodeTestSchema(t, `{"fields": {"Notes": {"type": "string", "required": true}}}`)
	require.NoError(t, Normalize(s))
	assert.True(t, s.Fields["Notes"].Required)
}

func TestNormalize_RegistersFormulaComputationRule(t *testing.T) {
	s := normalizedCustomerSchema(t)

	rule, ok := s.Rules.Computation["RULE_COMPUTE_FULLNAME"]
	require.True(t, ok)
	assert.Equal(t, KindComputation, rule.Kind)
	assert.Equal(t, "FullName", rule.TargetField)
	assert.True(t, s.Fields["FullName"].Computed, "formula fields become computed")
}

func TestNormalize_Idempotent(t *testing.T) {
	s := normalizedCustomerSchema(t)

	once, err := json.Marshal(s)
	require.NoError(t, err)

	require.NoError(t, Normalize(s))
	twice, err := json.Marshal(s)
	require.NoError(t, err)

	assert.JSONEq(t, string(once), string(twice))
}

func TestNormalize_RejectsInlineRuleWithoutExpression(t *testing.T) {
	s := decodeTestSchema(t, `{"fields": {"A": {"type": "string", "validation": [{"message": "broken"}]}}}`)
	err := Normalize(s)
	require.Error(t, err)

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeRuleInvalid, se.Code)
}

func TestNormalize_NilOrEmptySchema(t *testing.T) {
	require.Error(t, Normalize(nil))
	require.Error(t, Normalize(&Schema{}))
}

func TestGenerateRuleID_Stable(t *testing.T) {
	assert.Equal(t, "RULE_FIRSTNAME_1", GenerateRuleID("FirstName", 0))
	assert.Equal(t, "RULE_UNIT_PRICE_2", GenerateRuleID("unit-price", 1))
	assert.Equal(t, "RULE_COMPUTE_LOWSTOCK", ComputationRuleID("LowStock"))
}
