package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectGolden(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join("testdata", "contact.json")})

	require.NoError(t, cmd.Execute())

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "inspect_contact", buf.Bytes())
}

func TestInspectGoldenWithRole(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join("testdata", "contact.json"), "--role", "clerk"})

	require.NoError(t, cmd.Execute())

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "inspect_contact_clerk", buf.Bytes())
}

func TestInspectJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join("testdata", "contact.json"), "--role", "clerk"})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report InspectReport
	require.NoError(t, json.Unmarshal(data, &report))

	assert.Equal(t, "contact", report.SchemaID)
	assert.Equal(t, "clerk", report.Role)
	require.Len(t, report.Fields, 6)

	byID := make(map[string]FieldSummary)
	for _, f := range report.Fields {
		byID[f.ID] = f
	}
	assert.True(t, byID["FirstName"].Required, "required heuristic applied")
	assert.True(t, byID["FullName"].Computed)
	assert.False(t, byID["FullName"].Editable)
	assert.True(t, byID["InternalScore"].Hidden)
	assert.Equal(t, []string{"RULE_COMPUTE_FULLNAME"}, byID["FullName"].Computation)
}

func TestInspectMissingSchema(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/schema.json"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
