package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := WrapExitError(ExitCommandError, "outer", inner)

	assert.Equal(t, "outer: root cause", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCodeDefaultsToFailure(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestFormatterSuccessJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(map[string]any{"answer": 42}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
}

func TestFormatterErrorJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Error(ErrCodeEvalFailed, "boom", map[string]any{"hint": "x"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeEvalFailed, resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)
}

func TestFormatterErrorText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Error(ErrCodeMalformed, "bad schema", nil))
	assert.Equal(t, "Error [E004]: bad schema\n", buf.String())
}

func TestVerboseLogRespectsFlag(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	quiet := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut}
	quiet.VerboseLog("hidden %d", 1)
	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())

	loud := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}
	loud.VerboseLog("visible %d", 2)
	assert.Empty(t, out.String(), "verbose logs stay off the JSON stream")
	assert.Equal(t, "visible 2\n", errOut.String())
}
