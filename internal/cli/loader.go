package cli

import (
	"encoding/json"
	"os"

	"github.com/roach88/formkit/internal/expr"
	"github.com/roach88/formkit/internal/schema"
)

// loadSchema reads and normalizes a schema document, mapping load
// failures onto CLI exit codes.
func loadSchema(path string) (*schema.Schema, error) {
	s, err := schema.LoadFile(path)
	if err != nil {
		if schema.IsNotFound(err) {
			return nil, WrapExitError(ExitCommandError, "schema not found", err)
		}
		return nil, WrapExitError(ExitCommandError, "schema malformed", err)
	}
	return s, nil
}

// loadContext reads a record-values JSON object used as the
// evaluation context. An empty path yields an empty context.
func loadContext(path string) (expr.Context, error) {
	if path == "" {
		return expr.Context{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "context file not readable", err)
	}
	var ctx expr.Context
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, WrapExitError(ExitCommandError, "context file malformed", err)
	}
	return ctx, nil
}

// loadExpression decodes one expression tree from a JSON file.
func loadExpression(path string) (*expr.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "expression file not readable", err)
	}
	node, err := expr.UnmarshalNode(data)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "expression malformed", err)
	}
	return &expr.Tree{Node: node}, nil
}
