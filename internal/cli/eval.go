package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/formkit/internal/evalcache"
	"github.com/roach88/formkit/internal/expr"
)

// EvalResult is the outcome of one expression evaluation.
type EvalResult struct {
	Expression   string   `json:"expression"`
	Value        any      `json:"value"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		exprPath    string
		contextPath string
		schemaPath  string
		fieldID     string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate an expression against a record context",
		Long: `Evaluate an expression tree against a JSON record context.

The expression comes either from a JSON file (--expr) or from a
computed field's formula in a schema (--schema with --field). The
context file is a JSON object of field values; omitted fields
evaluate as null.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(rootOpts, exprPath, contextPath, schemaPath, fieldID, cmd)
		},
	}

	cmd.Flags().StringVar(&exprPath, "expr", "", "expression JSON file")
	cmd.Flags().StringVar(&contextPath, "context", "", "record context JSON file")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema file holding the formula")
	cmd.Flags().StringVar(&fieldID, "field", "", "computed field whose formula to evaluate")

	return cmd
}

func runEval(opts *RootOptions, exprPath, contextPath, schemaPath, fieldID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	tree, err := resolveEvalTree(exprPath, schemaPath, fieldID)
	if err != nil {
		formatter.Error(ErrCodeBadInput, err.Error(), nil)
		return err
	}

	ctx, err := loadContext(contextPath)
	if err != nil {
		formatter.Error(ErrCodeReadError, err.Error(), nil)
		return err
	}

	cache := evalcache.New(expr.NewEvaluator(nil), evalcache.Options{})
	value, err := cache.Evaluate(tree.Node, ctx)
	if err != nil {
		formatter.Error(ErrCodeEvalFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "evaluation failed", err)
	}

	result := EvalResult{
		Expression:   expr.Format(tree.Node),
		Value:        value,
		Dependencies: cache.DependenciesOf(tree.Node),
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(expr.ToString(value))
}

// resolveEvalTree picks the expression source: a standalone file or
// a schema field's formula.
func resolveEvalTree(exprPath, schemaPath, fieldID string) (*expr.Tree, error) {
	switch {
	case exprPath != "" && schemaPath != "":
		return nil, NewExitError(ExitCommandError, "--expr and --schema are mutually exclusive")
	case exprPath != "":
		return loadExpression(exprPath)
	case schemaPath != "":
		if fieldID == "" {
			return nil, NewExitError(ExitCommandError, "--schema requires --field")
		}
		s, err := loadSchema(schemaPath)
		if err != nil {
			return nil, err
		}
		field := s.Field(fieldID)
		if field == nil {
			return nil, NewExitError(ExitCommandError, "schema has no field "+fieldID)
		}
		if field.Formula == nil || field.Formula.Node == nil {
			return nil, NewExitError(ExitCommandError, "field "+fieldID+" has no formula")
		}
		return field.Formula, nil
	default:
		return nil, NewExitError(ExitCommandError, "one of --expr or --schema is required")
	}
}
