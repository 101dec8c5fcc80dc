package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/formkit/internal/schema"
)

// ValidationReport holds the outcome of schema validation.
type ValidationReport struct {
	Valid  bool           `json:"valid"`
	Issues []schema.Issue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-file>",
		Short: "Validate a schema document",
		Long: `Validate a schema document without opening a form session.

Checks field definitions, rule references, expression callees, and
computed-field dependency cycles. Cycle findings are reported as
warnings; structural problems fail the command.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := loadSchema(path)
	if err != nil {
		formatter.Error(ErrCodeMalformed, err.Error(), nil)
		return err
	}

	formatter.VerboseLog("Validating schema %s (%d fields)", s.ID, len(s.Fields))

	issues := schema.Validate(s)
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Field != issues[j].Field {
			return issues[i].Field < issues[j].Field
		}
		return issues[i].Code < issues[j].Code
	})

	if schema.HasFatal(issues) {
		report := ValidationReport{Valid: false, Issues: issues}
		if opts.Format == "json" {
			formatter.Error(ErrCodeSchemaIssues, "schema has validation issues", report)
		} else {
			var b strings.Builder
			fmt.Fprintf(&b, "✗ %d issue(s) found:\n", len(issues))
			for _, issue := range issues {
				marker := "warning"
				if issue.Fatal {
					marker = "error"
				}
				fmt.Fprintf(&b, "  [%s] %s: %s\n", marker, issue.Code, issue.Message)
			}
			fmt.Fprint(formatter.Writer, b.String())
		}
		return NewExitError(ExitFailure, "schema has validation issues")
	}

	if opts.Format == "json" {
		return formatter.Success(ValidationReport{Valid: true, Issues: issues})
	}
	for _, issue := range issues {
		fmt.Fprintf(formatter.Writer, "  [warning] %s: %s\n", issue.Code, issue.Message)
	}
	fmt.Fprintln(formatter.Writer, "✓ Schema valid")
	return nil
}
