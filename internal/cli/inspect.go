package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/formkit/internal/schema"
)

// FieldSummary is one field's row in the inspect report.
type FieldSummary struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Required      bool     `json:"required"`
	Computed      bool     `json:"computed"`
	Editable      bool     `json:"editable"`
	Readable      bool     `json:"readable"`
	Hidden        bool     `json:"hidden"`
	Validation    []string `json:"validation,omitempty"`
	Computation   []string `json:"computation,omitempty"`
	BusinessLogic []string `json:"businessLogic,omitempty"`
}

// InspectReport is the normalized view of a schema: fields with
// their rule wiring and effective permissions for the chosen role.
type InspectReport struct {
	SchemaID    string         `json:"schemaId"`
	Role        string         `json:"role,omitempty"`
	Fields      []FieldSummary `json:"fields"`
	Diagnostics []string       `json:"diagnostics,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "inspect <schema-file>",
		Short: "Show a schema's normalized form",
		Long: `Show a schema after normalization: hoisted rules, detected
required fields, registered computed-field rules, the field-to-rule
mapping, and the effective field permissions for a role.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], role, cmd)
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "resolve field permissions for this role")

	return cmd
}

func runInspect(opts *RootOptions, path, role string, cmd *cobra.Command) error {
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

	report := buildInspectReport(s, role)

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	fmt.Fprint(formatter.Writer, renderInspectReport(report))
	return nil
}

func buildInspectReport(s *schema.Schema, role string) InspectReport {
	mapping := schema.BuildFieldRuleMapping(s, schema.ClassifyRules(s))
	perms := schema.CalculatePermissions(s, role)

	report := InspectReport{
		SchemaID:    s.ID,
		Role:        role,
		Diagnostics: mapping.Diagnostics,
	}

	ids := make([]string, 0, len(s.Fields))
	for id := range s.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		field := s.Fields[id]
		perm := perms[id]
		summary := FieldSummary{
			ID:       id,
			Type:     field.Type,
			Required: field.Required,
			Computed: field.IsComputed(),
			Editable: perm.Editable,
			Readable: perm.Readable,
			Hidden:   perm.Hidden,
		}
		if buckets := mapping.Fields[id]; buckets != nil {
			summary.Validation = buckets.Validation
			summary.Computation = buckets.Computation
			summary.BusinessLogic = buckets.BusinessLogic
		}
		report.Fields = append(report.Fields, summary)
	}
	return report
}

func renderInspectReport(report InspectReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema %s\n", report.SchemaID)
	if report.Role != "" {
		fmt.Fprintf(&b, "role %s\n", report.Role)
	}
	for _, f := range report.Fields {
		var marks []string
		if f.Required {
			marks = append(marks, "required")
		}
		if f.Computed {
			marks = append(marks, "computed")
		}
		if f.Hidden {
			marks = append(marks, "hidden")
		} else if !f.Editable {
			marks = append(marks, "read-only")
		}
		fmt.Fprintf(&b, "  %s (%s)", f.ID, f.Type)
		if len(marks) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(marks, ", "))
		}
		b.WriteString("\n")
		for _, id := range f.Validation {
			fmt.Fprintf(&b, "    validation    %s\n", id)
		}
		for _, id := range f.Computation {
			fmt.Fprintf(&b, "    computation   %s\n", id)
		}
		for _, id := range f.BusinessLogic {
			fmt.Fprintf(&b, "    businessLogic %s\n", id)
		}
	}
	for _, d := range report.Diagnostics {
		fmt.Fprintf(&b, "  diagnostic: %s\n", d)
	}
	return b.String()
}
