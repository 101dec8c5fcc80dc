package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/formkit/internal/journal"
)

// ReplayReport is a session's reconstructed state plus its event log.
type ReplayReport struct {
	SessionID string          `json:"sessionId"`
	DraftID   string          `json:"draftId,omitempty"`
	Committed bool            `json:"committed"`
	LastSeq   int64           `json:"lastSeq"`
	Failures  int             `json:"failures"`
	Values    map[string]any  `json:"values"`
	Events    []ReplayedEvent `json:"events,omitempty"`
}

// ReplayedEvent is one journal event in the report.
type ReplayedEvent struct {
	Seq   int64  `json:"seq"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <journal-file> [session-id]",
		Short: "Replay a recorded form session",
		Long: `Reconstruct a form session's state from its journal.

Without a session id, lists the sessions recorded in the journal.
With one, folds the session's events in order and prints the
resulting field values, draft identity, and commit status.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) == 2 {
				sessionID = args[1]
			}
			return runReplay(rootOpts, args[0], sessionID, cmd)
		},
	}

	return cmd
}

func runReplay(opts *RootOptions, path, sessionID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	j, err := journal.Open(path)
	if err != nil {
		formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()

	if sessionID == "" {
		sessions, err := j.ListSessions(ctx)
		if err != nil {
			formatter.Error(ErrCodeReplayFailed, err.Error(), nil)
			return WrapExitError(ExitFailure, "list sessions", err)
		}
		if opts.Format == "json" {
			return formatter.Success(map[string]any{"sessions": sessions})
		}
		for _, id := range sessions {
			fmt.Fprintln(formatter.Writer, id)
		}
		return nil
	}

	snap, err := j.Replay(ctx, sessionID)
	if err != nil {
		formatter.Error(ErrCodeReplayFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "replay session", err)
	}
	events, err := j.Events(ctx, sessionID)
	if err != nil {
		formatter.Error(ErrCodeReplayFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "read session events", err)
	}

	report := ReplayReport{
		SessionID: snap.SessionID,
		DraftID:   snap.DraftID,
		Committed: snap.Committed,
		LastSeq:   snap.LastSeq,
		Failures:  snap.Failures,
		Values:    snap.Values,
	}
	for _, event := range events {
		report.Events = append(report.Events, ReplayedEvent{
			Seq:   event.Seq,
			Kind:  string(event.Kind),
			Field: event.Field,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	fmt.Fprint(formatter.Writer, renderReplayReport(report))
	return nil
}

func renderReplayReport(report ReplayReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s\n", report.SessionID)
	if report.DraftID != "" {
		fmt.Fprintf(&b, "draft %s\n", report.DraftID)
	}
	status := "open"
	if report.Committed {
		status = "committed"
	}
	fmt.Fprintf(&b, "status %s (%d events, %d failures)\n", status, len(report.Events), report.Failures)

	keys := make([]string, 0, len(report.Values))
	for k := range report.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s = %v\n", k, report.Values[k])
	}
	return b.String()
}
