package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formkit/internal/journal"
)

func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.Append(ctx, journal.Event{
		SessionID: "s1", Seq: 1, Kind: journal.KindEdit,
		Field: "FirstName", Payload: map[string]any{"value": "Jane"},
	}))
	require.NoError(t, j.Append(ctx, journal.Event{
		SessionID: "s1", Seq: 2, Kind: journal.KindSyncResponse,
		Payload: map[string]any{"draftId": "draft-4", "computed": map[string]any{"FullName": "Jane "}},
	}))
	require.NoError(t, j.Append(ctx, journal.Event{
		SessionID: "s2", Seq: 1, Kind: journal.KindEdit,
		Field: "Qty", Payload: map[string]any{"value": float64(3)},
	}))
	return path
}

func TestReplayListsSessions(t *testing.T) {
	path := seedJournal(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "s1\ns2\n", buf.String())
}

func TestReplaySession(t *testing.T) {
	path := seedJournal(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "s1"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "session s1")
	assert.Contains(t, out, "draft draft-4")
	assert.Contains(t, out, "status open (2 events, 0 failures)")
	assert.Contains(t, out, "FirstName = Jane")
}

func TestReplaySessionJSON(t *testing.T) {
	path := seedJournal(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "s1"})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report ReplayReport
	require.NoError(t, json.Unmarshal(data, &report))

	assert.Equal(t, "s1", report.SessionID)
	assert.Equal(t, "draft-4", report.DraftID)
	assert.False(t, report.Committed)
	assert.Equal(t, int64(2), report.LastSeq)
	require.Len(t, report.Events, 2)
	assert.Equal(t, "edit", report.Events[0].Kind)
	assert.Equal(t, "Jane ", report.Values["FullName"])
}

func TestReplayUnknownSessionIsEmpty(t *testing.T) {
	path := seedJournal(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "missing"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "status open (0 events, 0 failures)")
}
