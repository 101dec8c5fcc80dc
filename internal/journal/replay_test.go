package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayReconstructsSession(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	append := func(e Event) {
		t.Helper()
		e.SessionID = "s1"
		require.NoError(t, j.Append(ctx, e))
	}

	append(Event{Seq: 1, Kind: KindEdit, Field: "FirstName", Payload: map[string]any{"value": "Jane"}})
	append(Event{Seq: 2, Kind: KindEdit, Field: "LastName", Payload: map[string]any{"value": "Doe"}})
	append(Event{Seq: 3, Kind: KindSyncRequest, Payload: map[string]any{"seq": 1}})
	append(Event{Seq: 4, Kind: KindSyncResponse, Payload: map[string]any{
		"draftId":  "draft-9",
		"computed": map[string]any{"FullName": "Jane Doe"},
	}})
	append(Event{Seq: 5, Kind: KindEdit, Field: "FirstName", Payload: map[string]any{"value": "Janet"}})
	append(Event{Seq: 6, Kind: KindSyncFailure, Payload: map[string]any{"error": "boom"}})

	snap, err := j.Replay(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, "draft-9", snap.DraftID)
	assert.Equal(t, "Janet", snap.Values["FirstName"])
	assert.Equal(t, "Doe", snap.Values["LastName"])
	assert.Equal(t, "Jane Doe", snap.Values["FullName"])
	assert.False(t, snap.Committed)
	assert.Equal(t, int64(6), snap.LastSeq)
	assert.Equal(t, 1, snap.Failures)
}

func TestReplayCommitWins(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, Event{
		SessionID: "s1", Seq: 1, Kind: KindEdit,
		Field: "Qty", Payload: map[string]any{"value": float64(3)},
	}))
	require.NoError(t, j.Append(ctx, Event{
		SessionID: "s1", Seq: 2, Kind: KindCommit,
		Payload: map[string]any{"record": map[string]any{"Qty": float64(3), "Total": float64(30)}},
	}))

	snap, err := j.Replay(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, snap.Committed)
	assert.Equal(t, float64(30), snap.Values["Total"])
}

func TestReplayEmptySession(t *testing.T) {
	j := openTestJournal(t)
	snap, err := j.Replay(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, snap.Values)
	assert.False(t, snap.Committed)
	assert.Zero(t, snap.LastSeq)
}
