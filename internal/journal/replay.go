package journal

import (
	"context"
	"fmt"
)

// Snapshot is the state a session's journal reconstructs to: the
// field values as of the last event, plus draft and commit markers.
type Snapshot struct {
	SessionID string
	Values    map[string]any
	DraftID   string
	Committed bool
	LastSeq   int64
	Failures  int
}

// Replay folds a session's events into a Snapshot. Events apply in
// seq order: edits and sync responses write field values, sync
// responses may carry the draft id, a commit marks the session done
// and applies the persisted record.
func (j *Journal) Replay(ctx context.Context, sessionID string) (Snapshot, error) {
	events, err := j.Events(ctx, sessionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("replay session: %w", err)
	}

	snap := Snapshot{
		SessionID: sessionID,
		Values:    make(map[string]any),
	}
	for _, event := range events {
		if event.Seq > snap.LastSeq {
			snap.LastSeq = event.Seq
		}
		switch event.Kind {
		case KindEdit:
			if event.Field != "" {
				snap.Values[event.Field] = event.Payload["value"]
			}
		case KindSyncResponse:
			if id, ok := event.Payload["draftId"].(string); ok && id != "" {
				snap.DraftID = id
			}
			applyFieldMap(snap.Values, event.Payload["computed"])
		case KindSyncFailure:
			snap.Failures++
		case KindCommit:
			snap.Committed = true
			applyFieldMap(snap.Values, event.Payload["record"])
		case KindSyncRequest:
			// Requests carry no state the response does not; the
			// optimistic changes are already present as edits.
		}
	}
	return snap, nil
}

func applyFieldMap(dst map[string]any, raw any) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return
	}
	for k, v := range fields {
		dst[k] = v
	}
}
