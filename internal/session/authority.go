package session

import "context"

// Record is a resolved record object keyed by field id.
type Record map[string]any

// CreateResult is the remote authority's answer to a draft-create
// call: the assigned draft identity plus any server-computed fields.
type CreateResult struct {
	DraftID  string
	Computed map[string]any
}

// SyncResult is the remote authority's answer to a draft-sync call:
// the computed-field values refreshed by the changed inputs.
type SyncResult struct {
	Computed map[string]any
}

// Authority is the remote owner of authoritative computation and
// draft persistence. The engine never executes computation or
// business-logic rules itself; it dispatches them here and applies
// the results back.
//
// Transport, retry, and backoff are the implementation's concern;
// the session treats every call as a single suspension point and
// honors context cancellation on teardown.
type Authority interface {
	// CreateDraft obtains a draft identity from a payload of editable
	// field values. Interactive create mode calls this exactly once
	// per session, before any field edit can sync.
	CreateDraft(ctx context.Context, schemaID string, values map[string]any) (*CreateResult, error)

	// SyncDraft sends a diff of changed editable-field values against
	// a draft (create mode) or record (update mode) identity.
	SyncDraft(ctx context.Context, schemaID, targetID string, changes map[string]any) (*SyncResult, error)

	// Commit persists the full cleaned payload. Computed fields are
	// stripped by the caller; in update mode the payload carries only
	// fields changed from the original record.
	Commit(ctx context.Context, schemaID, recordID string, payload map[string]any) (Record, error)
}
