package testutil

import (
	"context"
	"sync"

	"github.com/roach88/formkit/internal/session"
)

// AuthorityCall records one call received by FakeAuthority, in
// arrival order.
type AuthorityCall struct {
	Method   string // "create", "sync", or "commit"
	SchemaID string
	TargetID string
	Payload  map[string]any
}

// FakeAuthority is a scripted remote authority for session tests.
// Incoming payloads apply to the accumulated draft state on receipt,
// the way a real server applies a request before answering it; the
// Compute function then derives the computed-field response from the
// draft state at response time. FailNext fails the next call.
//
// Calls can be held open with Gate to exercise overlapping requests:
// when Gate is non-nil, every call blocks on a receive before
// responding. Closing the gate releases every held and future call.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeAuthority struct {
	mu      sync.Mutex
	calls   []AuthorityCall
	draft   map[string]any
	nextErr error

	// DraftID is returned by CreateDraft; defaults to "draft-1".
	DraftID string
	// Compute derives the computed response from the draft state.
	// Nil means no computed fields.
	Compute func(values map[string]any) map[string]any
	// Gate, when non-nil, is received from once per call between
	// applying the payload and producing the response.
	Gate chan struct{}
}

// NewFakeAuthority creates a fake with an empty draft.
func NewFakeAuthority() *FakeAuthority {
	return &FakeAuthority{
		draft:   make(map[string]any),
		DraftID: "draft-1",
	}
}

// FailNext makes the next call return err instead of a response.
func (a *FakeAuthority) FailNext(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextErr = err
}

// Calls returns a copy of the received calls in arrival order.
func (a *FakeAuthority) Calls() []AuthorityCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuthorityCall(nil), a.calls...)
}

// CallsOf returns the received calls of one method.
func (a *FakeAuthority) CallsOf(method string) []AuthorityCall {
	var out []AuthorityCall
	for _, call := range a.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// DraftValues returns a copy of the accumulated draft state.
func (a *FakeAuthority) DraftValues() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.draft))
	for k, v := range a.draft {
		out[k] = v
	}
	return out
}

// begin records the call, applies its payload to the draft, and holds
// on the gate. It returns the error the response should carry, if any.
func (a *FakeAuthority) begin(ctx context.Context, call AuthorityCall) error {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	for k, v := range call.Payload {
		a.draft[k] = v
	}
	gate := a.Gate
	err := a.nextErr
	a.nextErr = nil
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (a *FakeAuthority) computed() map[string]any {
	snapshot := a.DraftValues()
	a.mu.Lock()
	compute := a.Compute
	a.mu.Unlock()
	if compute == nil {
		return map[string]any{}
	}
	return compute(snapshot)
}

// CreateDraft implements session.Authority.
func (a *FakeAuthority) CreateDraft(ctx context.Context, schemaID string, values map[string]any) (*session.CreateResult, error) {
	if err := a.begin(ctx, AuthorityCall{Method: "create", SchemaID: schemaID, Payload: values}); err != nil {
		return nil, err
	}
	return &session.CreateResult{DraftID: a.DraftID, Computed: a.computed()}, nil
}

// SyncDraft implements session.Authority.
func (a *FakeAuthority) SyncDraft(ctx context.Context, schemaID, targetID string, changes map[string]any) (*session.SyncResult, error) {
	if err := a.begin(ctx, AuthorityCall{Method: "sync", SchemaID: schemaID, TargetID: targetID, Payload: changes}); err != nil {
		return nil, err
	}
	return &session.SyncResult{Computed: a.computed()}, nil
}

// Commit implements session.Authority.
func (a *FakeAuthority) Commit(ctx context.Context, schemaID, recordID string, payload map[string]any) (session.Record, error) {
	if err := a.begin(ctx, AuthorityCall{Method: "commit", SchemaID: schemaID, TargetID: recordID, Payload: payload}); err != nil {
		return nil, err
	}
	record := session.Record{}
	for k, v := range a.DraftValues() {
		record[k] = v
	}
	for k, v := range a.computed() {
		record[k] = v
	}
	return record, nil
}
