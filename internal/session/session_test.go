package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formkit/internal/schema"
	"github.com/roach88/formkit/internal/session"
	"github.com/roach88/formkit/internal/testutil"
)

// contactSchema exercises the full field surface: an inline
// required-shaped rule, a range rule, a computed field, a default
// value, and role permissions with a read-only and a hidden field.
const contactSchema = `{
	"id": "contact",
	"fields": {
		"FirstName": {
			"id": "FirstName",
			"type": "text",
			"validation": [
				{
					"expression": {
						"type": "BinaryExpression",
						"operator": "!=",
						"arguments": [
							{"type": "CallExpression", "callee": "TRIM", "arguments": [{"type": "Identifier", "name": "FirstName"}]},
							{"type": "Literal", "value": ""}
						]
					},
					"message": "first name is required"
				}
			]
		},
		"LastName": {"id": "LastName", "type": "text"},
		"Age": {
			"id": "Age",
			"type": "number",
			"validation": [
				{
					"expression": {
						"type": "BinaryExpression",
						"operator": ">=",
						"arguments": [
							{"type": "Identifier", "name": "Age"},
							{"type": "Literal", "value": 18}
						]
					},
					"message": "must be 18 or older"
				}
			]
		},
		"Country": {
			"id": "Country",
			"type": "text",
			"defaultValue": {"type": "Literal", "value": "NZ"}
		},
		"FullName": {
			"id": "FullName",
			"type": "text",
			"formula": {
				"type": "CallExpression",
				"callee": "CONCAT",
				"arguments": [
					{"type": "Identifier", "name": "FirstName"},
					{"type": "Literal", "value": " "},
					{"type": "Identifier", "name": "LastName"}
				]
			}
		},
		"InternalScore": {"id": "InternalScore", "type": "number"}
	},
	"rolePermissions": {
		"clerk": {
			"editable": ["FirstName", "LastName", "Age"],
			"readOnly": ["Country", "FullName"]
		}
	}
}`

func decodeSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.DecodeJSON([]byte(contactSchema))
	require.NoError(t, err)
	return s
}

type harness struct {
	session   *session.Session
	authority *testutil.FakeAuthority
	timer     *testutil.ManualTimer
}

func newHarness(t *testing.T, mutate func(*session.Config)) *harness {
	t.Helper()
	authority := testutil.NewFakeAuthority()
	timer := testutil.NewManualTimer()

	cfg := session.Config{
		Schema:      decodeSchema(t),
		Mode:        session.ModeCreate,
		Interactive: true,
		Authority:   authority,
		Timer:       timer,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sess, err := session.New(cfg)
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return &harness{session: sess, authority: authority, timer: timer}
}

func TestNewAppliesDefaultsAndComputedPreview(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, "NZ", h.session.Value("Country"))

	require.NoError(t, h.session.SetValue("FirstName", "Jane"))
	require.NoError(t, h.session.SetValue("LastName", "Doe"))
	assert.Equal(t, "Jane Doe", h.session.Value("FullName"),
		"computed preview refreshes from local edits")
}

func TestNewRequiresRecordInUpdateMode(t *testing.T) {
	_, err := session.New(session.Config{
		Schema:    decodeSchema(t),
		Mode:      session.ModeUpdate,
		Authority: testutil.NewFakeAuthority(),
	})
	require.Error(t, err)

	var sessErr *session.SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, session.ErrCodeRecordLoad, sessErr.Code)
}

func TestSetValueRejectsComputedField(t *testing.T) {
	h := newHarness(t, nil)
	err := h.session.SetValue("FullName", "forged")
	require.Error(t, err)

	var sessErr *session.SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, session.ErrCodeComputedField, sessErr.Code)
}

func TestSetValueRespectsRolePermissions(t *testing.T) {
	h := newHarness(t, func(cfg *session.Config) { cfg.Role = "clerk" })

	require.NoError(t, h.session.SetValue("FirstName", "Jane"))

	err := h.session.SetValue("Country", "AU")
	require.True(t, session.IsPermissionError(err), "read-only field rejects edits")

	err = h.session.SetValue("InternalScore", 10)
	require.True(t, session.IsPermissionError(err), "unlisted field rejects edits")

	view, ok := h.session.Field("InternalScore")
	require.True(t, ok)
	assert.True(t, view.Hidden)
	assert.Nil(t, view.Value, "hidden field exposes no value")
}

func TestSetValueValidatesLocally(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.SetValue("Age", 15))
	view, ok := h.session.Field("Age")
	require.True(t, ok)
	assert.Equal(t, "must be 18 or older", view.Error)

	require.NoError(t, h.session.SetValue("Age", 21))
	view, _ = h.session.Field("Age")
	assert.Empty(t, view.Error)
}

func TestRequiredHeuristicSurfacesOnCommit(t *testing.T) {
	h := newHarness(t, nil)

	assert.Contains(t, h.session.RequiredFields(), "FirstName")

	_, err := h.session.Commit(context.Background())
	require.True(t, session.IsValidationError(err))

	view, _ := h.session.Field("FirstName")
	assert.NotEmpty(t, view.Error)
}

func TestBlurDebounceCoalesces(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.SetValue("FirstName", "J"))
	h.session.Blur("FirstName")
	require.NoError(t, h.session.SetValue("FirstName", "Jane"))
	h.session.Blur("FirstName")

	assert.Empty(t, h.authority.Calls(), "nothing dispatches before the window elapses")

	require.True(t, h.timer.Fire())

	creates := h.authority.CallsOf("create")
	require.Len(t, creates, 1, "trailing blur wins")
	assert.Equal(t, "Jane", creates[0].Payload["FirstName"])
	assert.Equal(t, "draft-1", h.session.Draft().DraftID)
}

func TestBlurWithEmptyDiffSkipsCall(t *testing.T) {
	h := newHarness(t, nil)

	h.session.Blur("FirstName")
	require.True(t, h.timer.Fire())
	assert.Empty(t, h.authority.Calls())
}

func TestNonInteractiveNeverSyncsOnBlur(t *testing.T) {
	h := newHarness(t, func(cfg *session.Config) { cfg.Interactive = false })

	require.NoError(t, h.session.SetValue("FirstName", "Jane"))
	h.session.Blur("FirstName")
	assert.False(t, h.timer.Pending())
	assert.False(t, h.timer.Fire())
	assert.Empty(t, h.authority.Calls())
}

func TestDiffCarriesOnlyChangedFields(t *testing.T) {
	record := session.Record{"FirstName": "Jane", "LastName": "Doe", "Age": 30}
	h := newHarness(t, func(cfg *session.Config) {
		cfg.Mode = session.ModeUpdate
		cfg.Record = record
		cfg.RecordID = "rec-7"
	})

	require.NoError(t, h.session.SetValue("Age", 31))
	h.session.Blur("Age")
	require.True(t, h.timer.Fire())

	syncs := h.authority.CallsOf("sync")
	require.Len(t, syncs, 1)
	assert.Equal(t, "rec-7", syncs[0].TargetID)
	assert.Equal(t, map[string]any{"Age": 31}, syncs[0].Payload,
		"unchanged fields stay out of the payload")
}

func TestDoubleBlurIssuesSingleCreation(t *testing.T) {
	h := newHarness(t, nil)
	h.authority.Gate = make(chan struct{})

	require.NoError(t, h.session.SetValue("FirstName", "Jane"))
	h.session.Blur("FirstName")

	done := make(chan struct{})
	go func() {
		h.timer.Fire()
		close(done)
	}()

	// The creation call is now held open. A second edit and blur in
	// this window must not issue a second creation.
	waitFor(t, func() bool { return len(h.authority.CallsOf("create")) == 1 })
	require.NoError(t, h.session.SetValue("LastName", "Doe"))
	h.session.Blur("LastName")
	require.True(t, h.timer.Fire())
	assert.Len(t, h.authority.CallsOf("create"), 1)
	assert.Empty(t, h.authority.CallsOf("sync"))

	close(h.authority.Gate)
	<-done

	// The completed creation reschedules a sync for the edit that
	// arrived while it was in flight.
	assert.Equal(t, "draft-1", h.session.Draft().DraftID)
	require.True(t, h.timer.Fire())

	syncs := h.authority.CallsOf("sync")
	require.Len(t, syncs, 1)
	assert.Equal(t, "draft-1", syncs[0].TargetID)
	assert.Equal(t, map[string]any{"LastName": "Doe"}, syncs[0].Payload)
	assert.Len(t, h.authority.CallsOf("create"), 1)
}

func TestStaleResponseDiscarded(t *testing.T) {
	record := session.Record{"FirstName": "Jane", "LastName": "Doe", "Age": 30}
	h := newHarness(t, func(cfg *session.Config) {
		cfg.Mode = session.ModeUpdate
		cfg.Record = record
		cfg.RecordID = "rec-7"
	})
	h.authority.Gate = make(chan struct{})
	h.authority.Compute = func(values map[string]any) map[string]any {
		first, _ := values["FirstName"].(string)
		last, _ := values["LastName"].(string)
		return map[string]any{"FullName": first + " " + last}
	}

	fire := func() chan struct{} {
		done := make(chan struct{})
		go func() {
			h.timer.Fire()
			close(done)
		}()
		return done
	}

	require.NoError(t, h.session.SetValue("FirstName", "Janet"))
	h.session.Blur("FirstName")
	first := fire()
	waitFor(t, func() bool { return len(h.authority.CallsOf("sync")) == 1 })

	require.NoError(t, h.session.SetValue("LastName", "Smith"))
	h.session.Blur("LastName")
	second := fire()
	waitFor(t, func() bool { return len(h.authority.CallsOf("sync")) == 2 })

	// Both responses land; only the later-issued request may write.
	close(h.authority.Gate)
	<-first
	<-second

	assert.Equal(t, "Janet Smith", h.session.Value("FullName"))
}

func TestNoOpBlurKeepsInFlightSyncApplicable(t *testing.T) {
	record := session.Record{"FirstName": "Jane", "LastName": "Doe", "Age": 30}
	h := newHarness(t, func(cfg *session.Config) {
		cfg.Mode = session.ModeUpdate
		cfg.Record = record
		cfg.RecordID = "rec-7"
	})
	h.authority.Gate = make(chan struct{})
	h.authority.Compute = func(values map[string]any) map[string]any {
		return map[string]any{"InternalScore": 99.0}
	}

	require.NoError(t, h.session.SetValue("FirstName", "Janet"))
	h.session.Blur("FirstName")
	done := make(chan struct{})
	go func() {
		h.timer.Fire()
		close(done)
	}()
	waitFor(t, func() bool { return len(h.authority.CallsOf("sync")) == 1 })

	// Nothing changed since the call went out; this blur fires the
	// debounce with an empty diff and must not issue a call.
	h.session.Blur("FirstName")
	h.timer.Fire()
	assert.Len(t, h.authority.CallsOf("sync"), 1)

	// The held call is still the latest issued one, so its computed
	// values apply when it lands.
	close(h.authority.Gate)
	<-done

	assert.Equal(t, 99.0, h.session.Value("InternalScore"))
}

func TestResponseNeverOverwritesConcurrentEdit(t *testing.T) {
	record := session.Record{"FirstName": "Jane", "LastName": "Doe", "Age": 30}
	h := newHarness(t, func(cfg *session.Config) {
		cfg.Mode = session.ModeUpdate
		cfg.Record = record
		cfg.RecordID = "rec-7"
	})
	h.authority.Gate = make(chan struct{})
	h.authority.Compute = func(values map[string]any) map[string]any {
		// A hostile echo: the server sends back the field itself.
		return map[string]any{"Age": values["Age"], "FullName": "Jane Doe"}
	}

	require.NoError(t, h.session.SetValue("Age", 31))
	h.session.Blur("Age")
	done := make(chan struct{})
	go func() {
		h.timer.Fire()
		close(done)
	}()
	waitFor(t, func() bool { return len(h.authority.CallsOf("sync")) == 1 })

	// Edited again while the call is in flight.
	require.NoError(t, h.session.SetValue("Age", 40))

	close(h.authority.Gate)
	<-done

	assert.Equal(t, 40, h.session.Value("Age"),
		"a field edited after the call was issued keeps the user's value")
	assert.Equal(t, "Jane Doe", h.session.Value("FullName"),
		"untouched fields still apply from the response")
}

func TestSyncFailureKeepsBaselineMoved(t *testing.T) {
	record := session.Record{"FirstName": "Jane", "LastName": "Doe", "Age": 30}
	h := newHarness(t, func(cfg *session.Config) {
		cfg.Mode = session.ModeUpdate
		cfg.Record = record
		cfg.RecordID = "rec-7"
	})

	require.NoError(t, h.session.SetValue("Age", 31))
	h.session.Blur("Age")
	h.authority.FailNext(errors.New("network down"))
	require.True(t, h.timer.Fire())

	warnings := h.session.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "draft sync failed")

	// The baseline moved before the call, so the failed change is not
	// resent on the next blur.
	h.session.Blur("Age")
	h.timer.Fire()
	assert.Len(t, h.authority.CallsOf("sync"), 1)

	// A genuinely new change still goes out.
	require.NoError(t, h.session.SetValue("Age", 32))
	h.session.Blur("Age")
	require.True(t, h.timer.Fire())
	syncs := h.authority.CallsOf("sync")
	require.Len(t, syncs, 2)
	assert.Equal(t, map[string]any{"Age": 32}, syncs[1].Payload)
}

func TestCommitStripsComputedAndUnchanged(t *testing.T) {
	record := session.Record{"FirstName": "Jane", "LastName": "Doe", "Age": 30, "Country": "NZ", "FullName": "Jane Doe"}
	h := newHarness(t, func(cfg *session.Config) {
		cfg.Mode = session.ModeUpdate
		cfg.Record = record
		cfg.RecordID = "rec-7"
	})

	require.NoError(t, h.session.SetValue("Age", 42))
	_, err := h.session.Commit(context.Background())
	require.NoError(t, err)

	commits := h.authority.CallsOf("commit")
	require.Len(t, commits, 1)
	assert.Equal(t, "rec-7", commits[0].TargetID)
	assert.Equal(t, map[string]any{"Age": 42}, commits[0].Payload,
		"computed and unchanged fields never reach the commit payload")
}

func TestCommitFailureLeavesFormEditable(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.SetValue("FirstName", "Jane"))
	require.NoError(t, h.session.SetValue("Age", 30))

	h.authority.FailNext(errors.New("conflict"))
	_, err := h.session.Commit(context.Background())
	require.True(t, session.IsSubmissionError(err))

	require.NoError(t, h.session.SetValue("FirstName", "Janet"),
		"a failed commit leaves the session open")

	_, err = h.session.Commit(context.Background())
	require.NoError(t, err)
}

func TestCloseStopsEverything(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.SetValue("FirstName", "Jane"))
	h.session.Blur("FirstName")
	h.session.Close()

	assert.False(t, h.timer.Fire() && len(h.authority.Calls()) > 0,
		"a timer racing teardown must not dispatch")
	assert.Empty(t, h.authority.Calls())

	err := h.session.SetValue("FirstName", "Janet")
	require.Error(t, err)
	var sessErr *session.SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, session.ErrCodeClosed, sessErr.Code)

	_, err = h.session.Commit(context.Background())
	require.Error(t, err)
}

func TestFieldsAreSortedAndComplete(t *testing.T) {
	h := newHarness(t, nil)
	views := h.session.Fields()
	require.Len(t, views, 6)
	for i := 1; i < len(views); i++ {
		assert.Less(t, views[i-1].ID, views[i].ID)
	}

	assert.Equal(t, []string{"FullName"}, h.session.ComputedFields())
}

func TestAccessorTableReflectsPermissions(t *testing.T) {
	h := newHarness(t, func(cfg *session.Config) { cfg.Role = "clerk" })

	table := h.session.Accessors()
	require.Len(t, table, 6)

	require.NotNil(t, table["FirstName"].Set)
	require.NoError(t, table["FirstName"].Set("Jane"))
	view, ok := table["FirstName"].View()
	require.True(t, ok)
	assert.Equal(t, "Jane", view.Value)

	assert.Nil(t, table["FullName"].Set, "computed field has no setter")
	assert.Nil(t, table["Country"].Set, "read-only field has no setter")
	assert.Nil(t, table["InternalScore"].Set, "hidden field has no setter")
}

// waitFor polls until cond holds, failing the test after one second.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not reached in time")
}
