package session

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/formkit/internal/evalcache"
	"github.com/roach88/formkit/internal/expr"
	"github.com/roach88/formkit/internal/journal"
	"github.com/roach88/formkit/internal/schema"
)

// Mode is the record operation a session performs.
type Mode string

const (
	// ModeCreate builds a new record.
	ModeCreate Mode = "create"
	// ModeUpdate edits an existing record.
	ModeUpdate Mode = "update"
)

// DraftState tracks what the remote authority knows about the record
// being edited. BaselineValues is "last value known to be in sync with
// the authority", distinct from "last value the user saw": it is
// updated optimistically before a sync call is issued, so a failed
// call does not cause the same change to be resent forever.
type DraftState struct {
	DraftID           string
	BaselineValues    map[string]any
	DirtyFieldIDs     map[string]struct{}
	PendingRequestSeq int64
}

// Config configures one form session.
type Config struct {
	// Schema is the record-shape description. Normalized on session
	// construction if the caller has not done so already.
	Schema *schema.Schema

	// Mode selects create vs update; Interactive selects whether
	// qualifying edits sync to the authority before final submission.
	Mode        Mode
	Interactive bool

	// Role gates field permissions. Empty means unrestricted.
	Role string

	// Record and RecordID supply the existing record in update mode.
	Record   Record
	RecordID string

	// Authority is the remote owner of computation and persistence.
	Authority Authority

	// Env supplies ambient expression values; nil uses wall clock and
	// random ids.
	Env *expr.Env

	// Cache is the session's evaluation cache; nil constructs one
	// with default capacities.
	Cache *evalcache.Cache

	// Journal, when set, records session events for crash recovery.
	Journal *journal.Journal

	// DebounceWindow overrides DefaultDebounceWindow; Timer overrides
	// the wall-clock debounce timer (tests inject a manual one).
	DebounceWindow time.Duration
	Timer          Timer
}

// Session orchestrates one form's lifetime: local validation and
// computed-value previews through the evaluation cache, permission
// gating, and the draft synchronization protocol against the remote
// authority.
//
// All exported methods are safe for concurrent use, though the
// expected caller is a single UI thread with overlapping network
// round-trips.
type Session struct {
	id        string
	cfg       Config
	schema    *schema.Schema
	mapping   schema.Mapping
	perms     map[string]schema.FieldPermission
	evaluator *expr.Evaluator
	cache     *evalcache.Cache
	flight    *flight

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	alive       bool
	creating    bool // draft-create call dispatching
	values      map[string]any
	fieldErrors map[string]string
	crossErrors []string
	warnings    []string
	draft       DraftState
	editClock   int64
	lastEdit    map[string]int64
	eventSeq    int64
}

// New builds a session. Fatal schema problems surface here as
// SessionError with ErrCodeSchema; update mode without a record is a
// record-load error.
func New(cfg Config) (*Session, error) {
	if cfg.Schema == nil {
		return nil, &SessionError{Code: ErrCodeSchema, Message: "no schema"}
	}
	if err := schema.Normalize(cfg.Schema); err != nil {
		return nil, &SessionError{Code: ErrCodeSchema, Message: "normalize schema", Err: err}
	}
	if issues := schema.Validate(cfg.Schema); schema.HasFatal(issues) {
		return nil, &SessionError{Code: ErrCodeSchema, Message: issues[0].Message}
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeCreate
	}
	if cfg.Mode == ModeUpdate && cfg.Record == nil {
		return nil, &SessionError{Code: ErrCodeRecordLoad, Message: "update mode requires a loaded record"}
	}
	if cfg.Authority == nil {
		return nil, &SessionError{Code: ErrCodeSchema, Message: "no authority"}
	}

	evaluator := expr.NewEvaluator(cfg.Env)
	cache := cfg.Cache
	if cache == nil {
		cache = evalcache.New(evaluator, evalcache.Options{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.NewString(),
		cfg:         cfg,
		schema:      cfg.Schema,
		mapping:     schema.BuildFieldRuleMapping(cfg.Schema, schema.ClassifyRules(cfg.Schema)),
		perms:       schema.CalculatePermissions(cfg.Schema, cfg.Role),
		evaluator:   evaluator,
		cache:       cache,
		ctx:         ctx,
		cancel:      cancel,
		alive:       true,
		values:      make(map[string]any, len(cfg.Schema.Fields)),
		fieldErrors: make(map[string]string),
		lastEdit:    make(map[string]int64),
		draft: DraftState{
			BaselineValues: make(map[string]any, len(cfg.Schema.Fields)),
			DirtyFieldIDs:  make(map[string]struct{}),
		},
	}
	s.flight = newFlight(cfg.DebounceWindow, cfg.Timer, s.syncRun)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Mode == ModeUpdate {
		for id, v := range cfg.Record {
			s.values[id] = v
			s.draft.BaselineValues[id] = v
		}
	} else {
		s.applyDefaultsLocked()
	}
	s.recomputeAllLocked()
	return s, nil
}

// ID is the session's unique identifier, used as the journal key.
func (s *Session) ID() string {
	return s.id
}

// applyDefaultsLocked evaluates default-value expressions for create
// mode. Failures fail open: the field stays unset and a warning is
// surfaced.
func (s *Session) applyDefaultsLocked() {
	for _, fieldID := range s.sortedFieldIDs() {
		field := s.schema.Fields[fieldID]
		if field.DefaultValue == nil || field.DefaultValue.Node == nil {
			continue
		}
		val, err := s.cache.Evaluate(field.DefaultValue.Node, s.contextLocked())
		if err != nil {
			s.warnings = append(s.warnings, fmt.Sprintf("default value for %s failed: %v", fieldID, err))
			continue
		}
		s.values[fieldID] = val
		s.draft.BaselineValues[fieldID] = val
	}
}

// recomputeAllLocked refreshes every computed field's local preview.
func (s *Session) recomputeAllLocked() {
	for _, fieldID := range s.schema.ComputedFieldIDs() {
		s.recomputeFieldLocked(fieldID)
	}
}

// recomputeFieldLocked evaluates one computed field's formula locally.
// The authoritative value still comes from the remote authority; the
// local preview keeps the form responsive between round-trips.
// Failures fail open: the field keeps its last good value.
func (s *Session) recomputeFieldLocked(fieldID string) {
	field := s.schema.Fields[fieldID]
	if field == nil || field.Formula == nil || field.Formula.Node == nil {
		return
	}
	val, err := s.cache.Evaluate(field.Formula.Node, s.contextLocked())
	if err != nil {
		s.warnings = append(s.warnings, fmt.Sprintf("computed value for %s failed: %v", fieldID, err))
		return
	}
	s.values[fieldID] = val
}

func (s *Session) contextLocked() expr.Context {
	ctx := make(expr.Context, len(s.values))
	for k, v := range s.values {
		ctx[k] = v
	}
	return ctx
}

func (s *Session) sortedFieldIDs() []string {
	ids := make([]string, 0, len(s.schema.Fields))
	for id := range s.schema.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetValue writes a field value on behalf of the user. Computed
// fields and fields the role cannot edit are rejected. The write
// validates the field locally and refreshes the computed fields that
// read it.
func (s *Session) SetValue(fieldID string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive {
		return newClosedError()
	}
	field := s.schema.Fields[fieldID]
	if field == nil {
		return &SessionError{Code: ErrCodeValidation, Message: "unknown field", Field: fieldID}
	}
	if field.IsComputed() {
		return &SessionError{Code: ErrCodeComputedField, Message: "computed fields cannot be edited", Field: fieldID}
	}
	if !s.perms[fieldID].Editable {
		return &SessionError{Code: ErrCodePermission, Message: "role cannot edit this field", Field: fieldID}
	}

	s.values[fieldID] = value
	s.editClock++
	s.lastEdit[fieldID] = s.editClock
	if !reflect.DeepEqual(value, s.draft.BaselineValues[fieldID]) {
		s.draft.DirtyFieldIDs[fieldID] = struct{}{}
	} else {
		delete(s.draft.DirtyFieldIDs, fieldID)
	}

	s.journalLocked(journal.KindEdit, fieldID, map[string]any{"value": value})

	s.validateFieldLocked(fieldID)
	for _, computedID := range s.schema.ComputedFieldIDs() {
		formula := s.schema.Fields[computedID].Formula
		if formula == nil || formula.Node == nil {
			continue
		}
		if containsString(s.cache.DependenciesOf(formula.Node), fieldID) {
			s.recomputeFieldLocked(computedID)
		}
	}
	return nil
}

// Value returns the current value of a field as the user sees it.
func (s *Session) Value(fieldID string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[fieldID]
}

// validateFieldLocked runs the field's validation rules. Any raised
// evaluation error counts as failure (fail-closed); the first failing
// rule's message wins.
func (s *Session) validateFieldLocked(fieldID string) {
	buckets := s.mapping.Fields[fieldID]
	if buckets == nil {
		return
	}
	ctx := s.contextLocked()
	delete(s.fieldErrors, fieldID)
	for _, ruleID := range buckets.Validation {
		rule := s.schema.Rule(ruleID)
		if rule == nil || rule.Expression == nil || rule.Expression.Node == nil {
			continue
		}
		val, err := s.cache.Evaluate(rule.Expression.Node, ctx)
		if err != nil || !expr.Truthy(val) {
			msg := rule.Message
			if msg == "" {
				msg = "validation failed"
			}
			s.fieldErrors[fieldID] = msg
			return
		}
	}
}

// ValidateAll re-runs every validation rule and rebuilds the
// cross-field failure list. It returns true when the form is clean.
func (s *Session) ValidateAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateAllLocked()
}

func (s *Session) validateAllLocked() bool {
	s.crossErrors = s.crossErrors[:0]
	for _, fieldID := range s.sortedFieldIDs() {
		s.validateFieldLocked(fieldID)
	}
	// Required fields with empty values fail even without an explicit rule.
	for _, fieldID := range s.schema.RequiredFieldIDs() {
		if _, failed := s.fieldErrors[fieldID]; failed {
			continue
		}
		if isEmptyValue(s.values[fieldID]) {
			s.fieldErrors[fieldID] = "value is required"
		}
	}
	// Cross-field rules (reading more than one field) surface on the
	// schema-level list as well as on their owning field.
	ctx := s.contextLocked()
	for _, fieldID := range s.sortedFieldIDs() {
		buckets := s.mapping.Fields[fieldID]
		if buckets == nil {
			continue
		}
		for _, ruleID := range buckets.Validation {
			rule := s.schema.Rule(ruleID)
			if rule == nil || rule.Expression == nil || rule.Expression.Node == nil {
				continue
			}
			deps := s.cache.DependenciesOf(rule.Expression.Node)
			if len(deps) < 2 {
				continue
			}
			val, err := s.cache.Evaluate(rule.Expression.Node, ctx)
			if err != nil || !expr.Truthy(val) {
				msg := rule.Message
				if msg == "" {
					msg = ruleID + " failed"
				}
				s.crossErrors = append(s.crossErrors, msg)
			}
		}
	}
	return len(s.fieldErrors) == 0 && len(s.crossErrors) == 0
}

// Blur reports that the user left a field. In interactive mode this
// schedules a debounced sync; only the trailing blur within the
// window fires a call, and a call with an empty diff is skipped.
func (s *Session) Blur(fieldID string) {
	s.mu.Lock()
	alive := s.alive
	interactive := s.cfg.Interactive
	s.mu.Unlock()

	if !alive || !interactive {
		return
	}
	s.flight.Trigger()
}

// syncRun is the supervisor's run body: compute the outgoing diff,
// move the baseline optimistically, call the authority, and apply the
// response unless it has gone stale.
func (s *Session) syncRun() {
	defer s.flight.Finish()

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}

	diff := s.diffLocked()
	if len(diff) == 0 {
		s.mu.Unlock()
		return
	}

	needsCreate := s.cfg.Mode == ModeCreate && s.draft.DraftID == ""
	if needsCreate && s.creating {
		// A creation call is already dispatching; its completion
		// retriggers the sync if dirty fields remain.
		s.mu.Unlock()
		return
	}
	if needsCreate {
		s.creating = true
	}

	// The sequence number is allocated here, not on timer fire: a fire
	// with nothing to send must not advance the counter, or the still
	// in-flight previous call would read as stale.
	seq := s.flight.Issue()

	// Optimistic baseline move: a failed call must not cause the same
	// change to be resent forever.
	for f, v := range diff {
		s.draft.BaselineValues[f] = v
		delete(s.draft.DirtyFieldIDs, f)
	}
	s.draft.PendingRequestSeq = seq
	issueEdit := s.editClock
	targetID := s.draft.DraftID
	if s.cfg.Mode == ModeUpdate {
		targetID = s.cfg.RecordID
	}
	s.journalLocked(journal.KindSyncRequest, "", map[string]any{"seq": seq, "changes": diff})
	ctx := s.ctx
	s.mu.Unlock()

	if needsCreate {
		result, err := s.cfg.Authority.CreateDraft(ctx, s.schema.ID, diff)
		s.applyCreateResult(seq, issueEdit, result, err)
		return
	}

	result, err := s.cfg.Authority.SyncDraft(ctx, s.schema.ID, targetID, diff)
	if err != nil {
		s.recordSyncFailure(seq, err)
		return
	}
	s.applyComputed(seq, issueEdit, result.Computed)
}

// diffLocked is the outgoing payload: editable, non-computed fields
// whose value differs from the baseline.
func (s *Session) diffLocked() map[string]any {
	diff := make(map[string]any)
	for fieldID, field := range s.schema.Fields {
		if field.IsComputed() || !s.perms[fieldID].Editable {
			continue
		}
		cur, hasCur := s.values[fieldID]
		base, hasBase := s.draft.BaselineValues[fieldID]
		if hasCur != hasBase || !reflect.DeepEqual(cur, base) {
			diff[fieldID] = cur
		}
	}
	return diff
}

func (s *Session) applyCreateResult(seq, issueEdit int64, result *CreateResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creating = false
	if !s.alive {
		return
	}
	if err != nil {
		s.warnings = append(s.warnings, (&SessionError{Code: ErrCodeSync, Message: "draft create failed", Err: err}).Error())
		s.journalLocked(journal.KindSyncFailure, "", map[string]any{"seq": seq, "error": err.Error()})
		return
	}
	// The draft identity is kept even if the response is stale;
	// without it every later sync would re-create the draft.
	s.draft.DraftID = result.DraftID
	s.journalLocked(journal.KindSyncResponse, "", map[string]any{"seq": seq, "draftId": result.DraftID, "computed": result.Computed})
	s.applyComputedLocked(seq, issueEdit, result.Computed)

	// Edits that arrived while the creation call was in flight still
	// need a sync against the fresh draft id.
	if len(s.draft.DirtyFieldIDs) > 0 {
		s.flight.Trigger()
	}
}

func (s *Session) recordSyncFailure(seq int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return
	}
	// The optimistic baseline stays: the next diff carries only
	// genuinely new changes. The user sees a transient warning and
	// keeps editing.
	s.warnings = append(s.warnings, (&SessionError{Code: ErrCodeSync, Message: "draft sync failed", Err: err}).Error())
	s.journalLocked(journal.KindSyncFailure, "", map[string]any{"seq": seq, "error": err.Error()})
}

func (s *Session) applyComputed(seq, issueEdit int64, computed map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return
	}
	s.journalLocked(journal.KindSyncResponse, "", map[string]any{"seq": seq, "computed": computed})
	s.applyComputedLocked(seq, issueEdit, computed)
}

// applyComputedLocked writes server-computed values into form state,
// subject to the two concurrency guards: the response must still be
// the latest issued request (stale discard, last-issued-wins), and a
// field the user edited after the call was issued is never
// overwritten.
func (s *Session) applyComputedLocked(seq, issueEdit int64, computed map[string]any) {
	if seq != s.flight.Latest() {
		return
	}
	for fieldID, val := range computed {
		if s.schema.Fields[fieldID] == nil {
			continue
		}
		if s.lastEdit[fieldID] > issueEdit {
			continue
		}
		s.values[fieldID] = val
		s.draft.BaselineValues[fieldID] = val
		delete(s.draft.DirtyFieldIDs, fieldID)
	}
}

// Commit validates, cleans, and persists the record. Computed fields
// are stripped from the payload; in update mode only fields changed
// from the original record are sent. On failure the form stays
// editable with no data loss.
func (s *Session) Commit(ctx context.Context) (Record, error) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return nil, newClosedError()
	}
	if !s.validateAllLocked() {
		s.mu.Unlock()
		return nil, &SessionError{Code: ErrCodeValidation, Message: "form has validation failures"}
	}

	payload := make(map[string]any)
	for fieldID, field := range s.schema.Fields {
		if field.IsComputed() {
			continue
		}
		val, ok := s.values[fieldID]
		if !ok {
			continue
		}
		if s.cfg.Mode == ModeUpdate {
			if orig, had := s.cfg.Record[fieldID]; had && reflect.DeepEqual(orig, val) {
				continue
			}
		}
		payload[fieldID] = val
	}
	targetID := s.draft.DraftID
	if s.cfg.Mode == ModeUpdate {
		targetID = s.cfg.RecordID
	}
	s.mu.Unlock()

	record, err := s.cfg.Authority.Commit(ctx, s.schema.ID, targetID, payload)
	if err != nil {
		return nil, &SessionError{Code: ErrCodeSubmission, Message: "commit failed", Err: err}
	}

	s.mu.Lock()
	for fieldID, val := range record {
		if s.schema.Fields[fieldID] == nil {
			continue
		}
		s.values[fieldID] = val
		s.draft.BaselineValues[fieldID] = val
		delete(s.draft.DirtyFieldIDs, fieldID)
	}
	s.journalLocked(journal.KindCommit, "", map[string]any{"record": map[string]any(record)})
	s.mu.Unlock()
	return record, nil
}

// Close tears the session down: the liveness flag drops, in-flight
// network calls are cancelled, and no state write happens afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
	s.flight.Cancel()
	s.cancel()
}

// Draft returns a copy of the sync protocol's state, for tests and
// diagnostics.
func (s *Session) Draft() DraftState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := DraftState{
		DraftID:           s.draft.DraftID,
		BaselineValues:    make(map[string]any, len(s.draft.BaselineValues)),
		DirtyFieldIDs:     make(map[string]struct{}, len(s.draft.DirtyFieldIDs)),
		PendingRequestSeq: s.draft.PendingRequestSeq,
	}
	for k, v := range s.draft.BaselineValues {
		out.BaselineValues[k] = v
	}
	for k := range s.draft.DirtyFieldIDs {
		out.DirtyFieldIDs[k] = struct{}{}
	}
	return out
}

// Warnings drains the accumulated non-fatal warnings.
func (s *Session) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.warnings
	s.warnings = nil
	return out
}

// CrossFieldErrors returns the failures of rules reading more than
// one field, as rebuilt by the last ValidateAll.
func (s *Session) CrossFieldErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.crossErrors...)
}

func (s *Session) journalLocked(kind journal.Kind, fieldID string, payload map[string]any) {
	if s.cfg.Journal == nil {
		return
	}
	s.eventSeq++
	event := journal.Event{
		SessionID: s.id,
		Seq:       s.eventSeq,
		Kind:      kind,
		Field:     fieldID,
		Payload:   payload,
	}
	if err := s.cfg.Journal.Append(s.ctx, event); err != nil {
		s.warnings = append(s.warnings, "journal append failed: "+err.Error())
	}
}

func containsString(list []string, s string) bool {
	for _, entry := range list {
		if entry == s {
			return true
		}
	}
	return false
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	default:
		return false
	}
}
