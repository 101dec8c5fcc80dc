package session

import (
	"sort"

	"github.com/roach88/formkit/internal/schema"
)

// FieldView is one field's state as a renderer needs it: the current
// value plus the flags that decide how the widget is drawn.
type FieldView struct {
	ID       string `json:"id"`
	Value    any    `json:"value"`
	Editable bool   `json:"editable"`
	Readable bool   `json:"readable"`
	Hidden   bool   `json:"hidden"`
	Required bool   `json:"required"`
	Computed bool   `json:"computed"`
	Error    string `json:"error,omitempty"`
}

// Field returns one field's view, or false when the schema has no
// such field.
func (s *Session) Field(fieldID string) (FieldView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	field := s.schema.Fields[fieldID]
	if field == nil {
		return FieldView{}, false
	}
	return s.viewLocked(fieldID, field), true
}

// Fields returns every field's view in stable field-id order.
func (s *Session) Fields() []FieldView {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]FieldView, 0, len(s.schema.Fields))
	for id, field := range s.schema.Fields {
		views = append(views, s.viewLocked(id, field))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

func (s *Session) viewLocked(fieldID string, field *schema.FieldDefinition) FieldView {
	perm := s.perms[fieldID]
	view := FieldView{
		ID:       fieldID,
		Editable: perm.Editable && !field.IsComputed(),
		Readable: perm.Readable,
		Hidden:   perm.Hidden,
		Required: field.Required,
		Computed: field.IsComputed(),
		Error:    s.fieldErrors[fieldID],
	}
	if perm.Readable {
		view.Value = s.values[fieldID]
	}
	return view
}

// Accessor bundles the operations a renderer binds to one field: a
// view read and, for fields the role may edit, a setter. Set is nil
// for computed and non-editable fields, so a widget can decide its
// interactivity without consulting the schema.
type Accessor struct {
	View func() (FieldView, bool)
	Set  func(value any) error
}

// Accessors returns the per-field accessor table for the session's
// role.
func (s *Session) Accessors() map[string]Accessor {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := make(map[string]Accessor, len(s.schema.Fields))
	for id, field := range s.schema.Fields {
		acc := Accessor{
			View: func() (FieldView, bool) { return s.Field(id) },
		}
		if s.perms[id].Editable && !field.IsComputed() {
			acc.Set = func(value any) error { return s.SetValue(id, value) }
		}
		table[id] = acc
	}
	return table
}

// RequiredFields lists the ids of fields that must carry a value
// before commit, in sorted order.
func (s *Session) RequiredFields() []string {
	return s.schema.RequiredFieldIDs()
}

// ComputedFields lists the ids of formula-driven fields, in sorted
// order.
func (s *Session) ComputedFields() []string {
	return s.schema.ComputedFieldIDs()
}
