package schema

// CalculatePermissions derives the per-field permission triple for a
// role.
//
// Absent a role, or absent an entry for the role, every field is
// fully accessible. Otherwise a field is editable iff it (or the
// wildcard) appears in the role's editable list AND it does not also
// appear in the readOnly list; readable iff listed (or wildcarded) as
// editable or readOnly; hidden iff not readable.
//
// readOnly always wins over editable: a field listed in both is
// readable but never editable. Computed fields are never editable for
// any role; a grant can only decide their visibility.
func CalculatePermissions(s *Schema, role string) map[string]FieldPermission {
	perms := make(map[string]FieldPermission, len(s.Fields))

	grant, restricted := lookupGrant(s, role)
	if !restricted {
		for id, field := range s.Fields {
			perms[id] = FieldPermission{Editable: !field.IsComputed(), Readable: true, Hidden: false}
		}
		return perms
	}

	editAll := containsField(grant.Editable, Wildcard)
	readAll := containsField(grant.ReadOnly, Wildcard)

	for id, field := range s.Fields {
		inEditable := editAll || containsField(grant.Editable, id)
		inReadOnly := readAll || containsField(grant.ReadOnly, id)

		editable := inEditable && !inReadOnly && !field.IsComputed()
		readable := inEditable || inReadOnly
		perms[id] = FieldPermission{
			Editable: editable,
			Readable: readable,
			Hidden:   !readable,
		}
	}
	return perms
}

func lookupGrant(s *Schema, role string) (RoleGrant, bool) {
	if role == "" || s.RolePermissions == nil {
		return RoleGrant{}, false
	}
	grant, ok := s.RolePermissions[role]
	return grant, ok
}

func containsField(list []string, id string) bool {
	for _, entry := range list {
		if entry == id {
			return true
		}
	}
	return false
}
