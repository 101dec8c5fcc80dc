// Package schema models the record-shape description the form engine
// is driven by: field definitions, the central rule registry, and
// role-based field permissions.
//
// Raw documents arrive in heterogeneous shapes (inline rule objects,
// missing kinds, implicit required semantics). Normalize folds them
// into one canonical form, exactly once; everything downstream
// (classification, field-rule mapping, permission calculation,
// validation) assumes a normalized schema.
package schema
