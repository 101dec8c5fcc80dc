// Package session runs one form's lifetime: schema-driven field
// state, local validation and computed-value previews, role
// permission gating, and the debounced draft synchronization protocol
// against a remote authority.
package session
