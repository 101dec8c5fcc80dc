// Package expr implements the form engine's expression core: the
// closed AST grammar and its JSON wire codec, a pure tree-walking
// evaluator over a flat field context with a fixed function library,
// a dependency analyzer, and canonical structural fingerprints used
// for cache keying.
//
// Evaluation is synchronous and deterministic given a Context and an
// Env; all ambient inputs (clock, current user, id generators) flow
// through the Env so callers and tests control them.
package expr
