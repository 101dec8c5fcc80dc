// Package evalcache wraps the expression evaluator with a session-owned
// memoizing cache so rule re-evaluation on every keystroke stays cheap.
//
// Correctness rests on the dependency analyzer: a result is keyed by
// the expression's structural fingerprint plus the values of exactly
// the fields the expression reads. Two contexts that differ only in
// unrelated fields therefore hit the same entry without re-invoking
// the evaluator.
//
// The cache is an explicit object constructed per form session, never
// package-level state; tests run in isolation by construction.
package evalcache

import (
	"fmt"

	"github.com/roach88/formkit/internal/expr"
)

// Default capacities. Most rules depend on 1-3 fields and most forms
// carry a few dozen rules, so these bounds are generous.
const (
	DefaultResultCapacity     = 500
	DefaultDependencyCapacity = 200
)

// Evaluator is the interface the cache wraps. *expr.Evaluator
// satisfies it; tests inject a counting wrapper.
type Evaluator interface {
	Evaluate(n expr.Node, ctx expr.Context) (any, error)
}

// Options configures a Cache.
type Options struct {
	// ResultCapacity bounds the evaluation-result cache.
	// Zero means DefaultResultCapacity.
	ResultCapacity int

	// DependencyCapacity bounds the dependency-set cache.
	// Zero means DefaultDependencyCapacity.
	DependencyCapacity int
}

// Cache memoizes expression evaluation.
type Cache struct {
	eval    Evaluator
	results *lruMap // fingerprint+context hash -> result
	deps    *lruMap // fingerprint -> []string dependency set
}

// New creates a cache around the given evaluator.
func New(eval Evaluator, opts Options) *Cache {
	resultCap := opts.ResultCapacity
	if resultCap <= 0 {
		resultCap = DefaultResultCapacity
	}
	depCap := opts.DependencyCapacity
	if depCap <= 0 {
		depCap = DefaultDependencyCapacity
	}
	return &Cache{
		eval:    eval,
		results: newLRUMap(resultCap),
		deps:    newLRUMap(depCap),
	}
}

// Evaluate returns the expression's value for ctx, consulting the
// cache first. Errors are never cached; a failing expression re-runs
// on the next call.
func (c *Cache) Evaluate(n expr.Node, ctx expr.Context) (any, error) {
	fp, err := expr.Fingerprint(n)
	if err != nil {
		// Unhashable tree: evaluate directly rather than failing the rule.
		return c.eval.Evaluate(n, ctx)
	}

	deps := c.Dependencies(fp, n)
	ctxHash, err := expr.ContextHash(deps, ctx)
	if err != nil {
		return c.eval.Evaluate(n, ctx)
	}

	key := fp + ":" + ctxHash
	if cached, ok := c.results.get(key); ok {
		return cached, nil
	}

	val, err := c.eval.Evaluate(n, ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	c.results.put(key, val)
	return val, nil
}

// Dependencies returns the field set the expression reads, memoized by
// fingerprint so static trees are walked once per session.
func (c *Cache) Dependencies(fingerprint string, n expr.Node) []string {
	if cached, ok := c.deps.get(fingerprint); ok {
		return cached.([]string)
	}
	deps := expr.Dependencies(n)
	c.deps.put(fingerprint, deps)
	return deps
}

// DependenciesOf is Dependencies with the fingerprint computed here.
func (c *Cache) DependenciesOf(n expr.Node) []string {
	fp, err := expr.Fingerprint(n)
	if err != nil {
		return expr.Dependencies(n)
	}
	return c.Dependencies(fp, n)
}

// Invalidate drops every cached result and dependency set. Called on
// schema refetch, when rule trees may have changed wholesale.
func (c *Cache) Invalidate() {
	c.results.reset()
	c.deps.reset()
}

// ResultLen reports the number of cached results (for tests and
// diagnostics).
func (c *Cache) ResultLen() int {
	return c.results.len()
}
