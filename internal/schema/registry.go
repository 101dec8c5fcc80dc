package schema

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is how long a fetched schema stays fresh in the registry.
const DefaultTTL = 5 * time.Minute

// Source resolves a schema document by its record-source identifier.
// Transport and retry are the caller's concern; the registry consumes
// a resolved schema or a failure.
type Source interface {
	FetchSchema(ctx context.Context, id string) (*Schema, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, id string) (*Schema, error)

// FetchSchema implements Source.
func (f SourceFunc) FetchSchema(ctx context.Context, id string) (*Schema, error) {
	return f(ctx, id)
}

// Registry caches normalized schemas per record source with a TTL.
// One registry serves many form sessions; entries are invalidated
// wholesale on refetch.
type Registry struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]registryEntry
}

type registryEntry struct {
	schema    *Schema
	fetchedAt time.Time
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// TTL is the freshness window. Zero means DefaultTTL.
	TTL time.Duration

	// Now is the clock; nil means time.Now. Injected for tests.
	Now func() time.Time
}

// NewRegistry creates a registry over the given source.
func NewRegistry(source Source, opts RegistryOptions) *Registry {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		source:  source,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]registryEntry),
	}
}

// Schema returns the normalized schema for id, fetching it when the
// cache is empty or stale. Fetched schemas are normalized exactly
// once before caching.
func (r *Registry) Schema(ctx context.Context, id string) (*Schema, error) {
	r.mu.Lock()
	if entry, ok := r.entries[id]; ok && r.now().Sub(entry.fetchedAt) < r.ttl {
		r.mu.Unlock()
		return entry.schema, nil
	}
	r.mu.Unlock()

	s, err := r.source.FetchSchema(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch schema %s: %w", id, err)
	}
	if s == nil {
		return nil, &SchemaError{Code: ErrCodeNotFound, Message: id}
	}
	if err := Normalize(s); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[id] = registryEntry{schema: s, fetchedAt: r.now()}
	r.mu.Unlock()
	return s, nil
}

// Invalidate drops the cached entry for id.
func (r *Registry) Invalidate(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// InvalidateAll drops every cached entry.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.entries = make(map[string]registryEntry)
	r.mu.Unlock()
}
