package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FetchesOncePerTTL(t *testing.T) {
	fetches := 0
	source := SourceFunc(func(ctx context.Context, id string) (*Schema, error) {
		fetches++
		return decodeTestSchema(t, rawCustomerSchema), nil
	})

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	reg := NewRegistry(source, RegistryOptions{
		TTL: time.Minute,
		Now: func() time.Time { return now },
	})

	first, err := reg.Schema(context.Background(), "customer")
	require.NoError(t, err)
	assert.True(t, first.Normalized, "registry normalizes on fetch")

	second, err := reg.Schema(context.Background(), "customer")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, fetches)

	// Past the TTL a fresh fetch happens.
	now = now.Add(2 * time.Minute)
	_, err = reg.Schema(context.Background(), "customer")
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestRegistry_Invalidate(t *testing.T) {
	fetches := 0
	source := SourceFunc(func(ctx context.Context, id string) (*Schema, error) {
		fetches++
		return decodeTestSchema(t, rawCustomerSchema), nil
	})
	reg := NewRegistry(source, RegistryOptions{})

	_, err := reg.Schema(context.Background(), "customer")
	require.NoError(t, err)
	reg.Invalidate("customer")
	_, err = reg.Schema(context.Background(), "customer")
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestRegistry_NilSchemaIsNotFound(t *testing.T) {
	source := SourceFunc(func(ctx context.Context, id string) (*Schema, error) {
		return nil, nil
	})
	reg := NewRegistry(source, RegistryOptions{})

	_, err := reg.Schema(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}
