package dns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/allenfu2013/kong/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(ttl time.Duration, lookup LookupFunc) *Resolver {
	return NewResolver(ttl, lookup, logger.NewNop())
}

func TestResolveLiteralPassthrough(t *testing.T) {
	t.Parallel()

	lookups := 0
	r := newTestResolver(time.Minute, func(ctx context.Context, host string) ([]string, error) {
		lookups++
		return nil, errors.New("should not be called")
	})

	ip, port, err := r.Resolve(context.Background(), "10.0.0.5", 8080, false)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", ip)
	assert.Equal(t, 8080, port)
	assert.Zero(t, lookups)

	// Missing port defaults to the service port.
	ip, port, err = r.Resolve(context.Background(), "10.0.0.5", 0, false)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", ip)
	assert.Equal(t, 80, port)
}

func TestResolveCachesRecords(t *testing.T) {
	t.Parallel()

	lookups := 0
	r := newTestResolver(time.Minute, func(ctx context.Context, host string) ([]string, error) {
		lookups++
		return []string{"192.0.2.1"}, nil
	})

	for i := 0; i < 3; i++ {
		ip, port, err := r.Resolve(context.Background(), "example.com", 443, false)
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.1", ip)
		assert.Equal(t, 443, port)
	}
	assert.Equal(t, 1, lookups, "warm record should not trigger lookups")
}

func TestResolveRotatesRecords(t *testing.T) {
	t.Parallel()

	r := newTestResolver(time.Minute, func(ctx context.Context, host string) ([]string, error) {
		return []string{"192.0.2.1", "192.0.2.2"}, nil
	})

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		ip, _, err := r.Resolve(context.Background(), "example.com", 80, false)
		require.NoError(t, err)
		seen[ip]++
	}
	assert.Equal(t, 2, seen["192.0.2.1"])
	assert.Equal(t, 2, seen["192.0.2.2"])
}

func TestResolveCacheOnly(t *testing.T) {
	t.Parallel()

	lookups := 0
	r := newTestResolver(time.Millisecond, func(ctx context.Context, host string) ([]string, error) {
		lookups++
		return []string{"192.0.2.1"}, nil
	})

	// Cache-only miss must error instead of looking up.
	_, _, err := r.Resolve(context.Background(), "example.com", 80, true)
	assert.ErrorIs(t, err, ErrNotCached)
	assert.Zero(t, lookups)

	_, _, err = r.Resolve(context.Background(), "example.com", 80, false)
	require.NoError(t, err)
	require.Equal(t, 1, lookups)

	// Cache-only serves even expired records rather than blocking on a
	// fresh lookup.
	time.Sleep(5 * time.Millisecond)
	ip, _, err := r.Resolve(context.Background(), "example.com", 80, true)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ip)
	assert.Equal(t, 1, lookups)
}

func TestResolveLookupFailures(t *testing.T) {
	t.Parallel()

	r := newTestResolver(time.Minute, func(ctx context.Context, host string) ([]string, error) {
		return nil, errors.New("nxdomain")
	})
	_, _, err := r.Resolve(context.Background(), "missing.example", 80, false)
	assert.Error(t, err)

	empty := newTestResolver(time.Minute, func(ctx context.Context, host string) ([]string, error) {
		return []string{}, nil
	})
	_, _, err = empty.Resolve(context.Background(), "empty.example", 80, false)
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestFlush(t *testing.T) {
	t.Parallel()

	lookups := 0
	r := newTestResolver(time.Minute, func(ctx context.Context, host string) ([]string, error) {
		lookups++
		return []string{"192.0.2.1"}, nil
	})

	_, _, err := r.Resolve(context.Background(), "example.com", 80, false)
	require.NoError(t, err)
	r.Flush()
	_, _, err = r.Resolve(context.Background(), "example.com", 80, false)
	require.NoError(t, err)
	assert.Equal(t, 2, lookups)
}
