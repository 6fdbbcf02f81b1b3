package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeCachesValue(t *testing.T) {
	t.Parallel()

	memo := New()
	computes := 0

	for i := 0; i < 3; i++ {
		v, err := memo.GetOrCompute("k", func() (interface{}, error) {
			computes++
			return "value", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, 1, computes, "compute should run once for a warm key")
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	t.Parallel()

	memo := New()
	boom := errors.New("storage down")

	_, err := memo.GetOrCompute("k", func() (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, memo.Len(), "failed compute must not populate the cache")

	v, err := memo.GetOrCompute("k", func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	memo := New()
	computes := 0
	load := func() (interface{}, error) {
		computes++
		return computes, nil
	}

	_, err := memo.GetOrCompute("a", load)
	require.NoError(t, err)
	_, err = memo.GetOrCompute("b", load)
	require.NoError(t, err)

	memo.Invalidate("a", "missing")
	assert.Equal(t, 1, memo.Len())

	v, err := memo.GetOrCompute("a", load)
	require.NoError(t, err)
	assert.Equal(t, 3, v, "invalidated key recomputes")
}

// Duplicate concurrent computation is the documented race policy: both
// callers may compute, both must observe a usable value, and the cache must
// settle on exactly one entry.
func TestConcurrentGetOrCompute(t *testing.T) {
	t.Parallel()

	memo := New()
	var computes int64

	const workers = 16
	var wg sync.WaitGroup
	results := make([]interface{}, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = memo.GetOrCompute("k", func() (interface{}, error) {
				atomic.AddInt64(&computes, 1)
				return "value", nil
			})
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "value", results[i])
	}
	assert.GreaterOrEqual(t, atomic.LoadInt64(&computes), int64(1))
	assert.Equal(t, 1, memo.Len())
}
