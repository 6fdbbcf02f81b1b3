package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRing tracks membership and mutation counts for instance tests
type recordingRing struct {
	hosts     map[string]int
	mutations int
	failOn    string // "host:port" whose mutation should fail
}

func newRecordingRing() *recordingRing {
	return &recordingRing{hosts: make(map[string]int)}
}

func (r *recordingRing) key(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

func (r *recordingRing) AddHost(host string, port, weight int) error {
	k := r.key(host, port)
	if k == r.failOn {
		return errors.New("injected add failure")
	}
	r.hosts[k] = weight
	r.mutations++
	return nil
}

func (r *recordingRing) RemoveHost(host string, port int) error {
	k := r.key(host, port)
	if k == r.failOn {
		return errors.New("injected remove failure")
	}
	if _, ok := r.hosts[k]; !ok {
		return errors.New("unknown host")
	}
	delete(r.hosts, k)
	r.mutations++
	return nil
}

func (r *recordingRing) SelectPeer(ctx context.Context, key string, cacheOnly bool) (string, int, string, error) {
	return "", 0, "", errors.New("not implemented")
}

func entry(host string, port, weight int, order string) TargetEntry {
	return TargetEntry{Host: host, Port: port, Weight: weight, Order: order}
}

func TestBalancerInstanceAppendSuffix(t *testing.T) {
	t.Parallel()

	ring := newRecordingRing()
	inst := NewBalancerInstance(ring)

	h1 := []TargetEntry{
		entry("a", 80, 10, "001"),
		entry("b", 80, 20, "002"),
	}
	require.NoError(t, inst.AppendSuffix(h1))
	assert.Equal(t, h1, inst.Applied())
	assert.Equal(t, map[string]int{"a:80": 10, "b:80": 20}, ring.hosts)

	// Growing the history replays only the new suffix.
	h2 := append(append([]TargetEntry{}, h1...),
		entry("c", 80, 30, "003"),
		entry("a", 80, 0, "004"),
	)
	require.NoError(t, inst.AppendSuffix(h2))
	assert.Equal(t, h2, inst.Applied())
	assert.Equal(t, map[string]int{"b:80": 20, "c:80": 30}, ring.hosts)
	assert.Equal(t, 4, ring.mutations)
}

// Re-applying a history the instance has already applied must be a no-op,
// even when callers race past the SyncedWith fast path.
func TestBalancerInstanceAppendSuffixAppliesOnce(t *testing.T) {
	t.Parallel()

	ring := newRecordingRing()
	inst := NewBalancerInstance(ring)
	history := []TargetEntry{
		entry("a", 80, 10, "001"),
		entry("b", 80, 20, "002"),
	}

	require.NoError(t, inst.AppendSuffix(history))
	require.NoError(t, inst.AppendSuffix(history))
	assert.Equal(t, 2, ring.mutations, "second application must not replay events")
	assert.Equal(t, history, inst.Applied())
}

func TestBalancerInstanceConcurrentAppendSuffix(t *testing.T) {
	t.Parallel()

	ring := newRecordingRing()
	inst := NewBalancerInstance(ring)
	history := []TargetEntry{
		entry("a", 80, 10, "001"),
		entry("b", 80, 20, "002"),
		entry("c", 80, 30, "003"),
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = inst.AppendSuffix(history)
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
	}
	// The applied-length re-check under the instance mutex turns every racing
	// application after the first into a no-op.
	assert.Equal(t, len(history), ring.mutations)
	assert.Equal(t, history, inst.Applied())
}

func TestBalancerInstanceSyncedWith(t *testing.T) {
	t.Parallel()

	inst := NewBalancerInstance(newRecordingRing())
	history := []TargetEntry{entry("a", 80, 10, "001"), entry("b", 80, 5, "002")}

	assert.True(t, inst.SyncedWith(nil), "empty instance is synced with empty history")
	assert.False(t, inst.SyncedWith(history))

	require.NoError(t, inst.AppendSuffix(history))
	assert.True(t, inst.SyncedWith(history))

	// Same length but different last order key is not synced.
	edited := []TargetEntry{entry("a", 80, 10, "001"), entry("b", 80, 5, "007")}
	assert.False(t, inst.SyncedWith(edited))
}

func TestBalancerInstanceDivergence(t *testing.T) {
	t.Parallel()

	inst := NewBalancerInstance(newRecordingRing())
	require.NoError(t, inst.AppendSuffix([]TargetEntry{
		entry("a", 80, 10, "001"),
		entry("b", 80, 20, "002"),
	}))

	// A disagreement inside the applied prefix means the stored history was
	// edited; incremental replay must be refused.
	diverged := []TargetEntry{
		entry("a", 80, 10, "001"),
		entry("x", 80, 20, "002b"),
		entry("c", 80, 30, "003"),
	}
	err := inst.AppendSuffix(diverged)
	assert.ErrorIs(t, err, ErrHistoryDiverged)

	// A fresh history shorter than the applied one is also divergence.
	err = inst.AppendSuffix([]TargetEntry{entry("a", 80, 10, "001")})
	assert.ErrorIs(t, err, ErrHistoryDiverged)
}

func TestBalancerInstanceApplyFailureAborts(t *testing.T) {
	t.Parallel()

	ring := newRecordingRing()
	ring.failOn = "b:80"
	inst := NewBalancerInstance(ring)

	err := inst.AppendSuffix([]TargetEntry{
		entry("a", 80, 10, "001"),
		entry("b", 80, 20, "002"),
		entry("c", 80, 30, "003"),
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHistoryDiverged)

	// The applied record stops at the last successful event; the failed and
	// subsequent events are not recorded.
	assert.Equal(t, []TargetEntry{entry("a", 80, 10, "001")}, inst.Applied())
}

func TestBalancerInstanceReplay(t *testing.T) {
	t.Parallel()

	ring := newRecordingRing()
	inst := NewBalancerInstance(ring)

	history := []TargetEntry{
		entry("a", 80, 10, "001"),
		entry("b", 80, 20, "002"),
		entry("a", 80, 0, "003"),
	}
	require.NoError(t, inst.Replay(history))
	assert.Equal(t, history, inst.Applied())
	assert.Equal(t, map[string]int{"b:80": 20}, ring.hosts)
}
