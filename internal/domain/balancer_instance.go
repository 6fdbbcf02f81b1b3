package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrHistoryDiverged reports that a balancer's applied history is not a
// prefix of the fresh target history, so an incremental replay cannot be
// proven correct and the ring must be rebuilt from scratch.
var ErrHistoryDiverged = errors.New("applied history diverged from target history")

// BalancerInstance couples a weighted-selection ring with the record of
// exactly which prefix of the upstream's target history has been applied to
// it. The two are owned together as one unit; the registry replaces the whole
// instance when reconciliation decides a rebuild is necessary.
//
// The instance mutex serializes history application across concurrent
// reconcilers: AppendSuffix re-checks the applied length under the lock, so
// a racing reconciler that already applied the same suffix degrades to a
// no-op instead of double-applying events.
type BalancerInstance struct {
	mu      sync.Mutex
	ring    Ring
	applied []TargetEntry
}

// NewBalancerInstance wraps a freshly constructed ring with an empty applied
// history.
func NewBalancerInstance(ring Ring) *BalancerInstance {
	return &BalancerInstance{ring: ring}
}

// Applied returns a copy of the applied-history side channel
func (b *BalancerInstance) Applied() []TargetEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]TargetEntry, len(b.applied))
	copy(out, b.applied)
	return out
}

// SyncedWith reports whether the instance already reflects the given history,
// judged by applied length and last order key only. The full position-by-
// position comparison is deferred to AppendSuffix, which the caller invokes
// when this fast check fails.
func (b *BalancerInstance) SyncedWith(history []TargetEntry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.applied) != len(history) {
		return false
	}
	if len(history) == 0 {
		return true
	}
	return b.applied[len(b.applied)-1].Order == history[len(history)-1].Order
}

// AppendSuffix brings the instance up to date with history by replaying only
// the events beyond the already-applied prefix. It returns
// ErrHistoryDiverged when the applied history is not a prefix of the fresh
// one; any ring mutation failure aborts the replay and surfaces as an error,
// leaving the applied record consistent with the mutations that succeeded.
func (b *BalancerInstance) AppendSuffix(history []TargetEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.applied) > len(history) {
		return ErrHistoryDiverged
	}
	for i := range b.applied {
		if b.applied[i].Order != history[i].Order {
			return ErrHistoryDiverged
		}
	}
	return b.apply(history[len(b.applied):])
}

// Replay applies the given history onto the instance from its current state.
// It is intended for freshly constructed instances during a full rebuild.
func (b *BalancerInstance) Replay(history []TargetEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.apply(history)
}

// apply replays entries in order. Caller must hold b.mu.
func (b *BalancerInstance) apply(entries []TargetEntry) error {
	for _, e := range entries {
		var err error
		if e.Weight > 0 {
			err = b.ring.AddHost(e.Host, e.Port, e.Weight)
		} else {
			err = b.ring.RemoveHost(e.Host, e.Port)
		}
		if err != nil {
			return fmt.Errorf("apply target event %s for %s:%d: %w", e.Order, e.Host, e.Port, err)
		}
		b.applied = append(b.applied, e)
	}
	return nil
}

// SelectPeer delegates peer selection to the underlying ring
func (b *BalancerInstance) SelectPeer(ctx context.Context, selectionKey string, cacheOnly bool) (string, int, string, error) {
	return b.ring.SelectPeer(ctx, selectionKey, cacheOnly)
}
