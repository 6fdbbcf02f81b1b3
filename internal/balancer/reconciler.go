// Package balancer keeps per-upstream weighted-selection rings synchronized
// with the stored target history. Lookups go through three cache families
// (upstream directory, upstream entity, target history); reconciliation
// replays only the history suffix a live ring has not seen yet, falling back
// to a full rebuild when the applied history is not a clean prefix of the
// stored one.
package balancer

import (
	"context"
	"errors"
	"fmt"

	"github.com/allenfu2013/kong/internal/cache"
	"github.com/allenfu2013/kong/internal/domain"
	"github.com/allenfu2013/kong/pkg/logger"
)

// Cache key families. The directory occupies one global key; entities and
// histories are keyed per upstream ID.
const directoryCacheKey = "upstreams:directory"

// EntityCacheKey returns the cache key of one upstream's entity record
func EntityCacheKey(id string) string { return "upstream:" + id }

// HistoryCacheKey returns the cache key of one upstream's target history
func HistoryCacheKey(id string) string { return "targets:" + id }

// DirectoryCacheKey returns the global upstream directory cache key
func DirectoryCacheKey() string { return directoryCacheKey }

// Reconciler resolves upstream names to live balancer instances, lazily
// loading records through the cache and applying outstanding target history
// before handing an instance out.
type Reconciler struct {
	store    domain.Store
	cache    *cache.Memo
	registry *Registry
	newRing  domain.RingFactory
	logger   *logger.Logger
}

// NewReconciler creates a reconciler over the given collaborators
func NewReconciler(store domain.Store, memo *cache.Memo, registry *Registry, newRing domain.RingFactory, log *logger.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		cache:    memo,
		registry: registry,
		newRing:  newRing,
		logger:   log.BalancerLogger(),
	}
}

// Registry exposes the instance registry, chiefly for wiring and tests
func (r *Reconciler) Registry() *Registry {
	return r.registry
}

// GetBalancer returns the live balancer for an upstream name, reconciled
// against the current target history. A nil instance with nil error means
// the name matched no upstream; an upstream with zero target events counts
// as absent too, since an empty pool cannot serve traffic. Errors from
// storage or from ring mutation are fatal to the attempt and propagated.
func (r *Reconciler) GetBalancer(ctx context.Context, name string) (*domain.BalancerInstance, error) {
	id, ok, err := r.upstreamID(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	upstream, err := r.upstream(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := r.history(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}

	inst := r.registry.Get(name)
	if inst == nil {
		inst, err = r.construct(name, upstream)
		if err != nil {
			return nil, err
		}
	}
	return r.reconcile(name, upstream, inst, history)
}

// construct builds an empty instance for an upstream and registers it. A
// concurrent constructor may win the registration; the registered instance
// is returned either way.
func (r *Reconciler) construct(name string, upstream *domain.Upstream) (*domain.BalancerInstance, error) {
	ring, err := r.newRing(upstream.Slots, upstream.Seed)
	if err != nil {
		return nil, fmt.Errorf("construct ring for upstream '%s': %w", name, err)
	}
	return r.registry.GetOrSet(name, domain.NewBalancerInstance(ring)), nil
}

// reconcile brings inst up to date with history. The common case is a no-op
// or an append of the new suffix; a diverged applied history forces a full
// rebuild onto a fresh ring, which replaces the registry entry.
func (r *Reconciler) reconcile(name string, upstream *domain.Upstream, inst *domain.BalancerInstance, history []domain.TargetEntry) (*domain.BalancerInstance, error) {
	if inst.SyncedWith(history) {
		return inst, nil
	}

	err := inst.AppendSuffix(history)
	if err == nil {
		r.logger.WithField("upstream", name).
			WithField("events", len(history)).
			Debug("Applied target history suffix")
		return inst, nil
	}
	if !errors.Is(err, domain.ErrHistoryDiverged) {
		return nil, fmt.Errorf("reconcile upstream '%s': %w", name, err)
	}

	// The stored history no longer extends what this ring has applied.
	// Rebuild from an empty ring and replay the full history.
	r.logger.WithField("upstream", name).
		Warn("Applied history diverged from stored history, rebuilding balancer")

	ring, err := r.newRing(upstream.Slots, upstream.Seed)
	if err != nil {
		return nil, fmt.Errorf("rebuild ring for upstream '%s': %w", name, err)
	}
	fresh := domain.NewBalancerInstance(ring)
	if err := fresh.Replay(history); err != nil {
		return nil, fmt.Errorf("rebuild upstream '%s': %w", name, err)
	}
	r.registry.Set(name, fresh)
	return fresh, nil
}

// upstreamID resolves an upstream name through the directory cache. The
// directory is one dictionary covering all upstreams, loaded lazily and
// invalidated as a unit whenever the set of upstreams changes. A fresh load
// also evicts registry entries for names no longer present.
func (r *Reconciler) upstreamID(ctx context.Context, name string) (string, bool, error) {
	v, err := r.cache.GetOrCompute(directoryCacheKey, func() (interface{}, error) {
		upstreams, err := r.store.FindAllUpstreams(ctx)
		if err != nil {
			return nil, fmt.Errorf("load upstream directory: %w", err)
		}
		dict := make(map[string]string, len(upstreams))
		for _, u := range upstreams {
			dict[u.Name] = u.ID
		}
		r.registry.Retain(dict)
		r.logger.WithField("upstreams", len(dict)).Debug("Loaded upstream directory")
		return dict, nil
	})
	if err != nil {
		return "", false, err
	}
	id, ok := v.(map[string]string)[name]
	return id, ok, nil
}

// upstream loads one upstream entity through the per-ID entity cache. A
// fresh load unconditionally evicts the upstream's registry entry: a
// reloaded entity always implies its balancer is stale, and the next lookup
// reconstructs it from history.
func (r *Reconciler) upstream(ctx context.Context, id string) (*domain.Upstream, error) {
	v, err := r.cache.GetOrCompute(EntityCacheKey(id), func() (interface{}, error) {
		u, err := r.store.FindUpstreamByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load upstream '%s': %w", id, err)
		}
		r.registry.Delete(u.Name)
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Upstream), nil
}

// history loads one upstream's ordered target history through the per-ID
// history cache
func (r *Reconciler) history(ctx context.Context, id string) ([]domain.TargetEntry, error) {
	v, err := r.cache.GetOrCompute(HistoryCacheKey(id), func() (interface{}, error) {
		targets, err := r.store.FindAllTargets(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load target history for upstream '%s': %w", id, err)
		}
		return buildHistory(targets)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.TargetEntry), nil
}
