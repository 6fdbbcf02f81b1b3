// Package resolver turns a logical upstream hostname into a concrete address
// at request time. A literal address passes straight through; a symbolic
// name is either served by the matching upstream's balancer or, failing
// that, resolved directly through DNS.
package resolver

import (
	"context"
	"fmt"

	"github.com/allenfu2013/kong/internal/domain"
	"github.com/allenfu2013/kong/pkg/logger"
)

// BalancerSource hands out reconciled balancer instances by upstream name.
// A nil instance with nil error means the name matched no upstream.
type BalancerSource interface {
	GetBalancer(ctx context.Context, name string) (*domain.BalancerInstance, error)
}

// Resolver is the per-request resolution entry point
type Resolver struct {
	balancers BalancerSource
	dns       domain.NameResolver
	logger    *logger.Logger
}

// New creates a resolver over a balancer source and a DNS primitive
func New(balancers BalancerSource, dns domain.NameResolver, log *logger.Logger) *Resolver {
	return &Resolver{
		balancers: balancers,
		dns:       dns,
		logger:    log.ResolverLogger(),
	}
}

// Resolve resolves target in place, writing IP, Port and (on a balancer hit)
// Hostname. The first attempt (Tries == 0) consults the upstream caches and
// pins the resulting balancer reference on the target; retries run in
// cache-only mode and reuse that reference without re-resolving the
// upstream. Callers own retry policy: bump Tries and call again.
func (r *Resolver) Resolve(ctx context.Context, target *domain.ResolutionTarget) error {
	if target.Kind != domain.HostName {
		target.IP = target.Host
		if target.Port == 0 {
			target.Port = domain.DefaultServicePort
		}
		return nil
	}

	// Retries must not block on fresh pool or DNS lookups; only state
	// cached by the first attempt may be used.
	cacheOnly := target.Tries != 0

	if target.Tries == 0 {
		inst, err := r.balancers.GetBalancer(ctx, target.Host)
		if err != nil {
			return fmt.Errorf("resolve '%s': %w", target.Host, err)
		}
		target.Balancer = inst
	}

	if target.Balancer != nil {
		ip, port, hostname, err := target.Balancer.SelectPeer(ctx, target.SelectionKey, cacheOnly)
		if err != nil {
			return fmt.Errorf("resolve '%s': %w", target.Host, err)
		}
		target.IP = ip
		target.Port = port
		target.Hostname = hostname

		r.logger.WithField("host", target.Host).
			WithField("peer", fmt.Sprintf("%s:%d", ip, port)).
			Debug("Resolved via upstream balancer")
		return nil
	}

	ip, port, err := r.dns.Resolve(ctx, target.Host, target.Port, cacheOnly)
	if err != nil {
		return fmt.Errorf("resolve '%s': %w", target.Host, err)
	}
	target.IP = ip
	target.Port = port
	return nil
}
