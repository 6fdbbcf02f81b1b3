// Package dns implements the name-resolution primitive used for hosts that
// match no upstream, and by the slot ring for member hostnames. Resolved
// records are cached with a TTL; cache-only mode serves exclusively from the
// cache so retries never trigger fresh lookups, and a cached record that has
// expired is still served there. Retries may therefore see addresses up to
// one TTL staler than first attempts.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allenfu2013/kong/internal/domain"
	"github.com/allenfu2013/kong/pkg/logger"
)

// ErrNotCached reports a cache-only resolution for a host with no cached
// record. Callers in retry mode must not block on fresh DNS work, so this is
// surfaced instead of performing a lookup.
var ErrNotCached = errors.New("no cached DNS record")

// ErrNoRecords reports a lookup that succeeded but returned no usable address
var ErrNoRecords = errors.New("no address records")

// LookupFunc is the underlying host lookup, injectable for tests.
// The default is net.DefaultResolver.LookupHost.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

type record struct {
	ips     []string
	expires time.Time
}

// Resolver resolves hostnames to addresses with a TTL cache. Multiple A
// records rotate round-robin across calls.
type Resolver struct {
	mu      sync.RWMutex
	records map[string]*record
	ttl     time.Duration
	lookup  LookupFunc
	next    uint64
	logger  *logger.Logger
}

// NewResolver creates a resolver with the given record TTL. A nil lookup
// falls back to the system resolver.
func NewResolver(ttl time.Duration, lookup LookupFunc, log *logger.Logger) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	return &Resolver{
		records: make(map[string]*record),
		ttl:     ttl,
		lookup:  lookup,
		logger:  log.DNSLogger(),
	}
}

// Resolve implements domain.NameResolver. Literal IP hosts pass through
// unchanged. In cache-only mode an expired record is still served; staleness
// is preferable to blocking a retry on a fresh lookup.
func (r *Resolver) Resolve(ctx context.Context, host string, port int, cacheOnly bool) (string, int, error) {
	if port == 0 {
		port = domain.DefaultServicePort
	}
	if domain.KindOfHost(host) != domain.HostName {
		return host, port, nil
	}

	r.mu.RLock()
	rec, ok := r.records[host]
	r.mu.RUnlock()

	if ok && (cacheOnly || time.Now().Before(rec.expires)) {
		return r.rotate(rec.ips), port, nil
	}
	if cacheOnly {
		return "", 0, fmt.Errorf("resolve %s: %w", host, ErrNotCached)
	}

	ips, err := r.lookup(ctx, host)
	if err != nil {
		return "", 0, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return "", 0, fmt.Errorf("resolve %s: %w", host, ErrNoRecords)
	}

	r.mu.Lock()
	r.records[host] = &record{ips: ips, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	r.logger.WithField("host", host).
		WithField("records", len(ips)).
		Debug("Cached DNS records")

	return r.rotate(ips), port, nil
}

// rotate picks the next address round-robin across all calls
func (r *Resolver) rotate(ips []string) string {
	n := atomic.AddUint64(&r.next, 1)
	return ips[(n-1)%uint64(len(ips))]
}

// Flush drops all cached records
func (r *Resolver) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*record)
}
