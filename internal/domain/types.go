package domain

import (
	"context"
	"net"
	"time"
)

// HostKind classifies the host field of a resolution target
type HostKind int

const (
	// HostName is a symbolic hostname that may match an upstream or require DNS
	HostName HostKind = iota
	// HostIPv4 is a literal IPv4 address
	HostIPv4
	// HostIPv6 is a literal IPv6 address
	HostIPv6
)

// String returns the string representation of HostKind
func (k HostKind) String() string {
	switch k {
	case HostName:
		return "name"
	case HostIPv4:
		return "ipv4"
	case HostIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// KindOfHost classifies a host string as a name or a literal address
func KindOfHost(host string) HostKind {
	ip := net.ParseIP(host)
	if ip == nil {
		return HostName
	}
	if ip.To4() != nil {
		return HostIPv4
	}
	return HostIPv6
}

const (
	// DefaultServicePort is used when a literal or DNS target carries no port
	DefaultServicePort = 80
	// DefaultTargetPort is used when an upstream target omits its port
	DefaultTargetPort = 8000
	// DefaultSlots is the default ring size for upstreams that do not set one
	DefaultSlots = 1000
)

// Upstream is a named, weighted group of backend targets. The slot count and
// ordering seed are fixed at ring-construction time; changing either requires
// a reload of the upstream, which discards the live balancer.
type Upstream struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Slots int    `json:"slots" yaml:"slots"`
	Seed  int64  `json:"seed" yaml:"seed"`
}

// Target records one membership change of an upstream: an addition when
// Weight > 0, a removal when Weight == 0. Target rows are append-only;
// existing rows are never mutated or reordered.
type Target struct {
	ID         string    `json:"id"`
	UpstreamID string    `json:"upstream_id"`
	Target     string    `json:"target"` // "host[:port]"
	Weight     int       `json:"weight"`
	CreatedAt  time.Time `json:"created_at"`
}

// TargetEntry is one normalized element of an upstream's ordered target
// history: the (host, port, weight) tuple plus the total-order key derived
// from the target's creation time and identifier. The same type records the
// applied-history side channel of a balancer instance.
type TargetEntry struct {
	Host   string
	Port   int
	Weight int
	Order  string
}

// ResolutionTarget is the caller-owned, per-request record that Resolve
// mutates in place. Tries counts prior attempts for the same logical request;
// any nonzero value puts resolution into cache-only mode. The balancer
// reference captured on the first attempt is reused verbatim on retries so
// the upstream caches are consulted at most once per request.
type ResolutionTarget struct {
	Host         string
	Port         int
	Kind         HostKind
	Tries        int
	SelectionKey string

	// Outputs written by Resolve
	IP       string
	Hostname string

	// Balancer reference captured on the first attempt. Stays nil when the
	// host matched no upstream, which sends retries down the DNS path too.
	Balancer *BalancerInstance
}

// NewResolutionTarget builds a resolution target for one logical request,
// classifying the host as a name or literal address.
func NewResolutionTarget(host string, port int) *ResolutionTarget {
	return &ResolutionTarget{
		Host: host,
		Port: port,
		Kind: KindOfHost(host),
	}
}

// Store is the persistence boundary for upstream and target records
type Store interface {
	// FindAllUpstreams returns every upstream record
	FindAllUpstreams(ctx context.Context) ([]*Upstream, error)
	// FindUpstreamByID returns one upstream by its identifier
	FindUpstreamByID(ctx context.Context, id string) (*Upstream, error)
	// FindAllTargets returns the raw target rows of one upstream, unordered
	FindAllTargets(ctx context.Context, upstreamID string) ([]*Target, error)
}

// Ring is the weighted-selection structure consumed as a black box by the
// reconciliation layer. Implementations own their internal slot mechanics
// and any DNS work needed to turn a member hostname into an address.
type Ring interface {
	// AddHost adds (host, port) with the given positive weight, or updates
	// the weight when the pair is already a member
	AddHost(host string, port, weight int) error
	// RemoveHost removes (host, port) from the ring
	RemoveHost(host string, port int) error
	// SelectPeer picks a member and resolves it to an address. An empty
	// selection key means unweighted rotation. cacheOnly forbids fresh DNS
	// work, permitting only already-resolved addresses.
	SelectPeer(ctx context.Context, selectionKey string, cacheOnly bool) (ip string, port int, hostname string, err error)
}

// RingFactory constructs a ring with the given slot count and ordering seed
type RingFactory func(slots int, seed int64) (Ring, error)

// NameResolver is the DNS primitive used for hosts that match no upstream,
// and by ring implementations for member hostnames
type NameResolver interface {
	// Resolve turns (host, port) into (ip, port). cacheOnly forbids fresh
	// lookups and only serves from already-cached records.
	Resolve(ctx context.Context, host string, port int, cacheOnly bool) (ip string, outPort int, err error)
}
