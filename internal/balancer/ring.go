package balancer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/allenfu2013/kong/internal/domain"
	"github.com/cespare/xxhash/v2"
)

// ErrNoPeers reports peer selection against a ring with no members
var ErrNoPeers = errors.New("no peers in ring")

// ErrUnknownHost reports removal of a (host, port) pair that is not a member
var ErrUnknownHost = errors.New("host is not a ring member")

type ringHost struct {
	host   string
	port   int
	weight int
}

// SlotRing implements domain.Ring as a fixed-size wheel of slots distributed
// among member hosts in proportion to their weights. The wheel layout is
// shuffled deterministically from the upstream's ordering seed, so two
// processes building a ring from the same history and seed agree on slot
// placement. Selection with a key hashes onto the wheel (xxhash); without a
// key, slots are walked round-robin.
//
// Member hostnames are resolved to addresses through the injected name
// resolver at selection time; in cache-only mode only already-cached records
// are used.
type SlotRing struct {
	mu    sync.RWMutex
	slots int
	seed  int64
	dns   domain.NameResolver
	hosts []ringHost
	wheel []int // slot -> index into hosts
	next  uint64
}

// NewSlotRing constructs an empty ring with the given slot count and seed
func NewSlotRing(slots int, seed int64, dns domain.NameResolver) (*SlotRing, error) {
	if slots < 1 {
		return nil, fmt.Errorf("ring slot count must be positive, got %d", slots)
	}
	return &SlotRing{
		slots: slots,
		seed:  seed,
		dns:   dns,
	}, nil
}

// AddHost adds (host, port) with the given weight, or updates the weight of
// an existing member. Weight must be positive.
func (r *SlotRing) AddHost(host string, port, weight int) error {
	if weight < 1 {
		return fmt.Errorf("host weight must be positive, got %d", weight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Copy on write so readers holding the previous hosts snapshot alongside
	// the previous wheel stay consistent.
	next := make([]ringHost, len(r.hosts), len(r.hosts)+1)
	copy(next, r.hosts)

	for i := range next {
		if next[i].host == host && next[i].port == port {
			next[i].weight = weight
			r.hosts = next
			r.rebuild()
			return nil
		}
	}
	r.hosts = append(next, ringHost{host: host, port: port, weight: weight})
	r.rebuild()
	return nil
}

// RemoveHost removes (host, port) from the ring
func (r *SlotRing) RemoveHost(host string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Build a fresh slice so readers holding the previous hosts snapshot
	// alongside the previous wheel stay consistent.
	kept := make([]ringHost, 0, len(r.hosts))
	found := false
	for _, h := range r.hosts {
		if h.host == host && h.port == port {
			found = true
			continue
		}
		kept = append(kept, h)
	}
	if !found {
		return fmt.Errorf("remove %s:%d: %w", host, port, ErrUnknownHost)
	}
	r.hosts = kept
	r.rebuild()
	return nil
}

// rebuild redistributes slots among members by weight. Caller must hold r.mu.
//
// Each host gets floor(slots * weight / total) slots; leftover slots go to
// the hosts with the largest remainders so the wheel is always fully
// assigned. The final layout is shuffled with the ring's seed.
func (r *SlotRing) rebuild() {
	if len(r.hosts) == 0 {
		r.wheel = nil
		return
	}

	total := 0
	for _, h := range r.hosts {
		total += h.weight
	}

	counts := make([]int, len(r.hosts))
	type rem struct {
		idx  int
		frac int
	}
	rems := make([]rem, 0, len(r.hosts))
	assigned := 0
	for i, h := range r.hosts {
		counts[i] = r.slots * h.weight / total
		assigned += counts[i]
		rems = append(rems, rem{idx: i, frac: r.slots * h.weight % total})
	}
	sort.Slice(rems, func(a, b int) bool {
		if rems[a].frac != rems[b].frac {
			return rems[a].frac > rems[b].frac
		}
		return rems[a].idx < rems[b].idx
	})
	for i := 0; assigned < r.slots; i = (i + 1) % len(rems) {
		counts[rems[i].idx]++
		assigned++
	}

	wheel := make([]int, 0, r.slots)
	for i, c := range counts {
		for j := 0; j < c; j++ {
			wheel = append(wheel, i)
		}
	}

	rnd := rand.New(rand.NewSource(r.seed))
	rnd.Shuffle(len(wheel), func(a, b int) {
		wheel[a], wheel[b] = wheel[b], wheel[a]
	})
	r.wheel = wheel
}

// SelectPeer picks a member and resolves it to an address. An empty selection
// key walks the wheel round-robin; a key always lands on the same slot until
// membership changes.
func (r *SlotRing) SelectPeer(ctx context.Context, selectionKey string, cacheOnly bool) (string, int, string, error) {
	r.mu.RLock()
	wheel := r.wheel
	hosts := r.hosts
	r.mu.RUnlock()

	if len(wheel) == 0 {
		return "", 0, "", ErrNoPeers
	}

	var slot int
	if selectionKey != "" {
		slot = int(xxhash.Sum64String(selectionKey) % uint64(len(wheel)))
	} else {
		n := atomic.AddUint64(&r.next, 1)
		slot = int((n - 1) % uint64(len(wheel)))
	}

	h := hosts[wheel[slot]]
	ip, port, err := r.dns.Resolve(ctx, h.host, h.port, cacheOnly)
	if err != nil {
		return "", 0, "", fmt.Errorf("select peer %s:%d: %w", h.host, h.port, err)
	}
	return ip, port, h.host, nil
}

// Hosts returns the current members as "host:port" -> weight
func (r *SlotRing) Hosts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.hosts))
	for _, h := range r.hosts {
		out[fmt.Sprintf("%s:%d", h.host, h.port)] = h.weight
	}
	return out
}
