package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/allenfu2013/kong/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore implements domain.Store using in-memory storage. Target rows
// are held as an append-only log per upstream: AddTarget only ever appends,
// matching the history invariant the reconciliation layer relies on.
type MemoryStore struct {
	mu        sync.RWMutex
	upstreams map[string]*domain.Upstream // keyed by ID
	targets   map[string][]*domain.Target // upstream ID -> append-only log
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		upstreams: make(map[string]*domain.Upstream),
		targets:   make(map[string][]*domain.Target),
	}
}

// FindAllUpstreams returns every upstream record
func (s *MemoryStore) FindAllUpstreams(ctx context.Context) ([]*domain.Upstream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Upstream, 0, len(s.upstreams))
	for _, u := range s.upstreams {
		out = append(out, u)
	}
	return out, nil
}

// FindUpstreamByID returns one upstream by its identifier
func (s *MemoryStore) FindUpstreamByID(ctx context.Context, id string) (*domain.Upstream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.upstreams[id]
	if !exists {
		return nil, fmt.Errorf("upstream with ID '%s' not found", id)
	}
	return u, nil
}

// FindAllTargets returns the raw target rows of one upstream
func (s *MemoryStore) FindAllTargets(ctx context.Context, upstreamID string) ([]*domain.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.targets[upstreamID]
	out := make([]*domain.Target, len(log))
	copy(out, log)
	return out, nil
}

// CreateUpstream adds a new upstream. Slots defaults to domain.DefaultSlots
// when zero. The name must be unique.
func (s *MemoryStore) CreateUpstream(name string, slots int, seed int64) (*domain.Upstream, error) {
	if name == "" {
		return nil, fmt.Errorf("upstream name cannot be empty")
	}
	if slots == 0 {
		slots = domain.DefaultSlots
	}
	if slots < 1 {
		return nil, fmt.Errorf("upstream slots must be positive, got %d", slots)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.upstreams {
		if u.Name == name {
			return nil, fmt.Errorf("upstream with name '%s' already exists", name)
		}
	}

	u := &domain.Upstream{
		ID:    uuid.NewString(),
		Name:  name,
		Slots: slots,
		Seed:  seed,
	}
	s.upstreams[u.ID] = u
	return u, nil
}

// DeleteUpstream removes an upstream and its target log by name
func (s *MemoryStore) DeleteUpstream(name string) (*domain.Upstream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.upstreams {
		if u.Name == name {
			delete(s.upstreams, id)
			delete(s.targets, id)
			return u, nil
		}
	}
	return nil, fmt.Errorf("upstream with name '%s' not found", name)
}

// UpstreamByName returns an upstream by name, or nil when absent
func (s *MemoryStore) UpstreamByName(name string) *domain.Upstream {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.upstreams {
		if u.Name == name {
			return u
		}
	}
	return nil
}

// AddTarget appends a target event to an upstream's log. Weight 0 records a
// removal, weight > 0 an addition or weight change. A removal is only
// accepted for a target whose latest event has positive weight; rejecting it
// here keeps every stored history replayable.
func (s *MemoryStore) AddTarget(upstreamID, target string, weight int) (*domain.Target, error) {
	if target == "" {
		return nil, fmt.Errorf("target cannot be empty")
	}
	if weight < 0 {
		return nil, fmt.Errorf("target weight cannot be negative, got %d", weight)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.upstreams[upstreamID]; !exists {
		return nil, fmt.Errorf("upstream with ID '%s' not found", upstreamID)
	}
	if weight == 0 && latestWeight(s.targets[upstreamID], target) == 0 {
		return nil, fmt.Errorf("target '%s' is not an active member of upstream '%s'", target, upstreamID)
	}

	t := &domain.Target{
		ID:         uuid.NewString(),
		UpstreamID: upstreamID,
		Target:     target,
		Weight:     weight,
		CreatedAt:  time.Now(),
	}
	s.targets[upstreamID] = append(s.targets[upstreamID], t)
	return t, nil
}

// latestWeight returns the weight of the most recent event for the given raw
// target string, or 0 when the log has none. Caller must hold s.mu.
func latestWeight(log []*domain.Target, target string) int {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Target == target {
			return log[i].Weight
		}
	}
	return 0
}

// Count returns the number of upstream records
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.upstreams)
}
