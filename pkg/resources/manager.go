package resources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResourceType represents the type of resource
type ResourceType string

const (
	// ResourcePhysicsSession is a connection slot on the physics engine.
	// The engine is non-reentrant, so the default capacity is one.
	ResourcePhysicsSession ResourceType = "physics_session"
)

var (
	ErrBusy            = errors.New("resource busy")
	ErrUnknownResource = errors.New("resource not registered")
)

// Lease is a held slot on a resource. Release is safe to call more than once.
type Lease struct {
	ID         string
	Owner      string
	Resource   ResourceType
	AcquiredAt time.Time

	mgr *Manager
}

// Release returns the slot to its pool. Releasing a lease that was already
// released or reclaimed is a no-op.
func (l *Lease) Release() {
	if l == nil || l.mgr == nil {
		return
	}
	l.mgr.release(l.ID)
}

// Age returns how long the lease has been held
func (l *Lease) Age() time.Duration {
	return l.mgr.now().Sub(l.AcquiredAt)
}

// Usage is a snapshot of one resource pool
type Usage struct {
	Resource  ResourceType `json:"resource"`
	Capacity  int          `json:"capacity"`
	Available int          `json:"available"`
	Holders   []string     `json:"holders,omitempty"`
	Reclaimed int64        `json:"reclaimed"`
}

type pool struct {
	capacity  int
	available int
	reclaimed int64
	// freed is closed and replaced every time a slot is returned
	freed chan struct{}
}

// Manager manages exclusive leases on scarce resources
type Manager struct {
	mu     sync.Mutex
	pools  map[ResourceType]*pool
	leases map[string]*Lease // leaseID -> lease
	now    func() time.Time
}

// NewManager creates a new resource manager
func NewManager() *Manager {
	return &Manager{
		pools:  make(map[ResourceType]*pool),
		leases: make(map[string]*Lease),
		now:    time.Now,
	}
}

// Register declares a resource with the given number of concurrent slots.
// Re-registering resets capacity but keeps outstanding leases counted.
func (m *Manager) Register(rt ResourceType, capacity int) {
	if capacity < 1 {
		capacity = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	held := 0
	for _, l := range m.leases {
		if l.Resource == rt {
			held++
		}
	}
	p, exists := m.pools[rt]
	if !exists {
		p = &pool{freed: make(chan struct{})}
		m.pools[rt] = p
	}
	p.capacity = capacity
	p.available = capacity - held
}

// TryAcquire takes a slot without waiting. It returns ErrBusy when every slot is held.
func (m *Manager) TryAcquire(rt ResourceType, owner string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, _, err := m.tryAcquireLocked(rt, owner)
	return lease, err
}

// Acquire takes a slot, waiting up to wait for one to be freed.
// A zero wait behaves like TryAcquire.
func (m *Manager) Acquire(ctx context.Context, rt ResourceType, owner string, wait time.Duration) (*Lease, error) {
	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		m.mu.Lock()
		lease, freed, err := m.tryAcquireLocked(rt, owner)
		m.mu.Unlock()

		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrBusy) || wait <= 0 {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", rt, ctx.Err())
		case <-deadline:
			return nil, fmt.Errorf("%w: %s still held after %v", ErrBusy, rt, wait)
		case <-freed:
		}
	}
}

func (m *Manager) tryAcquireLocked(rt ResourceType, owner string) (*Lease, <-chan struct{}, error) {
	p, exists := m.pools[rt]
	if !exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownResource, rt)
	}
	if p.available <= 0 {
		return nil, p.freed, fmt.Errorf("%w: %s has no free slot (capacity %d)", ErrBusy, rt, p.capacity)
	}

	p.available--
	lease := &Lease{
		ID:         uuid.New().String(),
		Owner:      owner,
		Resource:   rt,
		AcquiredAt: m.now(),
		mgr:        m,
	}
	m.leases[lease.ID] = lease
	return lease, nil, nil
}

func (m *Manager) release(leaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, exists := m.leases[leaseID]
	if !exists {
		return
	}
	delete(m.leases, leaseID)
	m.freeSlotLocked(lease.Resource)
}

func (m *Manager) freeSlotLocked(rt ResourceType) {
	p, exists := m.pools[rt]
	if !exists {
		return
	}
	if p.available < p.capacity {
		p.available++
	}
	close(p.freed)
	p.freed = make(chan struct{})
}

// ReclaimStale force-releases leases on rt held longer than maxAge and returns them.
// The original holders' later Release calls become no-ops.
func (m *Manager) ReclaimStale(rt ResourceType, maxAge time.Duration) []*Lease {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var reclaimed []*Lease
	for id, lease := range m.leases {
		if lease.Resource != rt || now.Sub(lease.AcquiredAt) <= maxAge {
			continue
		}
		delete(m.leases, id)
		m.freeSlotLocked(rt)
		if p, ok := m.pools[rt]; ok {
			p.reclaimed++
		}
		reclaimed = append(reclaimed, lease)
	}
	return reclaimed
}

// Usage returns the current state of a resource pool
func (m *Manager) Usage(rt ResourceType) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.pools[rt]
	if !exists {
		return Usage{}, fmt.Errorf("%w: %s", ErrUnknownResource, rt)
	}

	var holders []string
	for _, lease := range m.leases {
		if lease.Resource == rt {
			holders = append(holders, lease.Owner)
		}
	}
	sort.Strings(holders)

	return Usage{
		Resource:  rt,
		Capacity:  p.capacity,
		Available: p.available,
		Holders:   holders,
		Reclaimed: p.reclaimed,
	}, nil
}
