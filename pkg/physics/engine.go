package physics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/physician/pkg/resources"
)

// Engine hands out exclusive simulation sessions. The underlying world is
// not safe for concurrent use, so each session holds a lease on one slot.
type Engine struct {
	leases *resources.Manager
}

// NewEngine registers sessions slots on leases and returns an engine using them
func NewEngine(leases *resources.Manager, sessions int) *Engine {
	leases.Register(resources.ResourcePhysicsSession, sessions)
	return &Engine{leases: leases}
}

// Session is a connected world plus the lease that guards it
type Session struct {
	*World

	Owner string
	lease *resources.Lease
	once  sync.Once
}

// Connect opens a fresh world for owner, waiting up to wait for a free slot.
// Errors wrap resources.ErrBusy when no slot became available.
func (e *Engine) Connect(ctx context.Context, owner string, wait time.Duration) (*Session, error) {
	lease, err := e.leases.Acquire(ctx, resources.ResourcePhysicsSession, owner, wait)
	if err != nil {
		return nil, fmt.Errorf("failed to connect physics session: %w", err)
	}
	return &Session{World: NewWorld(), Owner: owner, lease: lease}, nil
}

// Disconnect tears the world down and frees the slot. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.once.Do(func() {
		s.World.Close()
		s.lease.Release()
	})
}

// LeaseAge is how long this session has been connected
func (s *Session) LeaseAge() time.Duration {
	return s.lease.Age()
}

// ReclaimLingering force-disconnects sessions connected for longer than maxAge
// and returns the owners that were evicted.
func (e *Engine) ReclaimLingering(maxAge time.Duration) []string {
	var owners []string
	for _, lease := range e.leases.ReclaimStale(resources.ResourcePhysicsSession, maxAge) {
		owners = append(owners, lease.Owner)
	}
	return owners
}

// Usage reports slot occupancy
func (e *Engine) Usage() (resources.Usage, error) {
	return e.leases.Usage(resources.ResourcePhysicsSession)
}
