package resources

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLeaseLifecycle(t *testing.T) {
	manager := NewManager()
	manager.Register(ResourcePhysicsSession, 1)

	lease, err := manager.TryAcquire(ResourcePhysicsSession, "req-1")
	if err != nil {
		t.Fatalf("Failed to acquire session: %v", err)
	}

	usage, err := manager.Usage(ResourcePhysicsSession)
	if err != nil {
		t.Fatalf("Failed to get usage: %v", err)
	}
	if usage.Available != 0 {
		t.Errorf("Expected 0 available slots, got %d", usage.Available)
	}
	if len(usage.Holders) != 1 || usage.Holders[0] != "req-1" {
		t.Errorf("Expected holder req-1, got %v", usage.Holders)
	}

	// Second acquisition must fail while the first lease is held
	if _, err := manager.TryAcquire(ResourcePhysicsSession, "req-2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}

	lease.Release()
	lease.Release() // idempotent

	usage, _ = manager.Usage(ResourcePhysicsSession)
	if usage.Available != 1 {
		t.Errorf("Expected 1 available slot after release, got %d", usage.Available)
	}

	if _, err := manager.TryAcquire(ResourcePhysicsSession, "req-2"); err != nil {
		t.Fatalf("Expected acquisition after release to succeed, got %v", err)
	}
}

func TestUnknownResource(t *testing.T) {
	manager := NewManager()
	if _, err := manager.TryAcquire("gpu", "req-1"); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Expected ErrUnknownResource, got %v", err)
	}
}

func TestReclaimStale(t *testing.T) {
	manager := NewManager()
	now := time.Now()
	manager.now = func() time.Time { return now }
	manager.Register(ResourcePhysicsSession, 1)

	stale, err := manager.TryAcquire(ResourcePhysicsSession, "hung-request")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}

	// Not old enough yet
	if got := manager.ReclaimStale(ResourcePhysicsSession, time.Minute); len(got) != 0 {
		t.Fatalf("Expected nothing reclaimed, got %d", len(got))
	}

	now = now.Add(2 * time.Minute)
	reclaimed := manager.ReclaimStale(ResourcePhysicsSession, time.Minute)
	if len(reclaimed) != 1 || reclaimed[0].Owner != "hung-request" {
		t.Fatalf("Expected hung-request to be reclaimed, got %v", reclaimed)
	}

	fresh, err := manager.TryAcquire(ResourcePhysicsSession, "next-request")
	if err != nil {
		t.Fatalf("Expected slot to be free after reclaim, got %v", err)
	}

	// The reclaimed holder releasing late must not free the new holder's slot
	stale.Release()
	if _, err := manager.TryAcquire(ResourcePhysicsSession, "third"); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy after stale release, got %v", err)
	}

	fresh.Release()
	usage, _ := manager.Usage(ResourcePhysicsSession)
	if usage.Reclaimed != 1 {
		t.Errorf("Expected reclaimed count 1, got %d", usage.Reclaimed)
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	manager := NewManager()
	manager.Register(ResourcePhysicsSession, 1)

	first, err := manager.TryAcquire(ResourcePhysicsSession, "first")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var second *Lease
	var secondErr error
	go func() {
		defer wg.Done()
		second, secondErr = manager.Acquire(context.Background(), ResourcePhysicsSession, "second", 2*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	first.Release()
	wg.Wait()

	if secondErr != nil {
		t.Fatalf("Expected waiting acquisition to succeed, got %v", secondErr)
	}
	second.Release()
}

func TestAcquireWaitTimesOut(t *testing.T) {
	manager := NewManager()
	manager.Register(ResourcePhysicsSession, 1)

	held, _ := manager.TryAcquire(ResourcePhysicsSession, "holder")
	defer held.Release()

	start := time.Now()
	_, err := manager.Acquire(context.Background(), ResourcePhysicsSession, "waiter", 50*time.Millisecond)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy after wait, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("Acquire returned before the wait elapsed")
	}
}

func TestConcurrentAcquireNeverExceedsCapacity(t *testing.T) {
	manager := NewManager()
	manager.Register(ResourcePhysicsSession, 1)

	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := manager.Acquire(context.Background(), ResourcePhysicsSession, "worker", 5*time.Second)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			lease.Release()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("Expected at most 1 concurrent holder, saw %d", maxActive)
	}
}
