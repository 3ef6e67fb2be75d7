package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShutdownRunsLIFO(t *testing.T) {
	m := New(time.Second, nil)

	var order []string
	m.Register("store", func(context.Context) error { order = append(order, "store"); return nil })
	m.Register("tracer", func(context.Context) error { order = append(order, "tracer"); return nil })
	m.Register("http", func(context.Context) error { order = append(order, "http"); return errors.New("busy") })

	errs := m.Shutdown()

	if len(order) != 3 || order[0] != "http" || order[1] != "tracer" || order[2] != "store" {
		t.Errorf("Expected http, tracer, store; got %v", order)
	}
	if len(errs) != 1 {
		t.Errorf("Expected 1 error, got %v", errs)
	}

	select {
	case <-m.Done():
	default:
		t.Error("Expected Done to be closed after Shutdown")
	}

	// A second call has nothing left to run
	if errs := m.Shutdown(); len(errs) != 0 {
		t.Errorf("Expected no errors on second shutdown, got %v", errs)
	}
}

func TestWaitWithContextCancelled(t *testing.T) {
	m := New(time.Second, nil)
	ran := false
	m.Register("ledger", func(context.Context) error { ran = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.WaitWithContext(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if !ran {
		t.Error("Expected shutdown functions to run on cancellation")
	}
}

func TestWaitFor(t *testing.T) {
	calls := 0
	fn := WaitFor(func() bool { calls++; return calls > 2 }, time.Millisecond)
	if err := fn(context.Background()); err != nil {
		t.Fatalf("Expected WaitFor to succeed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := WaitFor(func() bool { return false }, time.Millisecond)(ctx); err == nil {
		t.Error("Expected timeout error")
	}
}
