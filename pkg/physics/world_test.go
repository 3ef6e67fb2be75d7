package physics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/psantana5/physician/pkg/resources"
)

const testDT = 1.0 / 240.0

func newGroundedWorld(t *testing.T, friction float64) *World {
	t.Helper()
	w := NewWorld()
	w.SetGravity(r3.Vec{Z: StandardGravity})
	if err := w.AddGroundPlane(friction); err != nil {
		t.Fatalf("Failed to add ground plane: %v", err)
	}
	return w
}

func stepN(t *testing.T, w *World, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := w.Step(testDT); err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
	}
}

func TestBoxSettlesOnGround(t *testing.T) {
	w := newGroundedWorld(t, 0.5)
	box, err := w.AddBox(r3.Vec{Z: 1.0}, 0.25, 2.0)
	if err != nil {
		t.Fatalf("Failed to add box: %v", err)
	}

	stepN(t, w, 400)

	z := box.Position().Z
	if math.Abs(z-0.25) > 1e-9 {
		t.Errorf("Expected box to rest at z=0.25, got %v", z)
	}
	if box.Velocity().Z != 0 {
		t.Errorf("Expected zero vertical velocity at rest, got %v", box.Velocity().Z)
	}
	if w.Steps() != 400 {
		t.Errorf("Expected 400 steps, got %d", w.Steps())
	}
}

func TestFreeFallWithoutGround(t *testing.T) {
	w := NewWorld()
	w.SetGravity(r3.Vec{Z: StandardGravity})
	box, _ := w.AddBox(r3.Vec{Z: 10}, 0.25, 1.0)

	stepN(t, w, 240) // one second

	// Semi-implicit Euler lands within a few centimetres of 10 - g/2
	want := 10 + 0.5*StandardGravity
	if got := box.Position().Z; math.Abs(got-want) > 0.05 {
		t.Errorf("Expected z near %.3f after 1s, got %.3f", want, got)
	}
}

func TestStaticFrictionHoldsSmallPush(t *testing.T) {
	w := newGroundedWorld(t, 0.5)
	box, _ := w.AddBox(r3.Vec{Z: 0.25}, 0.25, 1.0)

	// limit is 0.5 * 9.81 N
	for i := 0; i < 100; i++ {
		if err := w.ApplyExternalForce(box, r3.Vec{X: 3}); err != nil {
			t.Fatalf("ApplyExternalForce failed: %v", err)
		}
		stepN(t, w, 1)
	}

	if x := box.Position().X; x != 0 {
		t.Errorf("Expected box to stay put under static friction, moved to x=%v", x)
	}
}

func TestKineticFrictionStopsSlidingBox(t *testing.T) {
	w := newGroundedWorld(t, 0.5)
	box, _ := w.AddBox(r3.Vec{Z: 0.25}, 0.25, 1.0)

	for i := 0; i < 10; i++ {
		w.ApplyExternalForce(box, r3.Vec{X: 100})
		stepN(t, w, 1)
	}
	if vx := box.Velocity().X; vx <= 0 {
		t.Fatalf("Expected box to slide in +X, got vx=%v", vx)
	}

	stepN(t, w, 400)
	x := box.Position().X
	if vx := box.Velocity().X; math.Abs(vx) > 1e-9 {
		t.Errorf("Expected friction to stop the box, got vx=%v", vx)
	}

	stepN(t, w, 10)
	if box.Position().X != x {
		t.Errorf("Expected box to stay stopped, moved from %v to %v", x, box.Position().X)
	}
}

func TestLowerFrictionSlidesFurther(t *testing.T) {
	distance := func(mu float64) float64 {
		w := newGroundedWorld(t, mu)
		box, _ := w.AddBox(r3.Vec{Z: 0.25}, 0.25, 1.0)
		for i := 0; i < 5; i++ {
			w.ApplyExternalForce(box, r3.Vec{X: 50})
			stepN(t, w, 1)
		}
		stepN(t, w, 480)
		return box.Position().X
	}

	icy, rubber := distance(0.1), distance(1.0)
	if icy <= rubber {
		t.Errorf("Expected mu=0.1 to slide further than mu=1.0, got %.3f vs %.3f", icy, rubber)
	}
}

func TestExternalForceLastsOneStep(t *testing.T) {
	w := NewWorld()
	box, _ := w.AddBox(r3.Vec{}, 0.25, 1.0)

	w.ApplyExternalForce(box, r3.Vec{Z: 240})
	stepN(t, w, 1)
	v1 := box.Velocity().Z
	stepN(t, w, 1)

	if math.Abs(v1-1.0) > 1e-12 {
		t.Errorf("Expected velocity 1.0 after one impulse step, got %v", v1)
	}
	if box.Velocity().Z != v1 {
		t.Errorf("Expected constant velocity once the force is cleared, got %v", box.Velocity().Z)
	}
}

func TestUpwardForceLeavesGround(t *testing.T) {
	w := newGroundedWorld(t, 1.0)
	box, _ := w.AddBox(r3.Vec{Z: 0.25}, 0.25, 2.0)

	for i := 0; i < 30; i++ {
		w.ApplyExternalForce(box, r3.Vec{Z: 3000})
		stepN(t, w, 1)
	}
	if z := box.Position().Z; z < 5 {
		t.Errorf("Expected box to climb above 5m, got z=%v", z)
	}
}

func TestInvalidInputs(t *testing.T) {
	w := NewWorld()

	tests := []struct {
		name       string
		halfExtent float64
		mass       float64
	}{
		{"zero mass", 0.25, 0},
		{"negative mass", 0.25, -1},
		{"NaN mass", 0.25, math.NaN()},
		{"zero extent", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := w.AddBox(r3.Vec{}, tt.halfExtent, tt.mass); !errors.Is(err, ErrInvalidBody) {
				t.Errorf("Expected ErrInvalidBody, got %v", err)
			}
		})
	}

	if err := w.AddGroundPlane(-0.1); err == nil {
		t.Error("Expected error for negative friction")
	}
	if err := w.Step(0); err == nil {
		t.Error("Expected error for zero time step")
	}
	if err := w.ApplyExternalForce(nil, r3.Vec{}); !errors.Is(err, ErrInvalidBody) {
		t.Errorf("Expected ErrInvalidBody for nil body, got %v", err)
	}
}

func TestNonFiniteForceIsReported(t *testing.T) {
	w := NewWorld()
	box, _ := w.AddBox(r3.Vec{}, 0.25, 1.0)
	w.ApplyExternalForce(box, r3.Vec{X: math.Inf(1)})

	if err := w.Step(testDT); !errors.Is(err, ErrUnstable) {
		t.Errorf("Expected ErrUnstable, got %v", err)
	}
}

func TestClosedWorldRejectsCalls(t *testing.T) {
	w := NewWorld()
	box, _ := w.AddBox(r3.Vec{}, 0.25, 1.0)
	w.Close()

	if err := w.Step(testDT); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Expected ErrDisconnected from Step, got %v", err)
	}
	if err := w.ApplyExternalForce(box, r3.Vec{}); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Expected ErrDisconnected from ApplyExternalForce, got %v", err)
	}
	if _, err := w.AddBox(r3.Vec{}, 0.25, 1.0); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Expected ErrDisconnected from AddBox, got %v", err)
	}
}

func TestEngineSessionsAreExclusive(t *testing.T) {
	engine := NewEngine(resources.NewManager(), 1)
	ctx := context.Background()

	first, err := engine.Connect(ctx, "req-1", 0)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	if _, err := engine.Connect(ctx, "req-2", 0); !errors.Is(err, resources.ErrBusy) {
		t.Fatalf("Expected ErrBusy for second session, got %v", err)
	}

	first.Disconnect()
	first.Disconnect()

	if err := first.Step(testDT); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Expected disconnected world after Disconnect, got %v", err)
	}

	second, err := engine.Connect(ctx, "req-2", 0)
	if err != nil {
		t.Fatalf("Expected reconnect after disconnect, got %v", err)
	}
	defer second.Disconnect()

	usage, _ := engine.Usage()
	if usage.Available != 0 || len(usage.Holders) != 1 || usage.Holders[0] != "req-2" {
		t.Errorf("Unexpected usage %+v", usage)
	}
}

func TestEngineReclaimLingering(t *testing.T) {
	engine := NewEngine(resources.NewManager(), 1)
	hung, err := engine.Connect(context.Background(), "hung", 0)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	owners := engine.ReclaimLingering(time.Millisecond)
	if len(owners) != 1 || owners[0] != "hung" {
		t.Fatalf("Expected hung session reclaimed, got %v", owners)
	}

	next, err := engine.Connect(context.Background(), "next", 0)
	if err != nil {
		t.Fatalf("Expected connect after reclaim, got %v", err)
	}
	hung.Disconnect() // late teardown must not free next's slot
	if _, err := engine.Connect(context.Background(), "third", 0); !errors.Is(err, resources.ErrBusy) {
		t.Errorf("Expected ErrBusy while next holds the slot, got %v", err)
	}
	next.Disconnect()
}
