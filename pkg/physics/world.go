// Package physics is a small rigid-body engine: axis-aligned boxes under
// gravity, one infinite ground plane with Coulomb friction, and external
// forces that last for a single step.
package physics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// StandardGravity is Earth gravity along -Z in m/s^2
const StandardGravity = -9.81

const (
	// contactSlop is how far above the plane a box still counts as touching it
	contactSlop = 1e-6
	// restingSpeed is the lateral speed under which static friction applies
	restingSpeed = 1e-4
)

var (
	ErrDisconnected = errors.New("physics world disconnected")
	ErrInvalidBody  = errors.New("invalid body")
	ErrUnstable     = errors.New("simulation became numerically unstable")
)

// Body is a dynamic box. Orientation is not tracked.
type Body struct {
	ID         int
	Mass       float64
	HalfExtent float64

	pos   r3.Vec
	vel   r3.Vec
	force r3.Vec
}

// Position returns the centre of mass in world coordinates
func (b *Body) Position() r3.Vec { return b.pos }

// Velocity returns the linear velocity
func (b *Body) Velocity() r3.Vec { return b.vel }

// Bottom is the height of the lowest face
func (b *Body) Bottom() float64 { return b.pos.Z - b.HalfExtent }

type groundPlane struct {
	friction float64
}

// World holds the bodies of one simulation session
type World struct {
	gravity r3.Vec
	ground  *groundPlane
	bodies  []*Body
	nextID  int
	steps   int
	closed  bool
}

// NewWorld creates an empty world with no gravity and no ground
func NewWorld() *World {
	return &World{}
}

// SetGravity sets the gravity vector applied to every body
func (w *World) SetGravity(g r3.Vec) {
	w.gravity = g
}

// AddGroundPlane places an infinite plane at z=0 with the given lateral friction
func (w *World) AddGroundPlane(friction float64) error {
	if w.closed {
		return ErrDisconnected
	}
	if friction < 0 || math.IsNaN(friction) || math.IsInf(friction, 0) {
		return fmt.Errorf("invalid ground friction %v", friction)
	}
	w.ground = &groundPlane{friction: friction}
	return nil
}

// GroundFriction returns the plane's lateral friction, or 0 without a plane
func (w *World) GroundFriction() float64 {
	if w.ground == nil {
		return 0
	}
	return w.ground.friction
}

// AddBox spawns a dynamic cube centred at pos
func (w *World) AddBox(pos r3.Vec, halfExtent, mass float64) (*Body, error) {
	if w.closed {
		return nil, ErrDisconnected
	}
	if !(mass > 0) || math.IsInf(mass, 0) {
		return nil, fmt.Errorf("%w: mass must be positive, got %v", ErrInvalidBody, mass)
	}
	if !(halfExtent > 0) || math.IsInf(halfExtent, 0) {
		return nil, fmt.Errorf("%w: half extent must be positive, got %v", ErrInvalidBody, halfExtent)
	}

	b := &Body{ID: w.nextID, Mass: mass, HalfExtent: halfExtent, pos: pos}
	w.nextID++
	w.bodies = append(w.bodies, b)
	return b, nil
}

// ApplyExternalForce adds f (newtons, world frame) to b for the next step only
func (w *World) ApplyExternalForce(b *Body, f r3.Vec) error {
	if w.closed {
		return ErrDisconnected
	}
	if b == nil {
		return fmt.Errorf("%w: nil body", ErrInvalidBody)
	}
	b.force = r3.Add(b.force, f)
	return nil
}

// Steps returns how many times Step has advanced the world
func (w *World) Steps() int { return w.steps }

// Step advances the world by dt seconds using semi-implicit Euler integration.
// Accumulated external forces are cleared afterwards.
func (w *World) Step(dt float64) error {
	if w.closed {
		return ErrDisconnected
	}
	if !(dt > 0) {
		return fmt.Errorf("invalid time step %v", dt)
	}

	for _, b := range w.bodies {
		w.integrate(b, dt)
		b.force = r3.Vec{}
		if !finite(b.pos) || !finite(b.vel) {
			return fmt.Errorf("%w: body %d at %v", ErrUnstable, b.ID, b.pos)
		}
	}
	w.steps++
	return nil
}

func (w *World) integrate(b *Body, dt float64) {
	net := r3.Add(b.force, r3.Scale(b.Mass, w.gravity))

	if w.touchingGround(b) {
		normal := 0.0
		if net.Z < 0 {
			normal = -net.Z
			net.Z = 0
		}
		net = w.applyFriction(b, net, normal, dt)
	}

	b.vel = r3.Add(b.vel, r3.Scale(dt/b.Mass, net))
	b.pos = r3.Add(b.pos, r3.Scale(dt, b.vel))

	if w.ground != nil && b.Bottom() < 0 {
		b.pos.Z = b.HalfExtent
		if b.vel.Z < 0 {
			b.vel.Z = 0
		}
	}
}

func (w *World) touchingGround(b *Body) bool {
	return w.ground != nil && b.Bottom() <= contactSlop && b.vel.Z <= 0
}

// applyFriction returns net with the Coulomb friction force added. Static
// friction cancels the lateral force outright; kinetic friction opposes the
// sliding direction and never reverses it within one step.
func (w *World) applyFriction(b *Body, net r3.Vec, normal, dt float64) r3.Vec {
	limit := w.ground.friction * normal
	lateral := r3.Vec{X: net.X, Y: net.Y}
	slide := r3.Vec{X: b.vel.X, Y: b.vel.Y}
	speed := r3.Norm(slide)

	if speed < restingSpeed {
		push := r3.Norm(lateral)
		if push <= limit {
			b.vel.X, b.vel.Y = 0, 0
			return r3.Vec{Z: net.Z}
		}
		return r3.Add(net, r3.Scale(-limit/push, lateral))
	}

	friction := r3.Scale(-limit/speed, slide)
	// Friction alone would stop the body inside this step
	stopping := r3.Scale(-b.Mass/dt, slide)
	if r3.Norm(friction) > r3.Norm(stopping) && r3.Norm(lateral) <= limit {
		return r3.Vec{X: stopping.X, Y: stopping.Y, Z: net.Z}
	}
	return r3.Add(net, friction)
}

// Close disconnects the world; later calls fail with ErrDisconnected
func (w *World) Close() {
	w.closed = true
	w.bodies = nil
	w.ground = nil
}

func finite(v r3.Vec) bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
