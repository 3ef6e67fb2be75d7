package models

import (
	"errors"
	"fmt"
	"math"
)

// Friction coefficients outside this band are undefined for the contact model.
const (
	MinFrictionMu = 0.1
	MaxFrictionMu = 1.0

	// GovernorFrictionThreshold is the friction below which the low-friction
	// governor advisory is raised.
	GovernorFrictionThreshold = 0.4
)

var (
	ErrFrictionOutOfRange = errors.New("friction_mu out of range")
	ErrInvalidMass        = errors.New("mass_kg must be positive")
	ErrInvalidVelocity    = errors.New("velocity_ms must be non-negative")
)

// PhysicalEstimate is the perception output for one image + command pair
type PhysicalEstimate struct {
	Material          string  `json:"material"`
	FrictionMu        float64 `json:"friction_mu"`
	MassKg            float64 `json:"mass_kg"`
	VelocityMS        float64 `json:"velocity_ms"`
	IsDangerousIntent bool    `json:"is_dangerous_intent"`
	Reasoning         string  `json:"reasoning"`
}

// Validate range-checks the numeric fields.
func (e *PhysicalEstimate) Validate() error {
	if math.IsNaN(e.FrictionMu) || e.FrictionMu < MinFrictionMu || e.FrictionMu > MaxFrictionMu {
		return fmt.Errorf("%w: %.3f not in [%.1f, %.1f]", ErrFrictionOutOfRange, e.FrictionMu, MinFrictionMu, MaxFrictionMu)
	}
	if math.IsNaN(e.MassKg) || math.IsInf(e.MassKg, 0) || e.MassKg <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidMass, e.MassKg)
	}
	if math.IsNaN(e.VelocityMS) || math.IsInf(e.VelocityMS, 0) || e.VelocityMS < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidVelocity, e.VelocityMS)
	}
	return nil
}

// ClampedFriction returns FrictionMu forced into [MinFrictionMu, MaxFrictionMu].
// NaN clamps to the lower bound.
func (e *PhysicalEstimate) ClampedFriction() float64 {
	mu := e.FrictionMu
	if math.IsNaN(mu) || mu < MinFrictionMu {
		return MinFrictionMu
	}
	if mu > MaxFrictionMu {
		return MaxFrictionMu
	}
	return mu
}
