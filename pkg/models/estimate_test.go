package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestPhysicalEstimateValidate(t *testing.T) {
	tests := []struct {
		name    string
		est     PhysicalEstimate
		wantErr error
	}{
		{"Nominal", PhysicalEstimate{FrictionMu: 0.5, MassKg: 2, VelocityMS: 0.3}, nil},
		{"Lower friction bound", PhysicalEstimate{FrictionMu: 0.1, MassKg: 2}, nil},
		{"Upper friction bound", PhysicalEstimate{FrictionMu: 1.0, MassKg: 2}, nil},
		{"Friction too low", PhysicalEstimate{FrictionMu: 0.05, MassKg: 2}, ErrFrictionOutOfRange},
		{"Friction too high", PhysicalEstimate{FrictionMu: 1.2, MassKg: 2}, ErrFrictionOutOfRange},
		{"Friction NaN", PhysicalEstimate{FrictionMu: math.NaN(), MassKg: 2}, ErrFrictionOutOfRange},
		{"Zero mass", PhysicalEstimate{FrictionMu: 0.5, MassKg: 0}, ErrInvalidMass},
		{"Negative mass", PhysicalEstimate{FrictionMu: 0.5, MassKg: -1}, ErrInvalidMass},
		{"Negative velocity", PhysicalEstimate{FrictionMu: 0.5, MassKg: 1, VelocityMS: -0.1}, ErrInvalidVelocity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.est.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClampedFriction(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.25, 0.25},
		{0.0, MinFrictionMu},
		{-3, MinFrictionMu},
		{1.7, MaxFrictionMu},
		{math.NaN(), MinFrictionMu},
	}
	for _, tt := range tests {
		est := PhysicalEstimate{FrictionMu: tt.in}
		if got := est.ClampedFriction(); got != tt.want {
			t.Errorf("ClampedFriction(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewVerifyResponse(t *testing.T) {
	result := &VerificationResult{
		RequestID: "req-1",
		Command:   "lift fast",
		Estimate:  PhysicalEstimate{Material: "Steel", FrictionMu: 0.6, MassKg: 3},
		Outcome:   SimulationOutcome{IsCrash: true, StepsTaken: 42, StepBudget: 400},
		Verdict: Verdict{
			Status:           VerdictBlocked,
			IsCrash:          true,
			ForensicAnalysis: "vertical thrust exceeded gravity",
			BlockReasons:     []BlockReason{BlockReasonSimulatedCrash},
		},
		StartedAt: time.Now(),
	}

	resp := NewVerifyResponse(result)
	if resp.Verdict != VerdictBlocked {
		t.Errorf("Expected BLOCKED, got %s", resp.Verdict)
	}
	if resp.Telemetry.IsStable {
		t.Error("Expected is_stable=false for a crash")
	}
	if resp.Telemetry.Steps != 42 {
		t.Errorf("Expected 42 steps, got %d", resp.Telemetry.Steps)
	}
	if resp.Reasoning != "Physics validation complete." {
		t.Errorf("Expected default reasoning, got %q", resp.Reasoning)
	}
	if resp.Status != "success" {
		t.Errorf("Expected status success, got %s", resp.Status)
	}
}
