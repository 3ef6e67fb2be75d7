package models

import (
	"time"
)

// VerificationResult is the full record produced by the pipeline for one request
type VerificationResult struct {
	RequestID         string             `json:"request_id"`
	Command           string             `json:"command"`
	Estimate          PhysicalEstimate   `json:"estimate"`
	Outcome           SimulationOutcome  `json:"outcome"`
	Verdict           Verdict            `json:"verdict"`
	ForensicsDegraded bool               `json:"forensics_degraded"`
	StartedAt         time.Time          `json:"started_at"`
	Duration          time.Duration      `json:"duration"`
	StageDurations    map[string]float64 `json:"stage_durations,omitempty"` // seconds per stage
}

// Telemetry echoes the physical parameters back to the caller
type Telemetry struct {
	Material      string  `json:"material"`
	FrictionMu    float64 `json:"friction_mu"`
	MassKg        float64 `json:"mass_kg"`
	VelocityMS    float64 `json:"velocity_ms"`
	IsStable      bool    `json:"is_stable"`
	Steps         int     `json:"steps"`
	FinalPosition Vec3    `json:"final_position"`
}

// VerifyResponse is the JSON body returned by POST /verify
type VerifyResponse struct {
	RequestID         string        `json:"request_id"`
	Status            string        `json:"status"`
	Verdict           VerdictStatus `json:"verdict"`
	IsCrash           bool          `json:"is_crash"`
	GovernorActive    bool          `json:"governor_active"`
	Telemetry         Telemetry     `json:"telemetry"`
	Reasoning         string        `json:"reasoning"`
	ForensicAnalysis  string        `json:"forensic_analysis"`
	ForensicsDegraded bool          `json:"forensics_degraded,omitempty"`
	BlockReasons      []BlockReason `json:"block_reasons,omitempty"`
}

// NewVerifyResponse flattens a pipeline result into the HTTP contract
func NewVerifyResponse(r *VerificationResult) VerifyResponse {
	reasoning := r.Estimate.Reasoning
	if reasoning == "" {
		reasoning = "Physics validation complete."
	}
	return VerifyResponse{
		RequestID:      r.RequestID,
		Status:         "success",
		Verdict:        r.Verdict.Status,
		IsCrash:        r.Verdict.IsCrash,
		GovernorActive: r.Verdict.GovernorActive,
		Telemetry: Telemetry{
			Material:      r.Estimate.Material,
			FrictionMu:    r.Estimate.FrictionMu,
			MassKg:        r.Estimate.MassKg,
			VelocityMS:    r.Estimate.VelocityMS,
			IsStable:      r.Outcome.IsStable(),
			Steps:         r.Outcome.StepsTaken,
			FinalPosition: r.Outcome.FinalPosition,
		},
		Reasoning:         reasoning,
		ForensicAnalysis:  r.Verdict.ForensicAnalysis,
		ForensicsDegraded: r.ForensicsDegraded,
		BlockReasons:      r.Verdict.BlockReasons,
	}
}

// VerificationRecord is the audit summary kept by the ledger.
// It never carries the image or the raw perception output.
type VerificationRecord struct {
	ID                string        `json:"id"`
	Command           string        `json:"command"`
	Material          string        `json:"material"`
	FrictionMu        float64       `json:"friction_mu"`
	MassKg            float64       `json:"mass_kg"`
	Verdict           VerdictStatus `json:"verdict"`
	IsCrash           bool          `json:"is_crash"`
	DangerousIntent   bool          `json:"dangerous_intent"`
	GovernorActive    bool          `json:"governor_active"`
	ForensicsDegraded bool          `json:"forensics_degraded"`
	Steps             int           `json:"steps"`
	CreatedAt         time.Time     `json:"created_at"`
	DurationMs        int64         `json:"duration_ms"`
}

// NewVerificationRecord summarizes a pipeline result for the ledger
func NewVerificationRecord(r *VerificationResult) *VerificationRecord {
	return &VerificationRecord{
		ID:                r.RequestID,
		Command:           r.Command,
		Material:          r.Estimate.Material,
		FrictionMu:        r.Estimate.FrictionMu,
		MassKg:            r.Estimate.MassKg,
		Verdict:           r.Verdict.Status,
		IsCrash:           r.Verdict.IsCrash,
		DangerousIntent:   r.Estimate.IsDangerousIntent,
		GovernorActive:    r.Verdict.GovernorActive,
		ForensicsDegraded: r.ForensicsDegraded,
		Steps:             r.Outcome.StepsTaken,
		CreatedAt:         r.StartedAt,
		DurationMs:        r.Duration.Milliseconds(),
	}
}
