package models

// CrashReason says which side of the stability envelope the body left through
type CrashReason string

const (
	CrashReasonNone   CrashReason = ""
	CrashReasonFallen CrashReason = "fallen" // z dropped below the floor bound
	CrashReasonFlung  CrashReason = "flung"  // z rose above the ceiling bound
)

// Vec3 is a position in world coordinates (meters)
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// SimulationOutcome is produced once per verification and consumed by the arbiter
type SimulationOutcome struct {
	IsCrash       bool        `json:"is_crash"`
	CrashReason   CrashReason `json:"crash_reason,omitempty"`
	FinalPosition Vec3        `json:"final_position"`
	StepsTaken    int         `json:"steps_taken"`
	StepBudget    int         `json:"step_budget"`
	Force         Vec3        `json:"force"`
}

// IsStable reports whether the body stayed inside the envelope for the whole run
func (o *SimulationOutcome) IsStable() bool {
	return !o.IsCrash
}
