package models

// VerdictStatus is the final GO / BLOCKED decision
type VerdictStatus string

const (
	VerdictGo      VerdictStatus = "GO"
	VerdictBlocked VerdictStatus = "BLOCKED"
)

// BlockReason names a signal that forced a BLOCKED verdict
type BlockReason string

const (
	BlockReasonSimulatedCrash  BlockReason = "simulated_crash"
	BlockReasonDangerousIntent BlockReason = "dangerous_intent"
)

// ForensicsPlaceholder replaces the narrative when the forensics call fails.
const ForensicsPlaceholder = "FORENSICS UNAVAILABLE: black box analysis could not be generated."

// Verdict is the arbiter output for one request
type Verdict struct {
	Status           VerdictStatus `json:"status"`
	IsCrash          bool          `json:"is_crash"`
	GovernorActive   bool          `json:"governor_active"`
	ForensicAnalysis string        `json:"forensic_analysis"`
	BlockReasons     []BlockReason `json:"block_reasons,omitempty"`
}

// Blocked reports whether the verdict forbids execution
func (v Verdict) Blocked() bool {
	return v.Status == VerdictBlocked
}
