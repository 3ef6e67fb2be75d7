// Package verdict combines a simulation outcome with the perception estimate
// into the final GO / BLOCKED decision.
package verdict

import (
	"github.com/psantana5/physician/pkg/models"
)

// Decide is pure: the same inputs always give the same verdict.
// A crash or dangerous intent blocks; either alone is enough. The governor
// advisory is raised for low friction regardless of status.
// ForensicAnalysis is left empty for the forensics stage to fill.
func Decide(outcome models.SimulationOutcome, est models.PhysicalEstimate) models.Verdict {
	v := models.Verdict{
		Status:         models.VerdictGo,
		IsCrash:        outcome.IsCrash,
		GovernorActive: GovernorActive(est.FrictionMu),
	}

	if outcome.IsCrash {
		v.BlockReasons = append(v.BlockReasons, models.BlockReasonSimulatedCrash)
	}
	if est.IsDangerousIntent {
		v.BlockReasons = append(v.BlockReasons, models.BlockReasonDangerousIntent)
	}
	if len(v.BlockReasons) > 0 {
		v.Status = models.VerdictBlocked
	}
	return v
}

// GovernorActive reports whether mu is below the low-friction threshold
func GovernorActive(mu float64) bool {
	return mu < models.GovernorFrictionThreshold
}
