package health

import (
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

// VerdictStatus is the recommendation attached to a health verdict. An
// empty status means "no recommendation, keep running".
type VerdictStatus string

const (
	VerdictRollbackNow VerdictStatus = "rollback-now"
	VerdictShipNow     VerdictStatus = "ship-now"
	VerdictUnhealthy   VerdictStatus = "unhealthy"
)

// Unhealthy reason tags. These become pastNotifications entries, so the
// strings are part of the persisted document format.
const (
	ReasonSRM               = "srm"
	ReasonMultipleExposures = "multipleExposures"
	ReasonGuardrails        = "guardrails"
)

// Verdict is the statistical judgment over one snapshot.
type Verdict struct {
	Status           VerdictStatus `json:"status,omitempty"`
	UnhealthyReasons []string      `json:"unhealthyReasons,omitempty"`
}

// Evaluator is the external health-evaluation collaborator. The
// estimator internals (p-values, variances) run in the analysis
// pipeline; implementations here only compare precomputed snapshot
// statistics against thresholds.
type Evaluator interface {
	// DaysLeft returns the remaining lifetime budget of the rollout in
	// days, as of the snapshot's run date.
	DaysLeft(r rollout.SafeRollout, snap rollout.Snapshot) float64
	// ResultStatus classifies the rollout given resolved settings and
	// remaining budget.
	ResultStatus(r rollout.SafeRollout, snap rollout.Snapshot, settings Settings, daysLeft float64) Verdict
}

// ThresholdEvaluator compares snapshot health statistics against the
// organization's thresholds.
type ThresholdEvaluator struct{}

func (ThresholdEvaluator) DaysLeft(r rollout.SafeRollout, snap rollout.Snapshot) float64 {
	totalSeconds, err := r.MaxDuration.Seconds()
	if err != nil {
		return 0
	}
	start := r.DateCreated
	if len(r.RampUpSchedule.Steps) > 0 && r.RampUpSchedule.Steps[0].DateRampedUp != nil {
		start = *r.RampUpSchedule.Steps[0].DateRampedUp
	}
	elapsed := snap.RunDate.Sub(start)
	left := totalSeconds/86400 - elapsed.Hours()/24
	if left < 0 {
		return 0
	}
	return left
}

func (ThresholdEvaluator) ResultStatus(r rollout.SafeRollout, snap rollout.Snapshot, settings Settings, daysLeft float64) Verdict {
	var reasons []string
	traffic := snap.Health.Traffic
	if traffic.OverallUsers > 0 && traffic.SRMPValue < settings.SRMThreshold {
		reasons = append(reasons, ReasonSRM)
	}
	if traffic.MultipleExposuresPercent > settings.MultipleExposureMinPercent {
		reasons = append(reasons, ReasonMultipleExposures)
	}

	guardrailFailing := false
	guardrailUnhealthy := false
	for _, analysis := range snap.Analyses {
		for _, result := range analysis.Results {
			for _, v := range result.Variations {
				switch v.Guardrail {
				case rollout.GuardrailFailing:
					guardrailFailing = true
				case rollout.GuardrailUnhealthy:
					guardrailUnhealthy = true
				}
			}
		}
	}
	if guardrailFailing || guardrailUnhealthy {
		reasons = append(reasons, ReasonGuardrails)
	}

	// Automatic recommendations require the decision framework.
	if settings.DecisionFramework {
		if guardrailFailing {
			return Verdict{Status: VerdictRollbackNow, UnhealthyReasons: reasons}
		}
		if daysLeft <= 0 && len(reasons) == 0 {
			return Verdict{Status: VerdictShipNow}
		}
	}
	if len(reasons) > 0 {
		return Verdict{Status: VerdictUnhealthy, UnhealthyReasons: reasons}
	}
	return Verdict{}
}
