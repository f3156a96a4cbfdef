// Package health turns a rollout's statistical health verdict into a
// lifecycle decision: keep running, auto-rollback (driving the revision
// merge/publish sequence), or surface reasons for one-shot notification.
package health

// Default thresholds applied when the organization has not configured
// its own.
const (
	DefaultSRMThreshold               = 0.001
	DefaultMultipleExposureMinPercent = 0.01
)

// OrgSettings is the organization-level health configuration as stored.
type OrgSettings struct {
	SRMThreshold               float64 `json:"srmThreshold,omitempty"`
	MultipleExposureMinPercent float64 `json:"multipleExposureMinPercent,omitempty"`
}

// Settings are the resolved thresholds a health evaluation runs with.
// DecisionFramework is a premium capability; without it the evaluator
// reports unhealthy reasons but never recommends automatic action.
type Settings struct {
	SRMThreshold               float64
	MultipleExposureMinPercent float64
	DecisionFramework          bool
}

// SettingsFromOrg resolves org settings and the premium gate into
// effective evaluation settings.
func SettingsFromOrg(org OrgSettings, hasPremiumDecisionFramework bool) Settings {
	s := Settings{
		SRMThreshold:               org.SRMThreshold,
		MultipleExposureMinPercent: org.MultipleExposureMinPercent,
		DecisionFramework:          hasPremiumDecisionFramework,
	}
	if s.SRMThreshold <= 0 {
		s.SRMThreshold = DefaultSRMThreshold
	}
	if s.MultipleExposureMinPercent <= 0 {
		s.MultipleExposureMinPercent = DefaultMultipleExposureMinPercent
	}
	return s
}
