package rollout

import "time"

// GuardrailStatus classifies a single guardrail metric in a snapshot.
// The statistical machinery that produces it lives outside this service;
// snapshots arrive with these fields precomputed.
type GuardrailStatus string

const (
	GuardrailSafe      GuardrailStatus = "safe"
	GuardrailUnhealthy GuardrailStatus = "unhealthy"
	GuardrailFailing   GuardrailStatus = "failing"
)

// TrafficHealth carries the traffic-level health statistics of one
// analysis run.
type TrafficHealth struct {
	OverallUsers             int64   `json:"overallUsers"`
	SRMPValue                float64 `json:"srmPValue"`
	MultipleExposuresPercent float64 `json:"multipleExposuresPercent"`
}

// SnapshotHealth groups the health section of a snapshot.
type SnapshotHealth struct {
	Traffic TrafficHealth `json:"traffic"`
}

// VariationResult is one variation's aggregate inside an analysis.
type VariationResult struct {
	VariationID string          `json:"variationId"`
	Users       int64           `json:"users"`
	Guardrail   GuardrailStatus `json:"guardrailStatus,omitempty"`
}

// AnalysisResult is one dimension slice of an analysis.
type AnalysisResult struct {
	Variations []VariationResult `json:"variations"`
}

// Analysis is a single configured analysis of a snapshot run.
type Analysis struct {
	Settings map[string]any   `json:"settings,omitempty"`
	Results  []AnalysisResult `json:"results"`
}

// Snapshot is the immutable-per-run analysis result for a safe rollout,
// produced by the external query pipeline and consumed read-only here.
type Snapshot struct {
	ID            string         `json:"id"`
	SafeRolloutID string         `json:"safeRolloutId"`
	Health        SnapshotHealth `json:"health"`
	Analyses      []Analysis     `json:"analyses"`
	RunDate       time.Time      `json:"runDate"`
}
