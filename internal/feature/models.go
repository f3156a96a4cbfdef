// Package feature holds the read-side models for feature flags and
// experiments as the rollout controller sees them. The controller never
// mutates a feature in place; rule changes go through the revision
// pipeline (see internal/revision).
package feature

import "time"

// ValueType describes the type of a feature's serialized value.
type ValueType string

const (
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeString  ValueType = "string"
	ValueTypeNumber  ValueType = "number"
	ValueTypeJSON    ValueType = "json"
)

// EnvironmentSettings holds per-environment configuration for a feature.
// Rules are evaluated in slice order; the first enabled rule that
// resolves a value wins.
type EnvironmentSettings struct {
	Enabled bool     `json:"enabled"`
	Rules   RuleList `json:"rules"`
}

// Prerequisite declares that this feature's evaluation depends on a
// parent feature resolving to a truthy value.
type Prerequisite struct {
	FeatureID string `json:"id"`
	Condition string `json:"condition,omitempty"`
}

// Feature represents a feature flag document.
type Feature struct {
	ID                  string                         `json:"id"`
	Organization        string                         `json:"organization"`
	Project             string                         `json:"project,omitempty"`
	Owner               string                         `json:"owner,omitempty"`
	ValueType           ValueType                      `json:"valueType"`
	DefaultValue        string                         `json:"defaultValue"`
	Archived            bool                           `json:"archived"`
	NeverStale          bool                           `json:"neverStale,omitempty"`
	Version             int                            `json:"version"`
	Prerequisites       []Prerequisite                 `json:"prerequisites,omitempty"`
	EnvironmentSettings map[string]EnvironmentSettings `json:"environmentSettings"`
	DateCreated         time.Time                      `json:"dateCreated"`
	DateUpdated         time.Time                      `json:"dateUpdated"`
}

// Environments returns the ids of all environments the feature is
// configured for. Order is not stable; callers that need determinism
// must sort.
func (f Feature) Environments() []string {
	envs := make([]string, 0, len(f.EnvironmentSettings))
	for id := range f.EnvironmentSettings {
		envs = append(envs, id)
	}
	return envs
}

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	ExperimentDraft   ExperimentStatus = "draft"
	ExperimentRunning ExperimentStatus = "running"
	ExperimentStopped ExperimentStatus = "stopped"
)

// Variation is one arm of an experiment.
type Variation struct {
	ID   string `json:"id"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name,omitempty"`
}

// Experiment is the read-only view of an experiment an experiment-ref
// rule may point at.
type Experiment struct {
	ID                  string           `json:"id"`
	Organization        string           `json:"organization"`
	Status              ExperimentStatus `json:"status"`
	Variations          []Variation      `json:"variations"`
	ReleasedVariationID string           `json:"releasedVariationId,omitempty"`
	// Winner is the index of the winning variation, when declared.
	Winner *int `json:"winner,omitempty"`
}

// WinningVariationID resolves the variation a stopped experiment settled
// on. The explicitly released variation takes precedence over a declared
// winner index. Returns "" when the experiment has not resolved to a
// single variation (still running, no winner, or index out of range).
func (e Experiment) WinningVariationID() string {
	if e.Status != ExperimentStopped {
		return ""
	}
	if e.ReleasedVariationID != "" {
		return e.ReleasedVariationID
	}
	if e.Winner != nil && *e.Winner >= 0 && *e.Winner < len(e.Variations) {
		return e.Variations[*e.Winner].ID
	}
	return ""
}
