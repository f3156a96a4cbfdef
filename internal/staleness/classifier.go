// Package staleness decides whether a feature flag is safe to delete:
// nothing about it depends on live experimentation, it has not changed
// recently, and every environment already resolves to a single value.
package staleness

import (
	"log"
	"sort"
	"time"

	"github.com/TimurManjosov/saferollout/internal/evaluation"
	"github.com/TimurManjosov/saferollout/internal/feature"
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

// Reason explains a classification outcome.
type Reason string

const (
	// ReasonNoRules: the feature has no enabled rules in any environment.
	ReasonNoRules Reason = "no-rules"
	// ReasonOneSided: every environment resolves to a single value.
	ReasonOneSided Reason = "rules-one-sided"
	// ReasonError: classification failed for this feature; reported as
	// not stale so a broken feature is never flagged for deletion.
	ReasonError Reason = "error"
)

// DefaultFreshWindow is how recently a feature must have changed to be
// considered fresh regardless of its rules.
const DefaultFreshWindow = 14 * 24 * time.Hour

// Result is the classification of one feature.
type Result struct {
	Stale  bool   `json:"stale"`
	Reason Reason `json:"reason,omitempty"`
}

// Classifier classifies features against the complete feature and
// experiment universe, so cross-feature prerequisites can be honored.
type Classifier struct {
	freshWindow time.Duration
	now         func() time.Time
}

// New returns a classifier with the given freshness window; zero or
// negative means DefaultFreshWindow. nowFn may be nil for wall-clock.
func New(freshWindow time.Duration, nowFn func() time.Time) *Classifier {
	if freshWindow <= 0 {
		freshWindow = DefaultFreshWindow
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Classifier{freshWindow: freshWindow, now: nowFn}
}

// Classify determines whether f is stale. allFeatures must contain the
// complete universe including f itself.
func (c *Classifier) Classify(f feature.Feature, allFeatures map[string]feature.Feature, u evaluation.Universe) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[staleness] classify %s: %v", f.ID, r)
			res = Result{Stale: false, Reason: ReasonError}
		}
	}()

	if f.NeverStale || f.Archived {
		return Result{}
	}
	if c.now().Sub(f.DateUpdated) < c.freshWindow {
		return Result{}
	}
	if c.dependedUponBy(f.ID, allFeatures) {
		return Result{}
	}

	hasEnabledRule := false
	for _, env := range f.EnvironmentSettings {
		if !env.Enabled {
			continue
		}
		for _, r := range env.Rules {
			if !r.Enabled() && r.Type() != feature.RuleTypeExperimentRef {
				continue
			}
			hasEnabledRule = true
			if dependsOnLiveExperimentation(r, u) {
				return Result{}
			}
		}
	}
	if !hasEnabledRule {
		return Result{Stale: true, Reason: ReasonNoRules}
	}

	// Every enabled environment must resolve to a single value.
	for envID, env := range f.EnvironmentSettings {
		if !env.Enabled {
			continue
		}
		if v := evaluation.Evaluate(f, envID, u, evaluation.PolicyNull); !v.Resolved {
			return Result{}
		}
	}
	return Result{Stale: true, Reason: ReasonOneSided}
}

// dependedUponBy reports whether any other feature declares f as a
// prerequisite parent. A parent of a live feature is never stale.
func (c *Classifier) dependedUponBy(id string, all map[string]feature.Feature) bool {
	for _, other := range all {
		if other.ID == id || other.Archived {
			continue
		}
		for _, p := range other.Prerequisites {
			if p.FeatureID == id {
				return true
			}
		}
	}
	return false
}

func dependsOnLiveExperimentation(r feature.Rule, u evaluation.Universe) bool {
	switch rule := r.(type) {
	case feature.ExperimentRefRule:
		exp, ok := u.Experiments[rule.ExperimentID]
		if !ok {
			return false
		}
		return exp.Status == feature.ExperimentRunning || exp.Status == feature.ExperimentDraft
	case feature.SafeRolloutRule:
		sr, ok := u.SafeRollouts[rule.SafeRolloutID]
		if !ok {
			return false
		}
		return sr.Status == rollout.StatusRunning
	default:
		return false
	}
}

// FeatureStatus is one row of a staleness report.
type FeatureStatus struct {
	Feature feature.Feature
	Result  Result
}

// Report classifies every feature and returns rows in ascending
// dateUpdated order, so the oldest (most confidently stale) features
// come first when the result is paginated.
func (c *Classifier) Report(features map[string]feature.Feature, u evaluation.Universe) []FeatureStatus {
	out := make([]FeatureStatus, 0, len(features))
	for _, f := range features {
		out = append(out, FeatureStatus{Feature: f, Result: c.Classify(f, features, u)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Feature.DateUpdated.Equal(out[j].Feature.DateUpdated) {
			return out[i].Feature.ID < out[j].Feature.ID
		}
		return out[i].Feature.DateUpdated.Before(out[j].Feature.DateUpdated)
	})
	return out
}
