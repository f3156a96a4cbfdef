// Package evaluation computes the single effective served value of a
// feature in one environment by walking its rules in priority order.
//
// All functions are pure: no I/O, no global state. The experiment and
// safe-rollout universes are passed in as lookup maps; a missing
// reference is an expected condition (orphaned-reference window) and
// simply means the rule does not resolve.
package evaluation

import (
	"github.com/TimurManjosov/saferollout/internal/feature"
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

// Policy selects how undetermined outcomes map to a result. The two API
// call sites that share this walk historically disagreed on the
// fallback; both behaviors are kept explicit here.
type Policy int

const (
	// PolicyNull leaves disabled environments and otherwise
	// undetermined outcomes unresolved (the read API serves null).
	PolicyNull Policy = iota
	// PolicyDefault falls back to the feature's default value whenever
	// no rule resolves, including disabled environments.
	PolicyDefault
)

// Value is the outcome of an evaluation. When Resolved is false no
// single effective value exists under the chosen policy.
type Value struct {
	Resolved bool
	Value    string
}

func resolved(v string) Value { return Value{Resolved: true, Value: v} }

var undetermined = Value{}

// Universe bundles the cross-feature lookup state the walk needs.
type Universe struct {
	Experiments  map[string]feature.Experiment
	SafeRollouts map[string]rollout.SafeRollout
}

// Evaluate returns the effective served value of f in the environment,
// or an unresolved Value when none exists (multi-variant experiment
// still running, mid-ramp two-sided rollout, and so on).
//
// Walk order and short-circuiting:
//   - a disabled environment never reaches the rule walk;
//   - experiment-ref rules are inspected even when disabled, every
//     other rule type is skipped when disabled;
//   - the first rule that resolves wins and later rules are never
//     inspected;
//   - with no resolving rule the walk stays undetermined and the policy
//     decides the fallback: default value under PolicyDefault,
//     unresolved under PolicyNull.
func Evaluate(f feature.Feature, envID string, u Universe, policy Policy) Value {
	env, ok := f.EnvironmentSettings[envID]
	if !ok || !env.Enabled {
		return applyPolicy(undetermined, f, policy)
	}

	for _, r := range env.Rules {
		if v, ok := evaluateRule(r, u); ok {
			return v
		}
	}

	return applyPolicy(undetermined, f, policy)
}

func applyPolicy(v Value, f feature.Feature, policy Policy) Value {
	if v.Resolved || policy == PolicyNull {
		return v
	}
	return resolved(f.DefaultValue)
}

// evaluateRule reports whether the rule resolves a value. A false return
// means "keep walking", never an error: unresolvable references degrade
// gracefully.
func evaluateRule(r feature.Rule, u Universe) (Value, bool) {
	// Experiment-ref rules are inspected regardless of enabled.
	if ref, ok := r.(feature.ExperimentRefRule); ok {
		return evaluateExperimentRef(ref, u.Experiments)
	}
	if !r.Enabled() {
		return undetermined, false
	}

	switch rule := r.(type) {
	case feature.ForceRule:
		return resolved(rule.Value), true
	case feature.RolloutRule:
		// Partial coverage cannot represent "the" effective value.
		if rule.Coverage == 1 {
			return resolved(rule.Value), true
		}
		return undetermined, false
	case feature.SafeRolloutRule:
		return evaluateSafeRollout(rule, u.SafeRollouts)
	case feature.LegacyExperimentRule:
		// Legacy inline experiments split traffic; never a single value.
		return undetermined, false
	default:
		return undetermined, false
	}
}

func evaluateExperimentRef(rule feature.ExperimentRefRule, experiments map[string]feature.Experiment) (Value, bool) {
	exp, ok := experiments[rule.ExperimentID]
	if !ok {
		return undetermined, false
	}
	winID := exp.WinningVariationID()
	if winID == "" {
		// Running or unresolved experiments never contribute a value.
		return undetermined, false
	}
	if v := rule.VariationValueFor(winID); v != "" {
		return resolved(v), true
	}
	return undetermined, false
}

func evaluateSafeRollout(rule feature.SafeRolloutRule, rollouts map[string]rollout.SafeRollout) (Value, bool) {
	sr, ok := rollouts[rule.SafeRolloutID]
	if !ok {
		// Orphaned reference: skip the rule, don't fail the walk.
		return undetermined, false
	}
	switch {
	case sr.Status == rollout.StatusReleased && rule.VariationValue != "":
		return resolved(rule.VariationValue), true
	case sr.Status == rollout.StatusRolledBack && rule.ControlValue != "":
		return resolved(rule.ControlValue), true
	case rule.VariationValue != "" && sr.RampUpSchedule.OneSided():
		return resolved(rule.VariationValue), true
	default:
		// Mid-ramp and two-sided: ambiguous.
		return undetermined, false
	}
}
