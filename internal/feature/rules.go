package feature

import (
	"encoding/json"
	"fmt"
)

// RuleType tags the concrete variant of a rule (string values for clean
// JSON serialization).
type RuleType string

const (
	RuleTypeForce            RuleType = "force"
	RuleTypeRollout          RuleType = "rollout"
	RuleTypeExperimentRef    RuleType = "experiment-ref"
	RuleTypeSafeRollout      RuleType = "safe-rollout"
	RuleTypeLegacyExperiment RuleType = "experiment"
)

// Rule is the closed union of feature rule variants. Each variant
// carries only its own fields; consumers dispatch with a type switch
// rather than probing optional fields.
type Rule interface {
	// Type returns the variant tag.
	Type() RuleType
	// ID returns the rule id, unique within its environment.
	ID() string
	// Enabled reports whether the rule is switched on. Note that the
	// rule evaluator inspects experiment-ref rules even when disabled
	// (legacy asymmetry carried over from the write path).
	Enabled() bool

	isRule()
}

// RuleMeta holds the fields shared by every rule variant.
type RuleMeta struct {
	RuleID      string `json:"id"`
	Description string `json:"description,omitempty"`
	RuleEnabled bool   `json:"enabled"`
}

func (m RuleMeta) ID() string    { return m.RuleID }
func (m RuleMeta) Enabled() bool { return m.RuleEnabled }

// ForceRule unconditionally serves a fixed value.
type ForceRule struct {
	RuleMeta
	Value string `json:"value"`
}

func (ForceRule) Type() RuleType { return RuleTypeForce }
func (ForceRule) isRule()        {}

// RolloutRule serves a value to a percentage of traffic. Coverage is a
// fraction in [0, 1]; only coverage == 1 represents "everyone".
type RolloutRule struct {
	RuleMeta
	Value         string  `json:"value"`
	Coverage      float64 `json:"coverage"`
	HashAttribute string  `json:"hashAttribute,omitempty"`
}

func (RolloutRule) Type() RuleType { return RuleTypeRollout }
func (RolloutRule) isRule()        {}

// VariationValue maps an experiment variation id to the value this rule
// serves for it.
type VariationValue struct {
	VariationID string `json:"variationId"`
	Value       string `json:"value"`
}

// ExperimentRefRule delegates to a referenced experiment. It only
// resolves a single value once the experiment has stopped with a
// released or winning variation.
type ExperimentRefRule struct {
	RuleMeta
	ExperimentID string           `json:"experimentId"`
	Variations   []VariationValue `json:"variations"`
}

func (ExperimentRefRule) Type() RuleType { return RuleTypeExperimentRef }
func (ExperimentRefRule) isRule()        {}

// VariationValueFor returns the serialized value this rule serves for
// the given variation id, or "" when the variation is unknown or has no
// value configured.
func (r ExperimentRefRule) VariationValueFor(variationID string) string {
	for _, v := range r.Variations {
		if v.VariationID == variationID {
			return v.Value
		}
	}
	return ""
}

// SafeRolloutRule delegates to a safe rollout document. Status mirrors
// the rollout's status at the time the rule was last written; the
// evaluator consults the live rollout document, while the revision
// pipeline edits this field on auto-rollback.
type SafeRolloutRule struct {
	RuleMeta
	SafeRolloutID  string `json:"safeRolloutId"`
	Status         string `json:"status"`
	VariationValue string `json:"variationValue"`
	ControlValue   string `json:"controlValue"`
}

func (SafeRolloutRule) Type() RuleType { return RuleTypeSafeRollout }
func (SafeRolloutRule) isRule()        {}

// LegacyExperimentRule is the deprecated inline experiment rule. It can
// split traffic between multiple values and therefore never resolves to
// a single effective value; the evaluator always skips it.
type LegacyExperimentRule struct {
	RuleMeta
	TrackingKey string   `json:"trackingKey,omitempty"`
	Values      []string `json:"values,omitempty"`
}

func (LegacyExperimentRule) Type() RuleType { return RuleTypeLegacyExperiment }
func (LegacyExperimentRule) isRule()        {}

// RuleList is a JSON-round-trippable ordered list of rules. The wire
// form tags each element with a "type" field.
type RuleList []Rule

type ruleEnvelope struct {
	Type RuleType `json:"type"`
}

// MarshalJSON writes each rule with its variant tag injected.
func (l RuleList) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, len(l))
	for i, r := range l {
		body, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		// Re-open the object to prepend the type tag.
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		tag, _ := json.Marshal(r.Type())
		fields["type"] = tag
		tagged, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		raw[i] = tagged
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes a tagged rule array into concrete variants.
func (l *RuleList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(RuleList, 0, len(raw))
	for _, item := range raw {
		var env ruleEnvelope
		if err := json.Unmarshal(item, &env); err != nil {
			return err
		}
		rule, err := decodeRule(env.Type, item)
		if err != nil {
			return err
		}
		out = append(out, rule)
	}
	*l = out
	return nil
}

func decodeRule(t RuleType, data []byte) (Rule, error) {
	switch t {
	case RuleTypeForce:
		var r ForceRule
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return r, nil
	case RuleTypeRollout:
		var r RolloutRule
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return r, nil
	case RuleTypeExperimentRef:
		var r ExperimentRefRule
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return r, nil
	case RuleTypeSafeRollout:
		var r SafeRolloutRule
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return r, nil
	case RuleTypeLegacyExperiment:
		var r LegacyExperimentRule
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", t)
	}
}
