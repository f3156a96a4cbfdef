// Package revision implements the feature-revision pipeline: features
// are never mutated in place; rule changes are staged on a draft
// revision, three-way merged against the live version, and published
// atomically.
package revision

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/TimurManjosov/saferollout/internal/feature"
)

// Status is the lifecycle state of a revision.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusDiscarded Status = "discarded"
)

// Revision is one staged version of a feature's rules. BaseVersion is
// the published version the draft was created from; the merge step uses
// it to detect concurrent publishes.
type Revision struct {
	ID            string                      `json:"id"`
	FeatureID     string                      `json:"featureId"`
	Version       int                         `json:"version"`
	BaseVersion   int                         `json:"baseVersion"`
	Status        Status                      `json:"status"`
	Comment       string                      `json:"comment,omitempty"`
	DefaultValue  string                      `json:"defaultValue"`
	Rules         map[string]feature.RuleList `json:"rules"`
	DateCreated   time.Time                   `json:"dateCreated"`
	DatePublished *time.Time                  `json:"datePublished,omitempty"`
	PublishReason string                      `json:"publishReason,omitempty"`
}

// MergeResult is the outcome of a three-way auto-merge. When Success is
// false, Conflicts names the environments that could not be merged and
// Rules is nil.
type MergeResult struct {
	Success   bool                        `json:"success"`
	Conflicts []string                    `json:"conflicts,omitempty"`
	Rules     map[string]feature.RuleList `json:"rules,omitempty"`
}

// AutoMerge merges revision rev against the live revision, using base as
// the common ancestor, restricted to the given environments. Outside the
// restricted set the live rules always win. Within it:
//
//   - live unchanged since base: the revision's rules apply;
//   - revision unchanged since base: the live rules stay;
//   - both changed: conflict, merge fails.
//
// The function is pure; callers publish the result themselves.
func AutoMerge(live, base, rev *Revision, environments []string) MergeResult {
	merged := make(map[string]feature.RuleList, len(live.Rules))
	for env, rules := range live.Rules {
		merged[env] = rules
	}

	var conflicts []string
	for _, env := range environments {
		liveRules := live.Rules[env]
		baseRules := base.Rules[env]
		revRules := rev.Rules[env]
		switch {
		case rulesEqual(liveRules, baseRules):
			merged[env] = revRules
		case rulesEqual(revRules, baseRules):
			// Revision didn't touch this env; live wins.
		default:
			conflicts = append(conflicts, env)
		}
	}

	if len(conflicts) > 0 {
		return MergeResult{Success: false, Conflicts: conflicts}
	}
	return MergeResult{Success: true, Rules: merged}
}

// rulesEqual compares two rule lists structurally via their canonical
// JSON form.
func rulesEqual(a, b feature.RuleList) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
