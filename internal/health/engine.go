package health

import (
	"context"
	"fmt"

	"github.com/TimurManjosov/saferollout/internal/audit"
	"github.com/TimurManjosov/saferollout/internal/revision"
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

// OrgContext carries the organization-level inputs of a decision.
type OrgContext struct {
	Settings OrgSettings
	// HasDecisionFramework is the premium gate for automatic
	// ship/rollback recommendations.
	HasDecisionFramework bool
}

// RevisionPipeline is the slice of the revision service the engine
// drives during an auto-rollback. Interface-shaped so tests can fail
// individual steps and assert atomicity.
type RevisionPipeline interface {
	Create(ctx context.Context, featureID string, environments []string, comment string) (*revision.Revision, error)
	EditSafeRolloutRuleStatus(ctx context.Context, rev *revision.Revision, env, rolloutID, status string) error
	Live(ctx context.Context, featureID string) (*revision.Revision, error)
	Get(ctx context.Context, featureID string, version int) (*revision.Revision, error)
	Publish(ctx context.Context, rev *revision.Revision, merged revision.MergeResult, reason string) error
}

// Decision is the outcome of one engine invocation. Status is the
// rollout's new status (possibly unchanged); Verdict is the evaluated
// health judgment, empty when the rollout was not evaluated.
type Decision struct {
	Status  rollout.Status
	Verdict Verdict
}

// Engine combines the health evaluator's verdict with the rollout's
// state to produce a lifecycle decision, driving the revision pipeline
// when the decision is an automatic rollback.
type Engine struct {
	evaluator Evaluator
	revisions RevisionPipeline
}

// NewEngine constructs a decision engine.
func NewEngine(evaluator Evaluator, revisions RevisionPipeline) *Engine {
	return &Engine{evaluator: evaluator, revisions: revisions}
}

// Decide evaluates the rollout's health against the snapshot. Only a
// running rollout is evaluated; only a running rollout with autoRollback
// enabled can transition, and only to rolled-back on a "rollback-now"
// verdict. The rollback's revision sequence is all-or-nothing: any
// failure is returned and the status stays unchanged, eligible for retry
// on the next poll tick.
func (e *Engine) Decide(ctx context.Context, org OrgContext, r rollout.SafeRollout, snap *rollout.Snapshot) (Decision, error) {
	unchanged := Decision{Status: r.Status}
	if r.Status != rollout.StatusRunning || snap == nil {
		return unchanged, nil
	}

	daysLeft := e.evaluator.DaysLeft(r, *snap)
	settings := SettingsFromOrg(org.Settings, org.HasDecisionFramework)
	verdict := e.evaluator.ResultStatus(r, *snap, settings, daysLeft)
	decision := Decision{Status: r.Status, Verdict: verdict}

	if !r.AutoRollback {
		return decision, nil
	}
	if verdict.Status != VerdictRollbackNow {
		return decision, nil
	}

	if err := e.rollBack(ctx, r); err != nil {
		return decision, fmt.Errorf("auto-rollback of %s: %w", r.ID, err)
	}
	decision.Status = rollout.StatusRolledBack
	return decision, nil
}

// rollBack runs the revision merge/publish sequence that flips the
// safe-rollout rule to rolled-back on the live feature. Every step's
// failure aborts the whole transition.
func (e *Engine) rollBack(ctx context.Context, r rollout.SafeRollout) error {
	comment := fmt.Sprintf("Auto-rollback of safe rollout %s", r.ID)
	rev, err := e.revisions.Create(ctx, r.FeatureID, []string{r.Environment}, comment)
	if err != nil {
		return err
	}
	if err := e.revisions.EditSafeRolloutRuleStatus(ctx, rev, r.Environment, r.ID, string(rollout.StatusRolledBack)); err != nil {
		return err
	}

	live, err := e.revisions.Live(ctx, r.FeatureID)
	if err != nil {
		return fmt.Errorf("live revision of %s: %w", r.FeatureID, err)
	}
	base := live
	if rev.BaseVersion != live.Version {
		base, err = e.revisions.Get(ctx, r.FeatureID, rev.BaseVersion)
		if err != nil {
			return fmt.Errorf("base revision %d of %s: %w", rev.BaseVersion, r.FeatureID, err)
		}
	}

	merged := revision.AutoMerge(live, base, rev, []string{r.Environment})
	if !merged.Success {
		return fmt.Errorf("auto-merge of %s reported conflicts in %v", r.FeatureID, merged.Conflicts)
	}
	return e.revisions.Publish(ctx, rev, merged, audit.PublishReasonStatusChange)
}
