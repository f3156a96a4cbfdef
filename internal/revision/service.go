package revision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TimurManjosov/saferollout/internal/audit"
	"github.com/TimurManjosov/saferollout/internal/feature"
)

// ErrRevisionNotFound is returned when a requested revision (live or
// historical) does not exist. Callers treat it as a consistency error:
// fatal to the current invocation, retryable on the next poll tick.
var ErrRevisionNotFound = errors.New("revision not found")

// Storage is the persistence surface the revision service needs. The
// store package implements it; keeping the interface here avoids an
// import cycle and keeps the service mockable.
type Storage interface {
	GetFeature(ctx context.Context, id string) (*feature.Feature, error)
	InsertRevision(ctx context.Context, rev Revision) error
	UpdateRevision(ctx context.Context, rev Revision) error
	// GetRevision returns ErrRevisionNotFound when the version is unknown.
	GetRevision(ctx context.Context, featureID string, version int) (*Revision, error)
	// GetLiveRevision returns the currently published revision, or
	// ErrRevisionNotFound when the feature has none.
	GetLiveRevision(ctx context.Context, featureID string) (*Revision, error)
	// ApplyPublish atomically marks rev published and replaces the
	// feature's rules and version with the revision's.
	ApplyPublish(ctx context.Context, rev Revision) error
}

// Service stages and publishes feature revisions.
type Service struct {
	storage Storage
	audit   *audit.Service
	now     func() time.Time
}

// NewService creates a revision service. auditSvc may be nil to skip
// audit events; nowFn may be nil for wall-clock.
func NewService(storage Storage, auditSvc *audit.Service, nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{storage: storage, audit: auditSvc, now: nowFn}
}

// Create stages a new draft revision of the feature's current published
// version, carrying rules only for the given environments.
func (s *Service) Create(ctx context.Context, featureID string, environments []string, comment string) (*Revision, error) {
	f, err := s.storage.GetFeature(ctx, featureID)
	if err != nil {
		return nil, fmt.Errorf("load feature %s: %w", featureID, err)
	}

	rules := make(map[string]feature.RuleList, len(environments))
	for _, env := range environments {
		if settings, ok := f.EnvironmentSettings[env]; ok {
			rules[env] = append(feature.RuleList(nil), settings.Rules...)
		}
	}

	rev := Revision{
		ID:           uuid.NewString(),
		FeatureID:    featureID,
		Version:      f.Version + 1,
		BaseVersion:  f.Version,
		Status:       StatusDraft,
		Comment:      comment,
		DefaultValue: f.DefaultValue,
		Rules:        rules,
		DateCreated:  s.now(),
	}
	if err := s.storage.InsertRevision(ctx, rev); err != nil {
		return nil, fmt.Errorf("insert revision for %s: %w", featureID, err)
	}
	return &rev, nil
}

// EditSafeRolloutRuleStatus updates the status field of the safe-rollout
// rule referencing rolloutID within the draft revision. This is a
// non-publishing edit; the live feature is untouched until Publish.
func (s *Service) EditSafeRolloutRuleStatus(ctx context.Context, rev *Revision, env, rolloutID, status string) error {
	rules, ok := rev.Rules[env]
	if !ok {
		return fmt.Errorf("revision %s has no rules for environment %q", rev.ID, env)
	}
	edited := false
	for i, r := range rules {
		srRule, ok := r.(feature.SafeRolloutRule)
		if !ok || srRule.SafeRolloutID != rolloutID {
			continue
		}
		srRule.Status = status
		rules[i] = srRule
		edited = true
	}
	if !edited {
		return fmt.Errorf("revision %s: no safe-rollout rule references %s in %q", rev.ID, rolloutID, env)
	}
	rev.Rules[env] = rules
	if err := s.storage.UpdateRevision(ctx, *rev); err != nil {
		return fmt.Errorf("update revision %s: %w", rev.ID, err)
	}
	return nil
}

// Live returns the currently published revision of the feature.
func (s *Service) Live(ctx context.Context, featureID string) (*Revision, error) {
	return s.storage.GetLiveRevision(ctx, featureID)
}

// Get returns a specific historical revision of the feature.
func (s *Service) Get(ctx context.Context, featureID string, version int) (*Revision, error) {
	return s.storage.GetRevision(ctx, featureID, version)
}

// Publish applies a successful merge result and makes rev the live
// revision. reason is recorded on the revision and in the audit trail.
func (s *Service) Publish(ctx context.Context, rev *Revision, merged MergeResult, reason string) error {
	if !merged.Success {
		return fmt.Errorf("publish revision %s: merge was not successful", rev.ID)
	}
	published := *rev
	published.Status = StatusPublished
	published.Rules = merged.Rules
	published.PublishReason = reason
	ts := s.now()
	published.DatePublished = &ts

	if err := s.storage.ApplyPublish(ctx, published); err != nil {
		return fmt.Errorf("apply publish of revision %s: %w", rev.ID, err)
	}
	*rev = published

	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{
			Action:       audit.ActionRevisionPublished,
			ResourceType: audit.ResourceFeature,
			ResourceID:   rev.FeatureID,
			Reason:       reason,
			Details: map[string]any{
				"version":     published.Version,
				"baseVersion": published.BaseVersion,
			},
		})
	}
	return nil
}
