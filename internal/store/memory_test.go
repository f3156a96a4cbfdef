package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TimurManjosov/saferollout/internal/feature"
	"github.com/TimurManjosov/saferollout/internal/revision"
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

func TestMemoryStoreUpdateSafeRolloutConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r := rollout.SafeRollout{ID: "sr-1", Status: rollout.StatusRunning}
	if err := s.CreateSafeRollout(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetSafeRollout(ctx, "sr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("version = %d, want 1", got.Version)
	}

	updated := got.Clone()
	updated.Status = rollout.StatusReleased
	stored, err := s.UpdateSafeRollout(ctx, updated, got.Version)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if stored.Version != 2 {
		t.Fatalf("stored version = %d, want 2", stored.Version)
	}

	// A second writer holding the old version must lose.
	stale := got.Clone()
	stale.Status = rollout.StatusRolledBack
	if _, err := s.UpdateSafeRollout(ctx, stale, got.Version); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}

	final, err := s.GetSafeRollout(ctx, "sr-1")
	if err != nil {
		t.Fatalf("get after conflict: %v", err)
	}
	if final.Status != rollout.StatusReleased {
		t.Fatalf("status = %q, want released", final.Status)
	}
}

func TestMemoryStoreUpdateSafeRolloutNotFound(t *testing.T) {
	s := NewMemoryStore()
	r := rollout.SafeRollout{ID: "missing"}
	if _, err := s.UpdateSafeRollout(context.Background(), r, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListRunningSafeRollouts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, r := range []rollout.SafeRollout{
		{ID: "b", Status: rollout.StatusRunning},
		{ID: "a", Status: rollout.StatusRunning},
		{ID: "c", Status: rollout.StatusReleased},
	} {
		if err := s.CreateSafeRollout(ctx, r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}

	running, err := s.ListRunningSafeRollouts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(running) != 2 || running[0].ID != "a" || running[1].ID != "b" {
		t.Fatalf("running = %+v, want [a b]", running)
	}
}

func TestMemoryStoreLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.LatestSnapshot(ctx, "sr-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty err = %v, want ErrNotFound", err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"snap-1", "snap-2", "snap-3"} {
		snap := rollout.Snapshot{ID: id, SafeRolloutID: "sr-1", RunDate: base.Add(time.Duration(i) * time.Hour)}
		if err := s.PutSnapshot(ctx, snap); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	latest, err := s.LatestSnapshot(ctx, "sr-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != "snap-3" {
		t.Fatalf("latest = %s, want snap-3", latest.ID)
	}
}

func TestMemoryStoreSyntheticLiveRevision(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	f := feature.Feature{
		ID:      "checkout",
		Version: 4,
		EnvironmentSettings: map[string]feature.EnvironmentSettings{
			"production": {
				Enabled: true,
				Rules: feature.RuleList{
					feature.ForceRule{RuleMeta: feature.RuleMeta{RuleID: "rule-1", RuleEnabled: true}, Value: "on"},
				},
			},
		},
	}
	if err := s.UpsertFeature(ctx, f); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	live, err := s.GetLiveRevision(ctx, "checkout")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if live.Version != 4 || live.Status != revision.StatusPublished {
		t.Fatalf("live = version %d status %q", live.Version, live.Status)
	}
	if len(live.Rules["production"]) != 1 {
		t.Fatalf("live rules = %+v", live.Rules)
	}

	// The same synthetic document is reachable by exact version.
	byVersion, err := s.GetRevision(ctx, "checkout", 4)
	if err != nil {
		t.Fatalf("get revision: %v", err)
	}
	if byVersion.Version != 4 {
		t.Fatalf("byVersion = %d, want 4", byVersion.Version)
	}

	if _, err := s.GetRevision(ctx, "checkout", 3); !errors.Is(err, revision.ErrRevisionNotFound) {
		t.Fatalf("old version err = %v, want ErrRevisionNotFound", err)
	}
	if _, err := s.GetLiveRevision(ctx, "missing"); !errors.Is(err, revision.ErrRevisionNotFound) {
		t.Fatalf("missing feature err = %v, want ErrRevisionNotFound", err)
	}
}

func TestMemoryStoreApplyPublish(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	f := feature.Feature{ID: "checkout", Version: 4, EnvironmentSettings: map[string]feature.EnvironmentSettings{
		"production": {Enabled: true},
	}}
	if err := s.UpsertFeature(ctx, f); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	published := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rev := revision.Revision{
		ID:            "rev-1",
		FeatureID:     "checkout",
		Version:       5,
		BaseVersion:   4,
		Status:        revision.StatusPublished,
		DatePublished: &published,
		Rules: map[string]feature.RuleList{
			"production": {
				feature.ForceRule{RuleMeta: feature.RuleMeta{RuleID: "rule-1", RuleEnabled: true}, Value: "on"},
			},
		},
	}
	if err := s.ApplyPublish(ctx, rev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := s.GetFeature(ctx, "checkout")
	if err != nil {
		t.Fatalf("get feature: %v", err)
	}
	if got.Version != 5 {
		t.Fatalf("feature version = %d, want 5", got.Version)
	}
	if len(got.EnvironmentSettings["production"].Rules) != 1 {
		t.Fatalf("rules not applied: %+v", got.EnvironmentSettings)
	}

	live, err := s.GetLiveRevision(ctx, "checkout")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if live.ID != "rev-1" {
		t.Fatalf("live = %s, want rev-1", live.ID)
	}
}

func TestMemoryStoreUniverse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.UpsertFeature(ctx, feature.Feature{ID: "f1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertExperiment(ctx, feature.Experiment{ID: "exp1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSafeRollout(ctx, rollout.SafeRollout{ID: "sr1", Status: rollout.StatusRunning}); err != nil {
		t.Fatal(err)
	}

	features, experiments, rollouts, err := Universe(ctx, s)
	if err != nil {
		t.Fatalf("universe: %v", err)
	}
	if _, ok := features["f1"]; !ok {
		t.Fatal("feature f1 missing")
	}
	if _, ok := experiments["exp1"]; !ok {
		t.Fatal("experiment exp1 missing")
	}
	if _, ok := rollouts["sr1"]; !ok {
		t.Fatal("rollout sr1 missing")
	}
}
