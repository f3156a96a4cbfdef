// Package store defines the persistence interface for the rollout
// controller and provides in-memory and PostgreSQL implementations.
// Safe-rollout mutations go through a conditional update keyed on the
// document version; that is the serialization guarantee the ramp
// advancer relies on instead of locks.
package store

import (
	"context"
	"errors"

	"github.com/TimurManjosov/saferollout/internal/feature"
	"github.com/TimurManjosov/saferollout/internal/revision"
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by UpdateSafeRollout when the expected version
// no longer matches: another worker already mutated the document and the
// caller must reload before retrying.
var ErrConflict = errors.New("version conflict")

// Store is the persistence surface. Implementations must be safe for
// concurrent use. It embeds revision.Storage so the revision pipeline
// shares the same backend.
type Store interface {
	revision.Storage

	ListFeatures(ctx context.Context) ([]feature.Feature, error)
	UpsertFeature(ctx context.Context, f feature.Feature) error

	ListExperiments(ctx context.Context) ([]feature.Experiment, error)
	UpsertExperiment(ctx context.Context, e feature.Experiment) error

	GetSafeRollout(ctx context.Context, id string) (*rollout.SafeRollout, error)
	ListSafeRollouts(ctx context.Context) ([]rollout.SafeRollout, error)
	// ListRunningSafeRollouts returns only rollouts in the running
	// status, the set a poll tick operates on.
	ListRunningSafeRollouts(ctx context.Context) ([]rollout.SafeRollout, error)
	CreateSafeRollout(ctx context.Context, r rollout.SafeRollout) error
	// UpdateSafeRollout persists r only if the stored version still
	// equals expectedVersion, then bumps the version. Returns the
	// stored value on success and ErrConflict on a version mismatch.
	UpdateSafeRollout(ctx context.Context, r rollout.SafeRollout, expectedVersion int) (rollout.SafeRollout, error)

	PutSnapshot(ctx context.Context, snap rollout.Snapshot) error
	// LatestSnapshot returns the most recent snapshot for the rollout,
	// or ErrNotFound when none has been produced yet.
	LatestSnapshot(ctx context.Context, rolloutID string) (*rollout.Snapshot, error)

	// Close releases any resources held by the store.
	Close() error
}

// Universe loads the full evaluation universe in one call; both the
// staleness API and the poller need it.
func Universe(ctx context.Context, s Store) (map[string]feature.Feature, map[string]feature.Experiment, map[string]rollout.SafeRollout, error) {
	features, err := s.ListFeatures(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	experiments, err := s.ListExperiments(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	rollouts, err := s.ListSafeRollouts(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	featureMap := make(map[string]feature.Feature, len(features))
	for _, f := range features {
		featureMap[f.ID] = f
	}
	experimentMap := make(map[string]feature.Experiment, len(experiments))
	for _, e := range experiments {
		experimentMap[e.ID] = e
	}
	rolloutMap := make(map[string]rollout.SafeRollout, len(rollouts))
	for _, r := range rollouts {
		rolloutMap[r.ID] = r
	}
	return featureMap, experimentMap, rolloutMap, nil
}
