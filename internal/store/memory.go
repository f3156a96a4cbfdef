package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TimurManjosov/saferollout/internal/feature"
	"github.com/TimurManjosov/saferollout/internal/revision"
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

// MemoryStore is an in-memory implementation of Store, suitable for
// development, testing, and single-instance deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	features    map[string]feature.Feature
	experiments map[string]feature.Experiment
	rollouts    map[string]rollout.SafeRollout
	snapshots   map[string][]rollout.Snapshot // rollout id -> runs, append order
	revisions   map[string][]revision.Revision
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		features:    make(map[string]feature.Feature),
		experiments: make(map[string]feature.Experiment),
		rollouts:    make(map[string]rollout.SafeRollout),
		snapshots:   make(map[string][]rollout.Snapshot),
		revisions:   make(map[string][]revision.Revision),
	}
}

func (m *MemoryStore) GetFeature(ctx context.Context, id string) (*feature.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.features[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (m *MemoryStore) ListFeatures(ctx context.Context) ([]feature.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]feature.Feature, 0, len(m.features))
	for _, f := range m.features {
		out = append(out, f)
	}
	return out, nil
}

func (m *MemoryStore) UpsertFeature(ctx context.Context, f feature.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[f.ID] = f
	return nil
}

func (m *MemoryStore) ListExperiments(ctx context.Context) ([]feature.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]feature.Experiment, 0, len(m.experiments))
	for _, e := range m.experiments {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) UpsertExperiment(ctx context.Context, e feature.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments[e.ID] = e
	return nil
}

func (m *MemoryStore) GetSafeRollout(ctx context.Context, id string) (*rollout.SafeRollout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rollouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := r.Clone()
	return &out, nil
}

func (m *MemoryStore) ListSafeRollouts(ctx context.Context) ([]rollout.SafeRollout, error) {
	return m.listRollouts(func(rollout.SafeRollout) bool { return true })
}

func (m *MemoryStore) ListRunningSafeRollouts(ctx context.Context) ([]rollout.SafeRollout, error) {
	return m.listRollouts(func(r rollout.SafeRollout) bool { return r.Status == rollout.StatusRunning })
}

func (m *MemoryStore) listRollouts(keep func(rollout.SafeRollout) bool) ([]rollout.SafeRollout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []rollout.SafeRollout
	for _, r := range m.rollouts {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	// Stable order keeps poll ticks deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateSafeRollout(ctx context.Context, r rollout.SafeRollout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Version == 0 {
		r.Version = 1
	}
	m.rollouts[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) UpdateSafeRollout(ctx context.Context, r rollout.SafeRollout, expectedVersion int) (rollout.SafeRollout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rollouts[r.ID]
	if !ok {
		return rollout.SafeRollout{}, ErrNotFound
	}
	if current.Version != expectedVersion {
		return rollout.SafeRollout{}, ErrConflict
	}
	stored := r.Clone()
	stored.Version = expectedVersion + 1
	m.rollouts[r.ID] = stored
	return stored.Clone(), nil
}

func (m *MemoryStore) PutSnapshot(ctx context.Context, snap rollout.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.SafeRolloutID] = append(m.snapshots[snap.SafeRolloutID], snap)
	return nil
}

func (m *MemoryStore) LatestSnapshot(ctx context.Context, rolloutID string) (*rollout.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := m.snapshots[rolloutID]
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	latest := runs[len(runs)-1]
	return &latest, nil
}

// ---- revision.Storage ----

func (m *MemoryStore) InsertRevision(ctx context.Context, rev revision.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revisions[rev.FeatureID] = append(m.revisions[rev.FeatureID], rev)
	return nil
}

func (m *MemoryStore) UpdateRevision(ctx context.Context, rev revision.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs := m.revisions[rev.FeatureID]
	for i := range revs {
		if revs[i].ID == rev.ID {
			revs[i] = rev
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) GetRevision(ctx context.Context, featureID string, version int) (*revision.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rev := range m.revisions[featureID] {
		if rev.Version == version {
			out := rev
			return &out, nil
		}
	}
	// A feature that predates the revision log serves its published
	// state as a synthetic revision.
	if f, ok := m.features[featureID]; ok && f.Version == version {
		rev := syntheticLiveRevision(f)
		return &rev, nil
	}
	return nil, revision.ErrRevisionNotFound
}

func (m *MemoryStore) GetLiveRevision(ctx context.Context, featureID string) (*revision.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var live *revision.Revision
	for _, rev := range m.revisions[featureID] {
		if rev.Status != revision.StatusPublished {
			continue
		}
		if live == nil || rev.Version > live.Version {
			r := rev
			live = &r
		}
	}
	if live != nil {
		return live, nil
	}
	if f, ok := m.features[featureID]; ok {
		rev := syntheticLiveRevision(f)
		return &rev, nil
	}
	return nil, revision.ErrRevisionNotFound
}

func (m *MemoryStore) ApplyPublish(ctx context.Context, rev revision.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.features[rev.FeatureID]
	if !ok {
		return ErrNotFound
	}

	replaced := false
	revs := m.revisions[rev.FeatureID]
	for i := range revs {
		if revs[i].ID == rev.ID {
			revs[i] = rev
			replaced = true
			break
		}
	}
	if !replaced {
		m.revisions[rev.FeatureID] = append(revs, rev)
	}

	for env, rules := range rev.Rules {
		settings := f.EnvironmentSettings[env]
		settings.Rules = rules
		if f.EnvironmentSettings == nil {
			f.EnvironmentSettings = map[string]feature.EnvironmentSettings{}
		}
		f.EnvironmentSettings[env] = settings
	}
	f.Version = rev.Version
	f.DateUpdated = time.Now().UTC()
	m.features[rev.FeatureID] = f
	return nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error { return nil }

func syntheticLiveRevision(f feature.Feature) revision.Revision {
	rules := make(map[string]feature.RuleList, len(f.EnvironmentSettings))
	for env, settings := range f.EnvironmentSettings {
		rules[env] = settings.Rules
	}
	return revision.Revision{
		ID:           "live-" + f.ID,
		FeatureID:    f.ID,
		Version:      f.Version,
		BaseVersion:  f.Version,
		Status:       revision.StatusPublished,
		DefaultValue: f.DefaultValue,
		Rules:        rules,
		DateCreated:  f.DateUpdated,
	}
}
