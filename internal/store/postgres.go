package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/saferollout/internal/feature"
	"github.com/TimurManjosov/saferollout/internal/revision"
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

// Documents are persisted as JSONB with the hot columns (status,
// version, run date) promoted for indexing; the Go structs stay the
// single source of truth for the document shape.
const schema = `
CREATE TABLE IF NOT EXISTS features (
    id           TEXT PRIMARY KEY,
    date_updated TIMESTAMPTZ NOT NULL,
    doc          JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS experiments (
    id  TEXT PRIMARY KEY,
    doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS safe_rollouts (
    id      TEXT PRIMARY KEY,
    status  TEXT NOT NULL,
    version INT  NOT NULL,
    doc     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_safe_rollouts_status ON safe_rollouts (status);
CREATE TABLE IF NOT EXISTS rollout_snapshots (
    id              TEXT PRIMARY KEY,
    safe_rollout_id TEXT NOT NULL,
    run_date        TIMESTAMPTZ NOT NULL,
    doc             JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_rollout ON rollout_snapshots (safe_rollout_id, run_date DESC);
CREATE TABLE IF NOT EXISTS feature_revisions (
    feature_id TEXT NOT NULL,
    version    INT  NOT NULL,
    status     TEXT NOT NULL,
    doc        JSONB NOT NULL,
    PRIMARY KEY (feature_id, version)
);
`

// PostgresStore is a PostgreSQL-backed implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on the given pool and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) GetFeature(ctx context.Context, id string) (*feature.Feature, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM features WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var f feature.Feature
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("decode feature %s: %w", id, err)
	}
	return &f, nil
}

func (p *PostgresStore) ListFeatures(ctx context.Context) ([]feature.Feature, error) {
	rows, err := p.pool.Query(ctx, `SELECT doc FROM features ORDER BY date_updated ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []feature.Feature
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var f feature.Feature
		if err := json.Unmarshal(doc, &f); err != nil {
			return nil, fmt.Errorf("decode feature: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertFeature(ctx context.Context, f feature.Feature) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO features (id, date_updated, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET date_updated = $2, doc = $3`,
		f.ID, f.DateUpdated, doc)
	return err
}

func (p *PostgresStore) ListExperiments(ctx context.Context) ([]feature.Experiment, error) {
	rows, err := p.pool.Query(ctx, `SELECT doc FROM experiments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []feature.Experiment
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var e feature.Experiment
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("decode experiment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertExperiment(ctx context.Context, e feature.Experiment) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO experiments (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = $2`,
		e.ID, doc)
	return err
}

func (p *PostgresStore) GetSafeRollout(ctx context.Context, id string) (*rollout.SafeRollout, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM safe_rollouts WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r rollout.SafeRollout
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode rollout %s: %w", id, err)
	}
	return &r, nil
}

func (p *PostgresStore) ListSafeRollouts(ctx context.Context) ([]rollout.SafeRollout, error) {
	return p.listRollouts(ctx, `SELECT doc FROM safe_rollouts ORDER BY id`)
}

func (p *PostgresStore) ListRunningSafeRollouts(ctx context.Context) ([]rollout.SafeRollout, error) {
	return p.listRollouts(ctx, `SELECT doc FROM safe_rollouts WHERE status = 'running' ORDER BY id`)
}

func (p *PostgresStore) listRollouts(ctx context.Context, query string) ([]rollout.SafeRollout, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rollout.SafeRollout
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r rollout.SafeRollout
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("decode rollout: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateSafeRollout(ctx context.Context, r rollout.SafeRollout) error {
	if r.Version == 0 {
		r.Version = 1
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO safe_rollouts (id, status, version, doc) VALUES ($1, $2, $3, $4)`,
		r.ID, string(r.Status), r.Version, doc)
	return err
}

// UpdateSafeRollout writes the rollout only when the stored version
// still matches expectedVersion, so concurrent tickers cannot clobber
// each other.
func (p *PostgresStore) UpdateSafeRollout(ctx context.Context, r rollout.SafeRollout, expectedVersion int) (rollout.SafeRollout, error) {
	stored := r.Clone()
	stored.Version = expectedVersion + 1
	doc, err := json.Marshal(stored)
	if err != nil {
		return rollout.SafeRollout{}, err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE safe_rollouts SET status = $2, version = $3, doc = $4
		WHERE id = $1 AND version = $5`,
		stored.ID, string(stored.Status), stored.Version, doc, expectedVersion)
	if err != nil {
		return rollout.SafeRollout{}, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM safe_rollouts WHERE id = $1)`, stored.ID).Scan(&exists); err != nil {
			return rollout.SafeRollout{}, err
		}
		if !exists {
			return rollout.SafeRollout{}, ErrNotFound
		}
		return rollout.SafeRollout{}, ErrConflict
	}
	return stored, nil
}

func (p *PostgresStore) PutSnapshot(ctx context.Context, snap rollout.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO rollout_snapshots (id, safe_rollout_id, run_date, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET doc = $4`,
		snap.ID, snap.SafeRolloutID, snap.RunDate, doc)
	return err
}

func (p *PostgresStore) LatestSnapshot(ctx context.Context, rolloutID string) (*rollout.Snapshot, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `
		SELECT doc FROM rollout_snapshots WHERE safe_rollout_id = $1
		ORDER BY run_date DESC LIMIT 1`, rolloutID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap rollout.Snapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// ---- revision.Storage ----

func (p *PostgresStore) InsertRevision(ctx context.Context, rev revision.Revision) error {
	doc, err := json.Marshal(rev)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO feature_revisions (feature_id, version, status, doc) VALUES ($1, $2, $3, $4)`,
		rev.FeatureID, rev.Version, string(rev.Status), doc)
	return err
}

func (p *PostgresStore) UpdateRevision(ctx context.Context, rev revision.Revision) error {
	doc, err := json.Marshal(rev)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE feature_revisions SET status = $3, doc = $4
		WHERE feature_id = $1 AND version = $2`,
		rev.FeatureID, rev.Version, string(rev.Status), doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetRevision(ctx context.Context, featureID string, version int) (*revision.Revision, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `
		SELECT doc FROM feature_revisions WHERE feature_id = $1 AND version = $2`,
		featureID, version).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		// Features that predate the revision log serve their published
		// state as a synthetic revision.
		f, ferr := p.GetFeature(ctx, featureID)
		if ferr == nil && f.Version == version {
			rev := syntheticLiveRevision(*f)
			return &rev, nil
		}
		return nil, revision.ErrRevisionNotFound
	}
	if err != nil {
		return nil, err
	}
	var rev revision.Revision
	if err := json.Unmarshal(doc, &rev); err != nil {
		return nil, fmt.Errorf("decode revision: %w", err)
	}
	return &rev, nil
}

func (p *PostgresStore) GetLiveRevision(ctx context.Context, featureID string) (*revision.Revision, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `
		SELECT doc FROM feature_revisions WHERE feature_id = $1 AND status = 'published'
		ORDER BY version DESC LIMIT 1`, featureID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		f, ferr := p.GetFeature(ctx, featureID)
		if ferr != nil {
			return nil, revision.ErrRevisionNotFound
		}
		rev := syntheticLiveRevision(*f)
		return &rev, nil
	}
	if err != nil {
		return nil, err
	}
	var rev revision.Revision
	if err := json.Unmarshal(doc, &rev); err != nil {
		return nil, fmt.Errorf("decode revision: %w", err)
	}
	return &rev, nil
}

// ApplyPublish marks the revision published and replaces the feature's
// rules with the merged result in one transaction.
func (p *PostgresStore) ApplyPublish(ctx context.Context, rev revision.Revision) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var featureDoc []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM features WHERE id = $1 FOR UPDATE`, rev.FeatureID).Scan(&featureDoc)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var f feature.Feature
	if err := json.Unmarshal(featureDoc, &f); err != nil {
		return fmt.Errorf("decode feature %s: %w", rev.FeatureID, err)
	}
	if f.EnvironmentSettings == nil {
		f.EnvironmentSettings = map[string]feature.EnvironmentSettings{}
	}
	for env, rules := range rev.Rules {
		settings := f.EnvironmentSettings[env]
		settings.Rules = rules
		f.EnvironmentSettings[env] = settings
	}
	f.Version = rev.Version
	if rev.DatePublished != nil {
		f.DateUpdated = *rev.DatePublished
	}

	updatedDoc, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE features SET date_updated = $2, doc = $3 WHERE id = $1`,
		f.ID, f.DateUpdated, updatedDoc); err != nil {
		return err
	}

	revDoc, err := json.Marshal(rev)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO feature_revisions (feature_id, version, status, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (feature_id, version) DO UPDATE SET status = $3, doc = $4`,
		rev.FeatureID, rev.Version, string(rev.Status), revDoc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Close releases the underlying pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
