package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TimurManjosov/saferollout/internal/feature"
	"github.com/TimurManjosov/saferollout/internal/rollout"
	"github.com/TimurManjosov/saferollout/internal/staleness"
	"github.com/TimurManjosov/saferollout/internal/store"
	"github.com/TimurManjosov/saferollout/internal/telemetry"
)

var testNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, st store.Store, ticker Ticker) *Server {
	t.Helper()
	classifier := staleness.New(staleness.DefaultFreshWindow, func() time.Time { return testNow })
	return NewServer(st, classifier, ticker, "test-admin-key")
}

func seedStaleFeature(t *testing.T, st store.Store, id string, updated time.Time) {
	t.Helper()
	f := feature.Feature{
		ID:           id,
		Owner:        "team-growth",
		Project:      "web",
		ValueType:    feature.ValueTypeBoolean,
		DefaultValue: "false",
		DateCreated:  updated.Add(-30 * 24 * time.Hour),
		DateUpdated:  updated,
		EnvironmentSettings: map[string]feature.EnvironmentSettings{
			"production": {
				Enabled: true,
				Rules: feature.RuleList{
					feature.ForceRule{RuleMeta: feature.RuleMeta{RuleID: id + "-r1", RuleEnabled: true}, Value: "true"},
				},
			},
			"staging": {Enabled: false},
		},
	}
	if err := st.UpsertFeature(context.Background(), f); err != nil {
		t.Fatalf("seed feature %s: %v", id, err)
	}
}

func TestStaleGetReport(t *testing.T) {
	st := store.NewMemoryStore()
	old := testNow.Add(-60 * 24 * time.Hour)
	seedStaleFeature(t, st, "newer", old.Add(24*time.Hour))
	seedStaleFeature(t, st, "older", old)

	srv := newTestServer(t, st, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/features/stale", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp staleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Features) != 2 {
		t.Fatalf("total = %d, features = %d", resp.Total, len(resp.Features))
	}
	// Oldest dateUpdated first.
	if resp.Features[0].ID != "older" || resp.Features[1].ID != "newer" {
		t.Errorf("order = [%s %s]", resp.Features[0].ID, resp.Features[1].ID)
	}

	f := resp.Features[0]
	if f.Owner != "team-growth" || f.ValueType != "boolean" {
		t.Errorf("row = %+v", f)
	}
	// GET variant omits the classification fields.
	if f.Stale != nil || f.Reason != "" || f.Project != "" {
		t.Errorf("GET row leaked classification: %+v", f)
	}
	// Enabled env resolves through the force rule; disabled env is null
	// under the read policy.
	prod := f.Environments["production"]
	if prod.Value == nil || *prod.Value != "true" {
		t.Errorf("production value = %v", prod.Value)
	}
	if f.Environments["staging"].Value != nil {
		t.Errorf("staging value = %v, want null", *f.Environments["staging"].Value)
	}
}

type gaugeSink struct {
	telemetry.Nop
	stale int
}

func (g *gaugeSink) SetStaleFeatures(n int) { g.stale = n }

func TestStaleReportSetsGauge(t *testing.T) {
	st := store.NewMemoryStore()
	old := testNow.Add(-60 * 24 * time.Hour)
	seedStaleFeature(t, st, "old-a", old)
	seedStaleFeature(t, st, "old-b", old)
	seedStaleFeature(t, st, "fresh", testNow.Add(-time.Hour))

	srv := newTestServer(t, st, nil)
	sink := &gaugeSink{}
	srv.SetMetrics(sink)

	// Filter and paging must not shrink the gauge: it tracks the whole
	// universe.
	body := bytes.NewBufferString(`{"ids":["old-a"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/features/stale?limit=1", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if sink.stale != 2 {
		t.Errorf("stale gauge = %d, want 2", sink.stale)
	}
}

func TestStalePostReport(t *testing.T) {
	st := store.NewMemoryStore()
	old := testNow.Add(-60 * 24 * time.Hour)
	seedStaleFeature(t, st, "wanted", old)
	seedStaleFeature(t, st, "ignored", old)

	srv := newTestServer(t, st, nil)
	body := bytes.NewBufferString(`{"ids":["wanted"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/features/stale", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp staleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Features) != 1 {
		t.Fatalf("total = %d, features = %d", resp.Total, len(resp.Features))
	}

	f := resp.Features[0]
	if f.ID != "wanted" || f.Project != "web" {
		t.Errorf("row = %+v", f)
	}
	if f.Stale == nil || !*f.Stale {
		t.Errorf("stale = %v, want true", f.Stale)
	}
	if f.Reason != string(staleness.ReasonOneSided) {
		t.Errorf("reason = %q", f.Reason)
	}
	// POST variant falls back to the default value for disabled envs.
	staging := f.Environments["staging"]
	if staging.Value == nil || *staging.Value != "false" {
		t.Errorf("staging value = %v, want default", staging.Value)
	}
}

func TestStalePagination(t *testing.T) {
	st := store.NewMemoryStore()
	old := testNow.Add(-90 * 24 * time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		seedStaleFeature(t, st, id, old.Add(time.Duration(i)*time.Hour))
	}

	srv := newTestServer(t, st, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/features/stale?limit=1&offset=1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var resp staleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Features) != 1 || resp.Features[0].ID != "b" {
		t.Fatalf("resp = %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/features/stale?limit=0", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}
}

func TestGetRollout(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.CreateSafeRollout(context.Background(), rollout.SafeRollout{
		ID:     "sr-1",
		Status: rollout.StatusRunning,
	}); err != nil {
		t.Fatal(err)
	}

	srv := newTestServer(t, st, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/rollouts/sr-1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got rollout.SafeRollout
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "sr-1" || got.Status != rollout.StatusRunning {
		t.Errorf("rollout = %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/rollouts/missing", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

type fakeTicker struct {
	st     store.Store
	ticked []string
}

func (f *fakeTicker) TickOne(ctx context.Context, id string) error {
	if _, err := f.st.GetSafeRollout(ctx, id); err != nil {
		return err
	}
	f.ticked = append(f.ticked, id)
	return nil
}

func TestTickRolloutAuth(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.CreateSafeRollout(context.Background(), rollout.SafeRollout{
		ID:     "sr-1",
		Status: rollout.StatusRunning,
	}); err != nil {
		t.Fatal(err)
	}

	ticker := &fakeTicker{st: st}
	srv := newTestServer(t, st, ticker)
	router := srv.Router()

	// no token
	req := httptest.NewRequest(http.MethodPost, "/v1/rollouts/sr-1/tick", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	// wrong token
	req = httptest.NewRequest(http.MethodPost, "/v1/rollouts/sr-1/tick", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong token status = %d, want 403", rec.Code)
	}

	// valid token
	req = httptest.NewRequest(http.MethodPost, "/v1/rollouts/sr-1/tick", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(ticker.ticked) != 1 || ticker.ticked[0] != "sr-1" {
		t.Errorf("ticked = %v", ticker.ticked)
	}

	// unknown rollout
	req = httptest.NewRequest(http.MethodPost, "/v1/rollouts/missing/tick", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}
