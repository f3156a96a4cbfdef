package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/saferollout/internal/evaluation"
	"github.com/TimurManjosov/saferollout/internal/staleness"
	"github.com/TimurManjosov/saferollout/internal/store"
	"github.com/TimurManjosov/saferollout/internal/telemetry"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// Ticker is the manual-trigger slice of the poller.
type Ticker interface {
	TickOne(ctx context.Context, id string) error
}

// Server serves the controller's read and admin endpoints.
type Server struct {
	store       store.Store
	classifier  *staleness.Classifier
	ticker      Ticker
	adminAPIKey string
	metrics     telemetry.Sink
	middlewares []func(http.Handler) http.Handler
}

// NewServer creates an API server. ticker may be nil, which disables
// the manual tick endpoint with a 404.
func NewServer(st store.Store, classifier *staleness.Classifier, ticker Ticker, adminKey string) *Server {
	return &Server{store: st, classifier: classifier, ticker: ticker, adminAPIKey: adminKey, metrics: telemetry.Nop{}}
}

// Use appends extra middleware (request metrics and the like) applied
// to every route.
func (s *Server) Use(mw ...func(http.Handler) http.Handler) {
	s.middlewares = append(s.middlewares, mw...)
}

// SetMetrics replaces the no-op telemetry sink.
func (s *Server) SetMetrics(sink telemetry.Sink) {
	if sink != nil {
		s.metrics = sink
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	for _, mw := range s.middlewares {
		r.Use(mw)
	}

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/v1/features/stale", s.handleStaleGet)
	r.Post("/v1/features/stale", s.handleStalePost)

	r.Get("/v1/rollouts", s.handleListRollouts)
	r.Get("/v1/rollouts/{id}", s.handleGetRollout)

	// admin (protected): manual controller tick for one rollout
	r.Post("/v1/rollouts/{id}/tick", s.authAdmin(s.handleTickRollout))

	return r
}

// ---- staleness report ----

type staleEnvValue struct {
	Value *string `json:"value"`
}

type staleFeature struct {
	ID           string                   `json:"id"`
	Owner        string                   `json:"owner"`
	Archived     bool                     `json:"archived"`
	DateCreated  time.Time                `json:"dateCreated"`
	DateUpdated  time.Time                `json:"dateUpdated"`
	ValueType    string                   `json:"valueType"`
	Environments map[string]staleEnvValue `json:"environments"`

	// POST variant only
	Project string `json:"project,omitempty"`
	Stale   *bool  `json:"stale,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type staleResponse struct {
	Features []staleFeature `json:"features"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
	Total    int            `json:"total"`
}

type stalePostRequest struct {
	IDs []string `json:"ids,omitempty"`
}

func (s *Server) handleStaleGet(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, err.Error())
		return
	}
	s.writeStaleReport(w, r, nil, limit, offset, evaluation.PolicyNull, false)
}

func (s *Server) handleStalePost(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, err.Error())
		return
	}
	var req stalePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return
	}
	var filter map[string]bool
	if len(req.IDs) > 0 {
		filter = make(map[string]bool, len(req.IDs))
		for _, id := range req.IDs {
			filter[id] = true
		}
	}
	s.writeStaleReport(w, r, filter, limit, offset, evaluation.PolicyDefault, true)
}

func (s *Server) writeStaleReport(w http.ResponseWriter, r *http.Request, filter map[string]bool, limit, offset int, policy evaluation.Policy, withClassification bool) {
	ctx := r.Context()
	features, experiments, rollouts, err := store.Universe(ctx, s.store)
	if err != nil {
		InternalError(w, r, "failed to load features")
		return
	}
	u := evaluation.Universe{Experiments: experiments, SafeRollouts: rollouts}

	rows := s.classifier.Report(features, u)

	// Gauge tracks the whole universe, not the filtered page.
	staleCount := 0
	for _, row := range rows {
		if row.Result.Stale {
			staleCount++
		}
	}
	s.metrics.SetStaleFeatures(staleCount)

	if filter != nil {
		kept := rows[:0]
		for _, row := range rows {
			if filter[row.Feature.ID] {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	total := len(rows)
	if offset > len(rows) {
		offset = len(rows)
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]staleFeature, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.staleRow(row, u, policy, withClassification))
	}
	writeJSON(w, http.StatusOK, staleResponse{Features: out, Limit: limit, Offset: offset, Total: total})
}

func (s *Server) staleRow(row staleness.FeatureStatus, u evaluation.Universe, policy evaluation.Policy, withClassification bool) staleFeature {
	f := row.Feature
	envs := make(map[string]staleEnvValue, len(f.EnvironmentSettings))
	for envID := range f.EnvironmentSettings {
		v := evaluation.Evaluate(f, envID, u, policy)
		if v.Resolved {
			val := v.Value
			envs[envID] = staleEnvValue{Value: &val}
		} else {
			envs[envID] = staleEnvValue{}
		}
	}

	sf := staleFeature{
		ID:           f.ID,
		Owner:        f.Owner,
		Archived:     f.Archived,
		DateCreated:  f.DateCreated,
		DateUpdated:  f.DateUpdated,
		ValueType:    string(f.ValueType),
		Environments: envs,
	}
	if withClassification {
		stale := row.Result.Stale
		sf.Project = f.Project
		sf.Stale = &stale
		sf.Reason = string(row.Result.Reason)
	}
	return sf
}

// ---- rollouts ----

func (s *Server) handleListRollouts(w http.ResponseWriter, r *http.Request) {
	rollouts, err := s.store.ListSafeRollouts(r.Context())
	if err != nil {
		InternalError(w, r, "failed to list rollouts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rollouts": rollouts})
}

func (s *Server) handleGetRollout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rollout, err := s.store.GetSafeRollout(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		NotFoundError(w, r, "rollout not found")
		return
	}
	if err != nil {
		InternalError(w, r, "failed to load rollout")
		return
	}
	writeJSON(w, http.StatusOK, rollout)
}

func (s *Server) handleTickRollout(w http.ResponseWriter, r *http.Request) {
	if s.ticker == nil {
		NotFoundError(w, r, "controller not running")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.ticker.TickOne(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFoundError(w, r, "rollout not found")
			return
		}
		InternalError(w, r, "tick failed: "+err.Error())
		return
	}
	rollout, err := s.store.GetSafeRollout(r.Context(), id)
	if err != nil {
		InternalError(w, r, "failed to reload rollout")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": rollout.Status})
}

// ---- middleware & helpers ----

func (s *Server) authAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		if got == "" {
			UnauthorizedError(w, r, "missing bearer token")
			return
		}
		// constant-time compare
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminAPIKey)) != 1 {
			ForbiddenError(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
