// Package poller implements the background worker that drives running
// safe rollouts through their lifecycle: ramp-up advancement, health
// decisions, and notification delivery.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TimurManjosov/saferollout/internal/health"
	"github.com/TimurManjosov/saferollout/internal/notify"
	"github.com/TimurManjosov/saferollout/internal/rollout"
	"github.com/TimurManjosov/saferollout/internal/store"
	"github.com/TimurManjosov/saferollout/internal/telemetry"
)

// Notifier is the slice of the dispatcher the poller needs.
type Notifier interface {
	Dispatch(event notify.Event)
}

// Config holds the poller's tuning and organization-level inputs.
type Config struct {
	// Interval is the duration between poll cycles.
	Interval time.Duration
	// Org carries the health settings and premium gate applied to
	// every rollout decision.
	Org health.OrgContext
	// OrgSchedule is the organization's snapshot update cadence, nil
	// when the organization has none configured.
	OrgSchedule *rollout.UpdateSchedule
}

// Service orchestrates the poll loop.
type Service struct {
	config   Config
	store    store.Store
	engine   *health.Engine
	notifier Notifier
	metrics  telemetry.Sink
	now      func() time.Time
}

// New creates a poller service.
func New(cfg Config, st store.Store, engine *health.Engine, notifier Notifier, metrics telemetry.Sink) *Service {
	if st == nil {
		panic("poller: store cannot be nil")
	}
	if engine == nil {
		panic("poller: engine cannot be nil")
	}
	if metrics == nil {
		metrics = telemetry.Nop{}
	}
	if cfg.Interval < time.Second {
		cfg.Interval = time.Minute // Safe default
	}
	return &Service{
		config:   cfg,
		store:    st,
		engine:   engine,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run starts the poll loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log.Printf("[poller] starting, interval=%s", s.config.Interval)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run once immediately on startup
	if err := s.Tick(ctx); err != nil {
		log.Printf("[poller] initial tick failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[poller] stopping")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				// Log and retry on the next tick.
				log.Printf("[poller] tick failed: %v", err)
			}
		}
	}
}

// Tick runs one poll cycle over all running rollouts. Per-rollout
// failures are logged and skipped so one bad document cannot stall the
// rest of the fleet.
func (s *Service) Tick(ctx context.Context) error {
	start := s.now()
	running, err := s.store.ListRunningSafeRollouts(ctx)
	if err != nil {
		return fmt.Errorf("list running rollouts: %w", err)
	}

	errorCount := 0
	for _, r := range running {
		if err := s.processOne(ctx, r); err != nil {
			log.Printf("[poller] rollout %s: %v", r.ID, err)
			errorCount++
		}
	}

	s.metrics.TickCompleted(time.Since(start))
	if len(running) > 0 || errorCount > 0 {
		log.Printf("[poller] tick completed: rollouts=%d errors=%d duration=%s",
			len(running), errorCount, time.Since(start))
	}
	return nil
}

// TickOne processes a single rollout by id. Used by the manual tick
// endpoint.
func (s *Service) TickOne(ctx context.Context, id string) error {
	r, err := s.store.GetSafeRollout(ctx, id)
	if err != nil {
		return err
	}
	return s.processOne(ctx, *r)
}

// processOne runs the advance/decide/notify sequence for one rollout.
func (s *Service) processOne(ctx context.Context, r rollout.SafeRollout) error {
	if r.Status != rollout.StatusRunning {
		return nil
	}
	now := s.now()

	advanced, changed, err := rollout.AdvanceRampUp(r, s.config.OrgSchedule, now)
	if err != nil {
		return fmt.Errorf("advance ramp up: %w", err)
	}
	if changed {
		stored, err := s.store.UpdateSafeRollout(ctx, advanced, r.Version)
		if errors.Is(err, store.ErrConflict) {
			// Another controller instance got here first. Leave this
			// rollout for its tick.
			log.Printf("[poller] rollout %s: version conflict on ramp up, skipping", r.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("persist ramp up: %w", err)
		}
		r = stored
		s.metrics.RampUpAdvanced()
		log.Printf("[poller] rollout %s: ramp up advanced to step %d/%d",
			r.ID, r.RampUpSchedule.Step+1, len(r.RampUpSchedule.Steps))
	}

	snap, err := s.store.LatestSnapshot(ctx, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		snap = nil
	} else if err != nil {
		return fmt.Errorf("latest snapshot: %w", err)
	}

	decision, decideErr := s.engine.Decide(ctx, s.config.Org, r, snap)
	if decideErr != nil {
		// The verdict still stands; the transition retries next tick.
		log.Printf("[poller] rollout %s: decision not applied: %v", r.ID, decideErr)
	}

	pending := health.ChangedReasons(r, decision.Verdict.UnhealthyReasons)
	events := s.buildEvents(r, decision, pending, now)

	if len(events) > 0 || decision.Status != r.Status {
		updated := health.RecordNotified(r, pending)
		for _, e := range events {
			switch e.Type {
			case notify.EventRolloutRolledBack:
				updated = health.RecordNotified(updated, []string{health.EventRollback})
			case notify.EventRolloutReleased:
				updated = health.RecordNotified(updated, []string{health.EventShip})
			}
		}
		updated.Status = decision.Status
		stored, err := s.store.UpdateSafeRollout(ctx, updated, r.Version)
		if errors.Is(err, store.ErrConflict) {
			// Don't notify on state we failed to record; next tick
			// re-derives the same events from the stored document.
			log.Printf("[poller] rollout %s: version conflict on notification state, skipping", r.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("persist decision: %w", err)
		}
		r = stored
		if r.Status != rollout.StatusRunning {
			s.metrics.StatusTransition(string(decision.Status))
			log.Printf("[poller] rollout %s: status %s", r.ID, decision.Status)
		}
	}

	for _, e := range events {
		if s.notifier != nil {
			s.notifier.Dispatch(e)
		}
		s.metrics.NotificationSent(e.Type)
	}
	return decideErr
}

// buildEvents translates a decision into the notification events that
// have not fired yet. Terminal events are one-shot: once "rollback" or
// "ship" lands in pastNotifications it never fires again.
func (s *Service) buildEvents(r rollout.SafeRollout, decision health.Decision, pending []string, now time.Time) []notify.Event {
	var events []notify.Event
	base := notify.Event{
		Timestamp:     now,
		Organization:  r.Organization,
		SafeRolloutID: r.ID,
		FeatureID:     r.FeatureID,
		Environment:   r.Environment,
	}

	if len(pending) > 0 {
		e := base
		e.Type = notify.EventRolloutUnhealthy
		e.Reasons = pending
		events = append(events, e)
	}

	if decision.Status == rollout.StatusRolledBack && !r.HasNotified(health.EventRollback) {
		e := base
		e.Type = notify.EventRolloutRolledBack
		e.Reasons = decision.Verdict.UnhealthyReasons
		events = append(events, e)
	}

	if decision.Status == rollout.StatusRunning &&
		decision.Verdict.Status == health.VerdictShipNow &&
		!r.HasNotified(health.EventShip) {
		e := base
		e.Type = notify.EventRolloutReleased
		events = append(events, e)
	}

	return events
}
