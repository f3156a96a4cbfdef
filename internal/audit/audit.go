// Package audit records controller-initiated changes: rollout status
// transitions, auto-published revisions, and fired health notifications.
// Events are written through a pluggable sink so tests can capture them
// and production can forward them to durable storage.
package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the rollout controller.
const (
	ActionStatusChanged     = "status_changed"
	ActionRevisionPublished = "revision_published"
	ActionNotified          = "notified"
)

// Resource types referenced by events.
const (
	ResourceSafeRollout = "safe_rollout"
	ResourceFeature     = "feature"
)

// PublishReasonStatusChange tags revisions the controller publishes on
// its own when a rollout's status transitions.
const PublishReasonStatusChange = "auto-publish status change"

// Event is one audit record. The controller is always the actor, so no
// actor field is carried.
type Event struct {
	ID           string         `json:"id"`
	OccurredAt   time.Time      `json:"occurredAt"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Environment  string         `json:"environment,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Sink persists audit events. Write failures are logged, never
// propagated: auditing must not abort the mutation it describes.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Service stamps and forwards events to its sink.
type Service struct {
	sink  Sink
	clock Clock
}

// NewService creates an audit service. A nil sink falls back to the log
// sink; a nil clock falls back to the system clock.
func NewService(sink Sink, clock Clock) *Service {
	if sink == nil {
		sink = LogSink{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{sink: sink, clock: clock}
}

// Record stamps the event with an id and timestamp and writes it.
func (s *Service) Record(ctx context.Context, event Event) {
	event.ID = uuid.NewString()
	event.OccurredAt = s.clock.Now()
	if err := s.sink.Write(ctx, event); err != nil {
		log.Printf("[audit] write failed: action=%s resource=%s/%s error=%v",
			event.Action, event.ResourceType, event.ResourceID, err)
	}
}

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Write(_ context.Context, event Event) error {
	log.Printf("[audit] action=%s resource=%s/%s env=%s reason=%q",
		event.Action, event.ResourceType, event.ResourceID, event.Environment, event.Reason)
	return nil
}

// MemorySink captures events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Write(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything written so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
