// Package rollout contains the safe-rollout document model and the pure
// state transitions that drive its traffic ramp-up schedule. Everything
// here is load -> transform -> persist: functions return new values and
// never touch storage, so the store's optimistic version check is the
// only serialization mechanism needed.
package rollout

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a safe rollout.
type Status string

const (
	StatusRunning    Status = "running"
	StatusReleased   Status = "released"
	StatusRolledBack Status = "rolled-back"
	StatusStopped    Status = "stopped"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRolledBack || s == StatusStopped
}

// DurationUnit is the unit of a rollout's maximum duration.
type DurationUnit string

const (
	UnitDays    DurationUnit = "days"
	UnitWeeks   DurationUnit = "weeks"
	UnitHours   DurationUnit = "hours"
	UnitMinutes DurationUnit = "minutes"
)

// ErrUnknownDurationUnit is returned when a max duration carries a unit
// outside days/weeks/hours/minutes. There is no sensible default, so
// this is fatal to the caller.
var ErrUnknownDurationUnit = errors.New("unknown duration unit")

// MaxDuration is the total lifetime budget of a rollout. Ramp-up
// consumes a fixed fraction of it (see RampUpFraction).
type MaxDuration struct {
	Amount float64      `json:"amount"`
	Unit   DurationUnit `json:"unit"`
}

// Seconds converts the duration to seconds.
func (d MaxDuration) Seconds() (float64, error) {
	switch d.Unit {
	case UnitDays:
		return d.Amount * 86400, nil
	case UnitWeeks:
		return d.Amount * 604800, nil
	case UnitHours:
		return d.Amount * 3600, nil
	case UnitMinutes:
		return d.Amount * 60, nil
	default:
		return 0, ErrUnknownDurationUnit
	}
}

// RampStep is one checkpoint of the ramp-up schedule. Percent is a
// fraction of traffic in [0, 1].
type RampStep struct {
	Percent      float64    `json:"percent"`
	DateRampedUp *time.Time `json:"dateRampedUp"`
}

// RampUpSchedule tracks progress through the ramp steps. Step is always
// a valid index into Steps while the schedule is enabled; RampUpCompleted
// is true iff Step is the last index and that step's ramp event fired.
type RampUpSchedule struct {
	Enabled         bool       `json:"enabled"`
	Step            int        `json:"step"`
	Steps           []RampStep `json:"steps"`
	RampUpCompleted bool       `json:"rampUpCompleted"`
	LastUpdate      *time.Time `json:"lastUpdate"`
	NextUpdate      *time.Time `json:"nextUpdate"`
}

// OneSided reports whether effectively all evaluated users currently see
// the variation branch, making a single effective value well-defined:
// the ramp completed, the ramp is disabled, or the current step already
// exposes 100% of traffic.
func (s RampUpSchedule) OneSided() bool {
	if s.RampUpCompleted || !s.Enabled {
		return true
	}
	if s.Step >= 0 && s.Step < len(s.Steps) {
		return s.Steps[s.Step].Percent == 1
	}
	return false
}

// SafeRollout is the controller-owned rollout document. Version backs
// the store's conditional update; every persisted mutation bumps it.
type SafeRollout struct {
	ID                string         `json:"id"`
	Organization      string         `json:"organization"`
	FeatureID         string         `json:"featureId"`
	Environment       string         `json:"environment"`
	Status            Status         `json:"status"`
	RampUpSchedule    RampUpSchedule `json:"rampUpSchedule"`
	MaxDuration       MaxDuration    `json:"maxDuration"`
	AutoRollback      bool           `json:"autoRollback"`
	PastNotifications []string       `json:"pastNotifications"`
	GuardrailMetrics  []string       `json:"guardrailMetricIds,omitempty"`
	Version           int            `json:"version"`
	DateCreated       time.Time      `json:"dateCreated"`
	DateUpdated       time.Time      `json:"dateUpdated"`
}

// HasNotified reports whether the given reason already fired for this
// rollout. PastNotifications has set semantics; duplicates are harmless
// but never produced by RecordNotified.
func (r SafeRollout) HasNotified(reason string) bool {
	for _, past := range r.PastNotifications {
		if past == reason {
			return true
		}
	}
	return false
}

// Clone returns a deep copy suitable for value-returning transforms.
func (r SafeRollout) Clone() SafeRollout {
	out := r
	out.RampUpSchedule.Steps = append([]RampStep(nil), r.RampUpSchedule.Steps...)
	out.PastNotifications = append([]string(nil), r.PastNotifications...)
	out.GuardrailMetrics = append([]string(nil), r.GuardrailMetrics...)
	if r.RampUpSchedule.LastUpdate != nil {
		t := *r.RampUpSchedule.LastUpdate
		out.RampUpSchedule.LastUpdate = &t
	}
	if r.RampUpSchedule.NextUpdate != nil {
		t := *r.RampUpSchedule.NextUpdate
		out.RampUpSchedule.NextUpdate = &t
	}
	for i, step := range r.RampUpSchedule.Steps {
		if step.DateRampedUp != nil {
			t := *step.DateRampedUp
			out.RampUpSchedule.Steps[i].DateRampedUp = &t
		}
	}
	return out
}
