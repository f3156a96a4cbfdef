package rollout

import "time"

// RampUpFraction is the share of a rollout's max duration reserved for
// the traffic ramp; the remainder runs at full exposure.
const RampUpFraction = 0.25

// defaultAttemptInterval applies when the organization has no update
// cadence configured.
const defaultAttemptInterval = 24 * time.Hour

// NextAttempts holds the next two scheduled checkpoints for a rollout:
// when the next health snapshot should be taken and when the ramp
// schedule should next be advanced.
type NextAttempts struct {
	NextSnapshot time.Time `json:"nextSnapshot"`
	NextRampUp   time.Time `json:"nextRampUp"`
}

// ComputeNextAttempts is a pure function of (rollout, org schedule, now).
// With ramp-up disabled, completed, or absent, both checkpoints follow
// the organization cadence; the ramp checkpoint additionally never moves
// earlier than the schedule's existing nextUpdate. While ramping, the
// per-step interval is the ramp window (RampUpFraction of max duration)
// divided by the step count.
func ComputeNextAttempts(r SafeRollout, orgSched *UpdateSchedule, now time.Time) (NextAttempts, error) {
	base, err := DetermineNextDate(orgSched, now)
	if err != nil {
		return NextAttempts{}, err
	}
	if base == nil {
		t := now.Add(defaultAttemptInterval)
		base = &t
	}

	sched := r.RampUpSchedule
	if !sched.Enabled || sched.RampUpCompleted || len(sched.Steps) == 0 {
		next := NextAttempts{NextSnapshot: *base, NextRampUp: *base}
		if sched.NextUpdate != nil && sched.NextUpdate.After(next.NextRampUp) {
			next.NextRampUp = *sched.NextUpdate
		}
		return next, nil
	}

	totalSeconds, err := r.MaxDuration.Seconds()
	if err != nil {
		return NextAttempts{}, err
	}
	rampWindow := totalSeconds * RampUpFraction
	perStep := time.Duration(rampWindow/float64(len(sched.Steps))*1000) * time.Millisecond

	from := now
	if sched.LastUpdate != nil {
		from = *sched.LastUpdate
	}
	nextRampUp := from.Add(perStep)

	nextSnapshot := nextRampUp
	if sched.NextUpdate != nil && sched.NextUpdate.Before(nextSnapshot) {
		nextSnapshot = *sched.NextUpdate
	}
	return NextAttempts{NextSnapshot: nextSnapshot, NextRampUp: nextRampUp}, nil
}

// AdvanceRampUp applies one tick of the ramp state machine and returns
// the updated rollout value. The second return reports whether anything
// changed; when false the input is returned untouched.
//
// The transition fires only for a running rollout with an enabled,
// uncompleted schedule whose nextUpdate has passed. At the last step the
// schedule is marked completed without moving the index; otherwise the
// index advances. Either way the reached step is stamped and the next
// checkpoints are recomputed.
//
// Callers racing on the same rollout must be serialized by the store's
// conditional update; this function alone is idempotent only across
// separate tick windows.
func AdvanceRampUp(r SafeRollout, orgSched *UpdateSchedule, now time.Time) (SafeRollout, bool, error) {
	sched := r.RampUpSchedule
	if r.Status != StatusRunning || !sched.Enabled || sched.RampUpCompleted {
		return r, false, nil
	}
	if sched.NextUpdate == nil || sched.NextUpdate.After(now) {
		return r, false, nil
	}
	if len(sched.Steps) == 0 || sched.Step < 0 || sched.Step >= len(sched.Steps) {
		return r, false, nil
	}

	out := r.Clone()
	if out.RampUpSchedule.Step == len(out.RampUpSchedule.Steps)-1 {
		out.RampUpSchedule.RampUpCompleted = true
	} else {
		out.RampUpSchedule.Step++
	}
	stamp := now
	out.RampUpSchedule.Steps[out.RampUpSchedule.Step].DateRampedUp = &stamp
	last := now
	out.RampUpSchedule.LastUpdate = &last

	next, err := ComputeNextAttempts(out, orgSched, now)
	if err != nil {
		return r, false, err
	}
	nextUpdate := next.NextRampUp
	// nextUpdate is monotonically non-decreasing across advances.
	if out.RampUpSchedule.NextUpdate != nil && out.RampUpSchedule.NextUpdate.After(nextUpdate) {
		nextUpdate = *out.RampUpSchedule.NextUpdate
	}
	out.RampUpSchedule.NextUpdate = &nextUpdate
	out.DateUpdated = now
	return out, true, nil
}
