package rollout

import (
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func rampingRollout(steps int, current int) SafeRollout {
	rampSteps := make([]RampStep, steps)
	for i := range rampSteps {
		rampSteps[i].Percent = float64(i+1) / float64(steps)
	}
	past := testNow.Add(-time.Hour)
	return SafeRollout{
		ID:          "sr-1",
		FeatureID:   "checkout_v2",
		Environment: "production",
		Status:      StatusRunning,
		MaxDuration: MaxDuration{Amount: 30, Unit: UnitDays},
		RampUpSchedule: RampUpSchedule{
			Enabled:    true,
			Step:       current,
			Steps:      rampSteps,
			LastUpdate: &past,
			NextUpdate: &past,
		},
		Version: 1,
	}
}

func TestComputeNextAttempts_PerStepInterval(t *testing.T) {
	// 30 days total, 5 steps: ramp window = 30*86400*0.25 = 648000s,
	// per step = 129600s (1.5 days).
	r := rampingRollout(5, 0)
	last := testNow
	r.RampUpSchedule.LastUpdate = &last
	r.RampUpSchedule.NextUpdate = nil

	next, err := ComputeNextAttempts(r, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := testNow.Add(129600 * time.Second)
	if !next.NextRampUp.Equal(want) {
		t.Errorf("NextRampUp = %v, want %v", next.NextRampUp, want)
	}
	// No existing nextUpdate: snapshot checkpoint matches the ramp checkpoint.
	if !next.NextSnapshot.Equal(want) {
		t.Errorf("NextSnapshot = %v, want %v", next.NextSnapshot, want)
	}
}

func TestComputeNextAttempts_Deterministic(t *testing.T) {
	// Pure function: identical inputs yield identical outputs.
	r := rampingRollout(4, 1)
	first, err := ComputeNextAttempts(r, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ComputeNextAttempts(r, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("ComputeNextAttempts not deterministic: %+v vs %+v", first, second)
	}
}

func TestComputeNextAttempts_RampDisabledUsesCadence(t *testing.T) {
	r := rampingRollout(3, 0)
	r.RampUpSchedule.Enabled = false
	r.RampUpSchedule.NextUpdate = nil

	next, err := ComputeNextAttempts(r, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := testNow.Add(24 * time.Hour)
	if !next.NextSnapshot.Equal(want) || !next.NextRampUp.Equal(want) {
		t.Errorf("expected both checkpoints at now+24h, got %+v", next)
	}
}

func TestComputeNextAttempts_ExistingLaterNextUpdateWinsForRamp(t *testing.T) {
	r := rampingRollout(3, 0)
	r.RampUpSchedule.RampUpCompleted = true
	later := testNow.Add(72 * time.Hour)
	r.RampUpSchedule.NextUpdate = &later

	next, err := ComputeNextAttempts(r, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.NextRampUp.Equal(later) {
		t.Errorf("NextRampUp = %v, want existing later nextUpdate %v", next.NextRampUp, later)
	}
}

func TestComputeNextAttempts_OrgStaleCadence(t *testing.T) {
	r := rampingRollout(3, 0)
	r.RampUpSchedule.Enabled = false
	r.RampUpSchedule.NextUpdate = nil
	sched := &UpdateSchedule{Type: ScheduleStale, Hours: 6}

	next, err := ComputeNextAttempts(r, sched, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := testNow.Add(6 * time.Hour)
	if !next.NextSnapshot.Equal(want) {
		t.Errorf("NextSnapshot = %v, want %v", next.NextSnapshot, want)
	}
}

func TestComputeNextAttempts_UnknownUnit(t *testing.T) {
	r := rampingRollout(3, 0)
	r.MaxDuration.Unit = "fortnights"
	if _, err := ComputeNextAttempts(r, nil, testNow); err == nil {
		t.Fatal("expected error for unknown duration unit")
	}
}

func TestAdvanceRampUp_AdvancesStep(t *testing.T) {
	r := rampingRollout(5, 1)
	out, changed, err := AdvanceRampUp(r, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected an advance")
	}
	if out.RampUpSchedule.Step != 2 {
		t.Errorf("Step = %d, want 2", out.RampUpSchedule.Step)
	}
	if out.RampUpSchedule.RampUpCompleted {
		t.Error("schedule should not be completed mid-ramp")
	}
	stamped := out.RampUpSchedule.Steps[2].DateRampedUp
	if stamped == nil || !stamped.Equal(testNow) {
		t.Errorf("reached step not stamped with now: %v", stamped)
	}
	if out.RampUpSchedule.LastUpdate == nil || !out.RampUpSchedule.LastUpdate.Equal(testNow) {
		t.Error("lastUpdate not stamped")
	}
	// The input value must stay untouched.
	if r.RampUpSchedule.Step != 1 {
		t.Error("input rollout was mutated")
	}
}

func TestAdvanceRampUp_LastStepCompletesWithoutAdvancing(t *testing.T) {
	r := rampingRollout(3, 2)
	out, changed, err := AdvanceRampUp(r, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected a transition")
	}
	if out.RampUpSchedule.Step != 2 {
		t.Errorf("Step = %d, want to stay at last index 2", out.RampUpSchedule.Step)
	}
	if !out.RampUpSchedule.RampUpCompleted {
		t.Error("expected rampUpCompleted")
	}
}

func TestAdvanceRampUp_CompletedScheduleNeverMoves(t *testing.T) {
	// Repeated calls on a completed schedule never change step.
	r := rampingRollout(3, 2)
	r.RampUpSchedule.RampUpCompleted = true
	for i := 0; i < 3; i++ {
		out, changed, err := AdvanceRampUp(r, nil, testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if changed {
			t.Fatal("completed schedule must not transition")
		}
		if out.RampUpSchedule.Step != 2 {
			t.Errorf("Step = %d, want 2", out.RampUpSchedule.Step)
		}
		r = out
	}
}

func TestAdvanceRampUp_GuardConditions(t *testing.T) {
	future := testNow.Add(time.Hour)

	notDue := rampingRollout(3, 0)
	notDue.RampUpSchedule.NextUpdate = &future

	stopped := rampingRollout(3, 0)
	stopped.Status = StatusStopped

	disabled := rampingRollout(3, 0)
	disabled.RampUpSchedule.Enabled = false

	noNext := rampingRollout(3, 0)
	noNext.RampUpSchedule.NextUpdate = nil

	for name, r := range map[string]SafeRollout{
		"nextUpdate in the future": notDue,
		"terminal status":          stopped,
		"schedule disabled":        disabled,
		"nextUpdate unset":         noNext,
	} {
		if _, changed, _ := AdvanceRampUp(r, nil, testNow); changed {
			t.Errorf("%s: advance fired but guard should hold", name)
		}
	}
}

func TestAdvanceRampUp_NextUpdateMonotone(t *testing.T) {
	r := rampingRollout(4, 0)
	prev := *r.RampUpSchedule.NextUpdate
	now := testNow
	for i := 0; i < 3; i++ {
		out, changed, err := AdvanceRampUp(r, nil, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !changed {
			break
		}
		if out.RampUpSchedule.NextUpdate.Before(prev) {
			t.Fatalf("nextUpdate moved backwards: %v -> %v", prev, out.RampUpSchedule.NextUpdate)
		}
		prev = *out.RampUpSchedule.NextUpdate
		r = out
		now = prev.Add(time.Minute)
	}
}

func TestOneSided(t *testing.T) {
	completed := RampUpSchedule{Enabled: true, RampUpCompleted: true}
	if !completed.OneSided() {
		t.Error("completed ramp should be one-sided")
	}
	disabled := RampUpSchedule{Enabled: false}
	if !disabled.OneSided() {
		t.Error("disabled ramp should be one-sided")
	}
	fullStep := RampUpSchedule{Enabled: true, Step: 1, Steps: []RampStep{{Percent: 0.5}, {Percent: 1}}}
	if !fullStep.OneSided() {
		t.Error("step at 100% should be one-sided")
	}
	midRamp := RampUpSchedule{Enabled: true, Step: 0, Steps: []RampStep{{Percent: 0.5}, {Percent: 1}}}
	if midRamp.OneSided() {
		t.Error("mid-ramp at 50% should not be one-sided")
	}
}

func TestMaxDurationSeconds(t *testing.T) {
	cases := []struct {
		d    MaxDuration
		want float64
	}{
		{MaxDuration{Amount: 2, Unit: UnitDays}, 172800},
		{MaxDuration{Amount: 1, Unit: UnitWeeks}, 604800},
		{MaxDuration{Amount: 3, Unit: UnitHours}, 10800},
		{MaxDuration{Amount: 90, Unit: UnitMinutes}, 5400},
	}
	for _, c := range cases {
		got, err := c.d.Seconds()
		if err != nil {
			t.Fatalf("%+v: unexpected error: %v", c.d, err)
		}
		if got != c.want {
			t.Errorf("%+v: Seconds() = %v, want %v", c.d, got, c.want)
		}
	}
	if _, err := (MaxDuration{Amount: 1, Unit: "months"}).Seconds(); err != ErrUnknownDurationUnit {
		t.Errorf("expected ErrUnknownDurationUnit, got %v", err)
	}
}
