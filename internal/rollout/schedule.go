package rollout

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// UpdateScheduleType selects how an organization paces automatic
// re-analysis of running rollouts.
type UpdateScheduleType string

const (
	// ScheduleNever disables org-level cadence; callers fall back to
	// the default 24h interval.
	ScheduleNever UpdateScheduleType = "never"
	// ScheduleStale re-analyzes once results are older than Hours.
	ScheduleStale UpdateScheduleType = "stale"
	// ScheduleCron re-analyzes on a cron expression.
	ScheduleCron UpdateScheduleType = "cron"
)

// UpdateSchedule is the organization-level polling cadence setting.
type UpdateSchedule struct {
	Type  UpdateScheduleType `json:"type"`
	Hours int                `json:"hours,omitempty"`
	Cron  string             `json:"cron,omitempty"`
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// DetermineNextDate computes when the organization's cadence next fires,
// relative to now. Returns nil for a nil schedule, type "never", or a
// stale schedule without hours; the caller decides the fallback.
func DetermineNextDate(sched *UpdateSchedule, now time.Time) (*time.Time, error) {
	if sched == nil {
		return nil, nil
	}
	switch sched.Type {
	case ScheduleNever, "":
		return nil, nil
	case ScheduleStale:
		if sched.Hours <= 0 {
			return nil, nil
		}
		t := now.Add(time.Duration(sched.Hours) * time.Hour)
		return &t, nil
	case ScheduleCron:
		expr, err := cronParser.Parse(sched.Cron)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", sched.Cron, err)
		}
		t := expr.Next(now)
		return &t, nil
	default:
		return nil, fmt.Errorf("unknown update schedule type %q", sched.Type)
	}
}
