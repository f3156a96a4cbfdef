package health

import "github.com/TimurManjosov/saferollout/internal/rollout"

// One-shot terminal event tags. Like the unhealthy reasons, these are
// persisted in pastNotifications so a restart never re-fires them.
const (
	EventRollback = "rollback"
	EventShip     = "ship"
)

// ChangedReasons returns the subset of latest that has not yet been
// notified for this rollout, in input order and without duplicates. A
// reason already in pastNotifications never fires again; a new reason
// appearing on an already-unhealthy rollout still does.
func ChangedReasons(r rollout.SafeRollout, latest []string) []string {
	var out []string
	seen := make(map[string]bool, len(latest))
	for _, reason := range latest {
		if seen[reason] || r.HasNotified(reason) {
			continue
		}
		seen[reason] = true
		out = append(out, reason)
	}
	return out
}

// RecordNotified returns a copy of the rollout with the reasons merged
// into pastNotifications. The merge is a union, never a reset, so
// conditions that stop being reported still stay silenced.
func RecordNotified(r rollout.SafeRollout, reasons []string) rollout.SafeRollout {
	out := r.Clone()
	for _, reason := range reasons {
		if !out.HasNotified(reason) {
			out.PastNotifications = append(out.PastNotifications, reason)
		}
	}
	return out
}
