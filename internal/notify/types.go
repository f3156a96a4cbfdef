package notify

import "time"

// Event types delivered to subscribed endpoints.
const (
	EventRolloutUnhealthy  = "rollout.unhealthy"
	EventRolloutRolledBack = "rollout.rolled_back"
	EventRolloutReleased   = "rollout.released"
)

// Event is the payload sent to notification endpoints when a safe
// rollout's health changes.
type Event struct {
	Type          string    `json:"event"`
	Timestamp     time.Time `json:"timestamp"`
	Organization  string    `json:"organization,omitempty"`
	SafeRolloutID string    `json:"safeRolloutId"`
	FeatureID     string    `json:"featureId"`
	Environment   string    `json:"environment"`
	// Reasons carries the newly failing health checks for unhealthy
	// events, e.g. "srm" or "guardrails".
	Reasons []string `json:"reasons,omitempty"`
}

// Endpoint is a notification receiver. Deliveries are signed with the
// endpoint secret when one is configured.
type Endpoint struct {
	URL        string
	Secret     string
	MaxRetries int
	Timeout    time.Duration
}
