package models

import "time"

// CircuitState is the two-state circuit breaker for a ceremony type
// within an epic. There is no half-open probing: the circuit opens after
// three consecutive failures and closes again on the first success.
type CircuitState string

const (
	// CircuitClosed allows ceremonies to run.
	CircuitClosed CircuitState = "closed"
	// CircuitOpen blocks ceremonies of this type for the epic.
	CircuitOpen CircuitState = "open"
)

// SafetyState tracks ceremony safety limits per (epic, ceremony type).
type SafetyState struct {
	// EpicNum is the epic the state belongs to.
	EpicNum int `json:"epic_num"`
	// Type is the ceremony type the state tracks.
	Type CeremonyType `json:"type"`
	// LastHeldAt is when a ceremony of this type last ran; zero if never.
	LastHeldAt time.Time `json:"last_held_at"`
	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// Circuit is open after ConsecutiveFailures reaches the threshold.
	Circuit CircuitState `json:"circuit"`
	// TotalCeremoniesThisEpic counts all ceremonies held in the epic,
	// across types. The same total is mirrored on each row of the epic.
	TotalCeremoniesThisEpic int `json:"total_ceremonies_this_epic"`
}

// Safety limits.
const (
	// MaxCeremoniesPerEpic caps ceremonies across all types.
	MaxCeremoniesPerEpic = 10
	// CircuitOpenThreshold is the consecutive-failure count that opens
	// the circuit. The third failure opens it, not the fourth.
	CircuitOpenThreshold = 3
)

// Cooldown returns the minimum gap between two ceremonies of a type.
func Cooldown(t CeremonyType) time.Duration {
	switch t {
	case CeremonyStandup:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}
