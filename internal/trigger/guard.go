package trigger

import (
	"fmt"
	"time"

	"github.com/gao-dev/gao-dev/internal/config"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// Decision is the guard's verdict on a ceremony request.
type Decision struct {
	// Allow is true when the ceremony may run.
	Allow bool
	// Reason explains a denial; empty when allowed.
	Reason string
}

// Guard enforces ceremony safety limits. It is stateless itself; the
// per-epic SafetyState rows live in the store and are passed in.
type Guard struct {
	cfg config.SafetyConfig
}

// NewGuard creates a guard with the given limits.
func NewGuard(cfg config.SafetyConfig) *Guard {
	return &Guard{cfg: cfg}
}

// Cooldown returns the configured minimum gap for a ceremony type.
func (g *Guard) Cooldown(t models.CeremonyType) time.Duration {
	if t == models.CeremonyStandup {
		return g.cfg.StandupCooldown
	}
	return g.cfg.CeremonyCooldown
}

// CanHold decides whether a ceremony of the given type may run now.
// A manual hold bypasses the cooldown but still honors the per-epic
// cap and an open circuit.
func (g *Guard) CanHold(t models.CeremonyType, st models.SafetyState, now time.Time, manual bool) Decision {
	if st.TotalCeremoniesThisEpic >= g.cfg.MaxPerEpic {
		return Decision{Reason: fmt.Sprintf("epic ceremony cap of %d reached", g.cfg.MaxPerEpic)}
	}

	if st.Circuit == models.CircuitOpen {
		return Decision{Reason: fmt.Sprintf("circuit open for %s after %d consecutive failures", t, st.ConsecutiveFailures)}
	}

	if !manual && !st.LastHeldAt.IsZero() {
		if gap := now.Sub(st.LastHeldAt); gap < g.Cooldown(t) {
			return Decision{Reason: fmt.Sprintf("%s cooldown active, %s since last", t, gap.Round(time.Minute))}
		}
	}

	return Decision{Allow: true}
}

// RecordOutcome updates a safety state after a ceremony ran. A failure
// increments the consecutive counter and opens the circuit when the
// threshold is reached; a success resets the counter and closes the
// circuit; a partial leaves the counter alone. The updated state is
// returned for persistence.
func (g *Guard) RecordOutcome(st models.SafetyState, outcome models.CeremonyOutcome, now time.Time) models.SafetyState {
	st.LastHeldAt = now
	st.TotalCeremoniesThisEpic++

	switch outcome {
	case models.OutcomeFailed:
		st.ConsecutiveFailures++
		if st.ConsecutiveFailures >= g.cfg.CircuitThreshold {
			st.Circuit = models.CircuitOpen
		}
	case models.OutcomeSuccess:
		st.ConsecutiveFailures = 0
		st.Circuit = models.CircuitClosed
	}
	return st
}
