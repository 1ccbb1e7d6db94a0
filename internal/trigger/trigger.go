// Package trigger decides when ceremonies fire. The engine is pure:
// given a context snapshot it returns the ceremony types due now, and
// the safety guard filters out the ones blocked by cooldown, cap, or
// an open circuit.
package trigger

import (
	"time"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// Standup cadence defaults per scale; a process learning can halve the
// interval for a run via TriggerContext.StandupInterval.
const (
	standupIntervalSmall   = 3
	standupIntervalFeature = 2
	standupMaxGap          = 24 * time.Hour
)

// Engine evaluates trigger rules. It performs no I/O.
type Engine struct {
	guard *Guard
}

// NewEngine creates a trigger engine backed by the given safety guard.
func NewEngine(guard *Guard) *Engine {
	return &Engine{guard: guard}
}

// Evaluate returns the ceremony types due for the given context, in
// firing order (planning, standup, retrospective). Safety limits are
// not consulted here; see Allowed.
func (e *Engine) Evaluate(ctx models.TriggerContext, now time.Time) []models.CeremonyType {
	var due []models.CeremonyType
	if planningDue(ctx) {
		due = append(due, models.CeremonyPlanning)
	}
	if standupDue(ctx, now) {
		due = append(due, models.CeremonyStandup)
	}
	if retrospectiveDue(ctx) {
		due = append(due, models.CeremonyRetrospective)
	}
	return due
}

// Blocked records a ceremony that was due but denied by the guard.
type Blocked struct {
	Type   models.CeremonyType
	Reason string
}

// Allowed evaluates the context and filters the due ceremonies through
// the safety guard. Blocked ceremonies are returned separately so the
// orchestrator can record the denials.
func (e *Engine) Allowed(ctx models.TriggerContext, states map[models.CeremonyType]models.SafetyState, now time.Time) ([]models.CeremonyType, []Blocked) {
	var allowed []models.CeremonyType
	var blocked []Blocked

	for _, t := range e.Evaluate(ctx, now) {
		d := e.guard.CanHold(t, states[t], now, false)
		if d.Allow {
			allowed = append(allowed, t)
		} else {
			blocked = append(blocked, Blocked{Type: t, Reason: d.Reason})
		}
	}
	return allowed, blocked
}

func planningDue(ctx models.TriggerContext) bool {
	switch {
	case ctx.ScaleLevel <= models.ScaleBugFix:
		return false
	case ctx.ScaleLevel == models.ScaleSmallFeature:
		return ctx.RequestPlanning && !ctx.PlanningHeld
	default:
		return !ctx.PlanningHeld
	}
}

func standupDue(ctx models.TriggerContext, now time.Time) bool {
	if ctx.ScaleLevel <= models.ScaleBugFix {
		return false
	}

	// Failed quality gates force a checkpoint at any scale >= 2.
	if ctx.QualityGates == models.GatesFailed {
		return true
	}

	switch ctx.ScaleLevel {
	case models.ScaleSmallFeature:
		if ctx.TotalStories <= 3 {
			return false
		}
		interval := ctx.StandupInterval
		if interval <= 0 {
			interval = standupIntervalSmall
		}
		return ctx.StoriesCompleted > 0 && ctx.StoriesCompleted%interval == 0
	case models.ScaleFeature:
		interval := ctx.StandupInterval
		if interval <= 0 {
			interval = standupIntervalFeature
		}
		return ctx.StoriesCompleted > 0 && ctx.StoriesCompleted%interval == 0
	default: // greenfield
		if ctx.LastStandupAt.IsZero() {
			return true
		}
		if now.Sub(ctx.LastStandupAt) >= standupMaxGap {
			return true
		}
		return ctx.StoryJustCompleted
	}
}

func retrospectiveDue(ctx models.TriggerContext) bool {
	switch ctx.ScaleLevel {
	case models.ScaleChore:
		return false
	case models.ScaleBugFix:
		return ctx.ConsecutiveStoryFailures >= 2
	}

	// Epic completion. An epic with zero stories never completes
	// automatically, so it never retros this way either.
	if ctx.TotalStories > 0 && ctx.StoriesCompleted == ctx.TotalStories {
		return true
	}

	// Mid-epic checkpoint at the 50% +/- 2% boundary. When story counts
	// never land in the window the mid retro is simply skipped.
	if ctx.ScaleLevel >= models.ScaleFeature && ctx.TotalStories > 0 && !ctx.MidRetroHeld {
		ratio := float64(ctx.StoriesCompleted) / float64(ctx.TotalStories)
		if ratio >= 0.48 && ratio <= 0.52 {
			return true
		}
	}

	// Phase boundary, greenfield only.
	if ctx.ScaleLevel == models.ScaleGreenfield &&
		ctx.PrevPhase != "" && ctx.PrevPhase != ctx.Phase && !ctx.PhaseRetroHeld {
		return true
	}

	return false
}
