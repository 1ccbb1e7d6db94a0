package state

import (
	"database/sql"
	"fmt"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// TriggerInputs carries the fields only the caller knows when building
// a trigger context: where in the plan execution sits and what just
// happened. Everything else comes from the database.
type TriggerInputs struct {
	// StoryNum is the story just worked on, if any.
	StoryNum int
	// Phase is the current workflow phase.
	Phase models.Phase
	// PrevPhase is the phase before the just-finished step.
	PrevPhase models.Phase
	// RequestPlanning is the explicit caller request for planning.
	RequestPlanning bool
	// StoryJustCompleted marks that the evaluated transition closed a story.
	StoryJustCompleted bool
	// StandupInterval overrides the standup modulo interval; 0 for the
	// scale default.
	StandupInterval int
}

// BuildTriggerContext assembles the snapshot the trigger engine
// evaluates, combining the caller's position in the plan with epic,
// story, and ceremony history from the store.
func (c *Coordinator) BuildTriggerContext(epicNum int, in TriggerInputs) (models.TriggerContext, error) {
	epic, err := c.GetEpic(epicNum)
	if err != nil {
		return models.TriggerContext{}, err
	}
	if epic == nil {
		return models.TriggerContext{}, fmt.Errorf("epic %d not found", epicNum)
	}

	ctx := models.TriggerContext{
		EpicNum:            epicNum,
		StoryNum:           in.StoryNum,
		ScaleLevel:         epic.ScaleLevel,
		StoriesCompleted:   epic.StoriesCompleted,
		TotalStories:       epic.TotalStories,
		ProjectType:        epic.ProjectType,
		Phase:              in.Phase,
		PrevPhase:          in.PrevPhase,
		RequestPlanning:    in.RequestPlanning,
		StoryJustCompleted: in.StoryJustCompleted,
		StandupInterval:    in.StandupInterval,
	}

	if ctx.QualityGates, err = c.latestGateResult(epicNum); err != nil {
		return models.TriggerContext{}, err
	}
	if ctx.ConsecutiveStoryFailures, err = c.trailingStoryFailures(epicNum); err != nil {
		return models.TriggerContext{}, err
	}
	if ctx.LastStandupAt, err = c.LastStandupAt(epicNum); err != nil {
		return models.TriggerContext{}, err
	}
	if ctx.PlanningHeld, err = c.PlanningHeld(epicNum); err != nil {
		return models.TriggerContext{}, err
	}
	if ctx.MidRetroHeld, err = c.MidRetroHeld(epicNum); err != nil {
		return models.TriggerContext{}, err
	}
	if in.Phase != "" {
		if ctx.PhaseRetroHeld, err = c.PhaseRetroHeld(epicNum, in.Phase); err != nil {
			return models.TriggerContext{}, err
		}
	}
	return ctx, nil
}

// latestGateResult returns the gate result of the most recently created
// story whose gates were evaluated, unknown when none were.
func (c *Coordinator) latestGateResult(epicNum int) (models.QualityGateResult, error) {
	var gates string
	err := c.store.QueryRow(`
		SELECT quality_gates FROM stories
		WHERE epic_num = ? AND quality_gates != 'unknown'
		ORDER BY story_num DESC LIMIT 1`, epicNum).Scan(&gates)
	if err == sql.ErrNoRows {
		return models.GatesUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("query gate result: %w", err)
	}
	return models.QualityGateResult(gates), nil
}

// trailingStoryFailures counts terminal stories that failed since the
// last success, walking story numbers backwards.
func (c *Coordinator) trailingStoryFailures(epicNum int) (int, error) {
	rows, err := c.store.Query(`
		SELECT status FROM stories
		WHERE epic_num = ? AND status IN ('done', 'failed')
		ORDER BY story_num DESC`, epicNum)
	if err != nil {
		return 0, fmt.Errorf("query story outcomes: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, fmt.Errorf("scan story status: %w", err)
		}
		if models.StoryStatus(status) != models.StoryFailed {
			break
		}
		count++
	}
	return count, rows.Err()
}
