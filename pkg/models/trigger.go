package models

import "time"

// TriggerContext is the snapshot the trigger engine evaluates at every
// workflow transition. It is assembled by the orchestrator from state
// coordinator snapshots; the trigger engine itself performs no I/O.
type TriggerContext struct {
	// EpicNum is the epic under execution.
	EpicNum int `json:"epic_num"`
	// StoryNum is the story just worked on, if any (0 means none).
	StoryNum int `json:"story_num,omitempty"`
	// ScaleLevel is the epic's scale classification.
	ScaleLevel ScaleLevel `json:"scale_level"`
	// StoriesCompleted is the number of terminally done stories.
	StoriesCompleted int `json:"stories_completed"`
	// TotalStories is the planned story count.
	TotalStories int `json:"total_stories"`
	// QualityGates is the latest quality gate result for the epic.
	QualityGates QualityGateResult `json:"quality_gates_passed"`
	// LastStandupAt is when the last standup ran; zero if never.
	LastStandupAt time.Time `json:"last_standup_at,omitempty"`
	// ConsecutiveStoryFailures counts story failures since a success.
	ConsecutiveStoryFailures int `json:"consecutive_story_failures"`
	// Phase is the current workflow phase.
	Phase Phase `json:"phase"`
	// PrevPhase is the phase before the just-finished step; a phase
	// boundary is PrevPhase != Phase.
	PrevPhase Phase `json:"prev_phase,omitempty"`
	// ProjectType describes the project kind.
	ProjectType string `json:"project_type,omitempty"`
	// RequestPlanning is the explicit caller request for a planning
	// ceremony (only consulted at scale 2).
	RequestPlanning bool `json:"request_planning,omitempty"`
	// PlanningHeld reports whether a planning ceremony exists for the epic.
	PlanningHeld bool `json:"planning_held,omitempty"`
	// MidRetroHeld reports whether a mid-epic retrospective exists.
	MidRetroHeld bool `json:"mid_retro_held,omitempty"`
	// PhaseRetroHeld reports whether a retrospective exists for the
	// (epic, Phase) pair.
	PhaseRetroHeld bool `json:"phase_retro_held,omitempty"`
	// StoryJustCompleted reports that the evaluated transition closed a story.
	StoryJustCompleted bool `json:"story_just_completed,omitempty"`
	// StandupInterval overrides the modulo interval for standups when a
	// process learning halves it for the run; 0 means the scale default.
	StandupInterval int `json:"standup_interval,omitempty"`
}
