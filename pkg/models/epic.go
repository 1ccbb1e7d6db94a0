// Package models defines the core entities shared across the GAO-Dev
// orchestration engine: epics, stories, ceremonies, learnings, workflow
// steps, and the error taxonomy. All mutation of these entities happens
// through the state coordinator; other components receive value copies.
package models

import "time"

// ScaleLevel classifies the size of a work item, 0 (chore) to 4 (greenfield).
// The scale level controls workflow selection and ceremony cadence.
type ScaleLevel int

const (
	// ScaleChore is a trivial change: implement and commit.
	ScaleChore ScaleLevel = 0
	// ScaleBugFix is a bug fix: reproduce, fix, test.
	ScaleBugFix ScaleLevel = 1
	// ScaleSmallFeature is a small feature with a PRD and stories.
	ScaleSmallFeature ScaleLevel = 2
	// ScaleFeature is a full feature with architecture and epics.
	ScaleFeature ScaleLevel = 3
	// ScaleGreenfield is a greenfield effort starting from a vision.
	ScaleGreenfield ScaleLevel = 4
)

// Valid returns true if the scale level is in the supported range.
func (s ScaleLevel) Valid() bool {
	return s >= ScaleChore && s <= ScaleGreenfield
}

// EpicStatus represents the lifecycle state of an epic.
type EpicStatus string

const (
	// EpicPlanned indicates the epic has been created but no story started.
	EpicPlanned EpicStatus = "planned"
	// EpicActive indicates at least one story has started.
	EpicActive EpicStatus = "active"
	// EpicCompleted indicates all stories reached a terminal state.
	EpicCompleted EpicStatus = "completed"
	// EpicAbandoned indicates the epic was given up on.
	EpicAbandoned EpicStatus = "abandoned"
)

// Valid returns true if the status is a known value.
func (s EpicStatus) Valid() bool {
	switch s {
	case EpicPlanned, EpicActive, EpicCompleted, EpicAbandoned:
		return true
	default:
		return false
	}
}

// Epic is a unit of work containing one or more stories.
// Epics are never deleted; completed epics feed the learning service.
type Epic struct {
	// EpicNum is the epic identifier, unique within a project.
	EpicNum int `json:"epic_num"`
	// FeatureName is the feature this epic belongs to.
	FeatureName string `json:"feature_name"`
	// ScaleLevel is the work scale classification (0-4).
	ScaleLevel ScaleLevel `json:"scale_level"`
	// Status is the current lifecycle state.
	Status EpicStatus `json:"status"`
	// TotalStories is the planned number of stories.
	TotalStories int `json:"total_stories"`
	// StoriesCompleted is the number of stories in a terminal done state.
	StoriesCompleted int `json:"stories_completed"`
	// ProjectType describes the kind of project (cli, api, frontend, ...).
	ProjectType string `json:"project_type,omitempty"`
	// CreatedAt is when the epic was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the epic completed, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CheckInvariants validates the epic's internal consistency.
// Violations are reported as DataInvariantError.
func (e *Epic) CheckInvariants() error {
	if e.StoriesCompleted < 0 || e.StoriesCompleted > e.TotalStories {
		return NewInvariantError("stories_completed out of range", map[string]any{
			"epic_num":          e.EpicNum,
			"stories_completed": e.StoriesCompleted,
			"total_stories":     e.TotalStories,
		})
	}
	if e.Status == EpicCompleted {
		if e.StoriesCompleted != e.TotalStories {
			return NewInvariantError("completed epic with open stories", map[string]any{
				"epic_num":          e.EpicNum,
				"stories_completed": e.StoriesCompleted,
				"total_stories":     e.TotalStories,
			})
		}
		if e.CompletedAt == nil {
			return NewInvariantError("completed epic without completed_at", map[string]any{
				"epic_num": e.EpicNum,
			})
		}
	}
	return nil
}
