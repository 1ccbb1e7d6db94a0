package models

import (
	"fmt"
	"time"
)

// StoryStatus represents the current state of a story.
type StoryStatus string

const (
	// StoryDraft indicates the story has been sketched but not refined.
	StoryDraft StoryStatus = "draft"
	// StoryReady indicates the story is refined and ready to start.
	StoryReady StoryStatus = "ready"
	// StoryInProgress indicates the story is being implemented.
	StoryInProgress StoryStatus = "in_progress"
	// StoryReview indicates the story is under review.
	StoryReview StoryStatus = "review"
	// StoryDone indicates the story completed successfully.
	StoryDone StoryStatus = "done"
	// StoryFailed indicates the story terminally failed.
	StoryFailed StoryStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s StoryStatus) Valid() bool {
	switch s {
	case StoryDraft, StoryReady, StoryInProgress, StoryReview, StoryDone, StoryFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
// An epic cannot complete while any of its stories is non-terminal.
func (s StoryStatus) Terminal() bool {
	return s == StoryDone || s == StoryFailed
}

// storyRank orders statuses for the monotonic-progression check.
var storyRank = map[StoryStatus]int{
	StoryDraft:      0,
	StoryReady:      1,
	StoryInProgress: 2,
	StoryReview:     3,
	StoryDone:       4,
	StoryFailed:     4,
}

// CanTransition reports whether moving from one status to another is legal.
// Progression is monotonic except review -> in_progress, which is rework.
func CanTransition(from, to StoryStatus) bool {
	if from == to {
		return false
	}
	if from == StoryReview && to == StoryInProgress {
		return true // rework
	}
	if from.Terminal() {
		return false
	}
	return storyRank[to] > storyRank[from]
}

// QualityGateResult is the tri-state outcome of a story's quality gates.
type QualityGateResult string

const (
	// GatesUnknown indicates the gates have not been evaluated.
	GatesUnknown QualityGateResult = "unknown"
	// GatesPassed indicates tests, coverage, and lint met thresholds.
	GatesPassed QualityGateResult = "passed"
	// GatesFailed indicates at least one gate did not meet its threshold.
	GatesFailed QualityGateResult = "failed"
)

// Story is a unit of work within an epic, identified by (epic_num, story_num).
type Story struct {
	// EpicNum is the owning epic.
	EpicNum int `json:"epic_num"`
	// StoryNum is the story identifier within the epic.
	StoryNum int `json:"story_num"`
	// Title is the short description of the story.
	Title string `json:"title"`
	// Status is the current state.
	Status StoryStatus `json:"status"`
	// CycleTimeSeconds is the elapsed time from in_progress to terminal.
	CycleTimeSeconds int64 `json:"cycle_time_seconds"`
	// ReworkCount is the number of review -> in_progress transitions.
	ReworkCount int `json:"rework_count"`
	// QualityGates is the latest quality gate result.
	QualityGates QualityGateResult `json:"quality_gates_passed"`
	// CreatedAt is when the story was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the story entered in_progress; cycle time is
	// measured from here.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the story reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Key returns the "<epic>.<story>" identifier used in artifacts and commits.
func (s *Story) Key() string {
	return fmt.Sprintf("%d.%d", s.EpicNum, s.StoryNum)
}
