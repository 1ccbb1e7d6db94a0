package models

import "time"

// CeremonyType identifies the kind of structured team interaction.
type CeremonyType string

const (
	// CeremonyPlanning plans the work of an epic. At most one per epic.
	CeremonyPlanning CeremonyType = "planning"
	// CeremonyStandup is a short progress checkpoint.
	CeremonyStandup CeremonyType = "standup"
	// CeremonyRetrospective reviews completed work and extracts learnings.
	CeremonyRetrospective CeremonyType = "retrospective"
)

// Valid returns true if the type is a known value.
func (t CeremonyType) Valid() bool {
	switch t {
	case CeremonyPlanning, CeremonyStandup, CeremonyRetrospective:
		return true
	default:
		return false
	}
}

// CeremonyTypes lists all ceremony types in firing order:
// planning before standup before retrospective.
var CeremonyTypes = []CeremonyType{CeremonyPlanning, CeremonyStandup, CeremonyRetrospective}

// CeremonyOutcome is the result of running a ceremony.
type CeremonyOutcome string

const (
	// OutcomeSuccess indicates the ceremony ran and parsed cleanly.
	OutcomeSuccess CeremonyOutcome = "success"
	// OutcomePartial indicates the ceremony ran but its output was degraded.
	OutcomePartial CeremonyOutcome = "partial"
	// OutcomeFailed indicates the ceremony did not produce usable output.
	OutcomeFailed CeremonyOutcome = "failed"
)

// Ceremony is a recorded interaction producing a transcript, action
// items, and learnings. A ceremony cannot exist without a live epic.
type Ceremony struct {
	// ID is the auto-assigned ceremony identifier.
	ID int64 `json:"id"`
	// EpicNum is the owning epic.
	EpicNum int `json:"epic_num"`
	// StoryNum is the related story, if any (0 means none).
	StoryNum int `json:"story_num,omitempty"`
	// Type is the ceremony kind.
	Type CeremonyType `json:"type"`
	// Phase is the workflow phase the ceremony was held in, if recorded.
	Phase Phase `json:"phase,omitempty"`
	// HeldAt is when the ceremony was held.
	HeldAt time.Time `json:"held_at"`
	// DurationMS is the wall-clock duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
	// Participants is the set of agent names that took part.
	Participants []string `json:"participants,omitempty"`
	// Transcript is the raw markdown transcript from the agent runner.
	Transcript string `json:"transcript,omitempty"`
	// Summary is the parsed summary section.
	Summary string `json:"summary,omitempty"`
	// Outcome is the result of the ceremony.
	Outcome CeremonyOutcome `json:"outcome"`
	// CommitSHA is the git commit that carries the ceremony artifact.
	CommitSHA string `json:"commit_sha,omitempty"`
	// MidEpic marks a retrospective held at the mid-epic checkpoint.
	MidEpic bool `json:"mid_epic,omitempty"`
}

// ActionPriority ranks action items.
type ActionPriority string

const (
	// PriorityLow items expire after 30 days if left open.
	PriorityLow ActionPriority = "low"
	// PriorityMedium items persist but are not auto-promoted.
	PriorityMedium ActionPriority = "medium"
	// PriorityHigh items become candidate stories on the next planning.
	PriorityHigh ActionPriority = "high"
	// PriorityCritical items become candidate stories on the next planning.
	PriorityCritical ActionPriority = "critical"
)

// Valid returns true if the priority is a known value.
func (p ActionPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// AutoPromotes returns true if open items of this priority become
// candidate stories on the next planning step. High and critical both
// promote; critical is the superset concern of high.
func (p ActionPriority) AutoPromotes() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// ActionStatus is the lifecycle state of an action item.
type ActionStatus string

const (
	// ActionOpen indicates the item awaits work.
	ActionOpen ActionStatus = "open"
	// ActionInProgress indicates someone picked the item up.
	ActionInProgress ActionStatus = "in_progress"
	// ActionDone indicates the item is resolved.
	ActionDone ActionStatus = "done"
	// ActionCancelled indicates the item was dropped deliberately.
	ActionCancelled ActionStatus = "cancelled"
	// ActionExpired indicates an open low-priority item aged out (30 days).
	ActionExpired ActionStatus = "expired"
)

// ActionItem is a follow-up produced by a ceremony.
type ActionItem struct {
	// ID is the auto-assigned identifier.
	ID int64 `json:"id"`
	// CeremonyID is the ceremony that produced this item.
	CeremonyID int64 `json:"ceremony_id"`
	// Priority ranks the item.
	Priority ActionPriority `json:"priority"`
	// Description is the item text.
	Description string `json:"description"`
	// Status is the lifecycle state.
	Status ActionStatus `json:"status"`
	// AutoPromoteToStory marks the item as a candidate story.
	AutoPromoteToStory bool `json:"auto_promote_to_story"`
	// CreatedAt is when the item was created.
	CreatedAt time.Time `json:"created_at"`
	// ClosedAt is when the item left the open states.
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// ActionItemExpiry is how long an open low-priority item lives before
// it is batch-marked expired.
const ActionItemExpiry = 30 * 24 * time.Hour
