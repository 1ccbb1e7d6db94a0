package models

import "time"

// Phase is the lifecycle phase a workflow step belongs to.
type Phase string

const (
	// PhaseAnalysis covers vision elicitation and bug reproduction.
	PhaseAnalysis Phase = "analysis"
	// PhasePlanning covers PRDs, epics, and stories.
	PhasePlanning Phase = "planning"
	// PhaseSolutioning covers architecture and design review.
	PhaseSolutioning Phase = "solutioning"
	// PhaseImplementation covers coding and testing.
	PhaseImplementation Phase = "implementation"
	// PhaseRetrospective covers ceremonies and wrap-up.
	PhaseRetrospective Phase = "retrospective"
)

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseAnalysis, PhasePlanning, PhaseSolutioning, PhaseImplementation, PhaseRetrospective:
		return true
	default:
		return false
	}
}

// WorkflowStep is one unit of a workflow plan. Steps are held in a flat
// slice; DependsOn carries indices into that slice, not pointers, so
// cycle detection is a linear pass and plans serialize cleanly.
type WorkflowStep struct {
	// Name identifies the step (e.g. "draft-prd", "ceremony-standup").
	Name string `json:"name" yaml:"name"`
	// Phase is the lifecycle phase of the step.
	Phase Phase `json:"phase" yaml:"phase"`
	// Required marks steps the plan cannot skip. Optional ceremony steps
	// are re-evaluated by the trigger engine at execution time.
	Required bool `json:"required" yaml:"required"`
	// DependsOn lists indices of steps that must complete first.
	DependsOn []int `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Metadata carries step-specific settings (deadlines, guardrails).
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	// AdjustmentDepth is the cause-chain length for learning-driven
	// insertions; 0 for base and injected ceremony steps.
	AdjustmentDepth int `json:"adjustment_depth,omitempty" yaml:"-"`
}

// IsCeremony reports whether the step is a ceremony step and, if so,
// which ceremony type it runs.
func (s *WorkflowStep) IsCeremony() (CeremonyType, bool) {
	switch s.Name {
	case "ceremony-planning":
		return CeremonyPlanning, true
	case "ceremony-standup":
		return CeremonyStandup, true
	case "ceremony-retrospective":
		return CeremonyRetrospective, true
	default:
		return "", false
	}
}

// StepOutcome is the result of executing one workflow step.
type StepOutcome string

const (
	// StepSuccess indicates the step completed.
	StepSuccess StepOutcome = "success"
	// StepPartial indicates the step ran but tests or gates failed.
	StepPartial StepOutcome = "partial"
	// StepFailed indicates the step did not complete.
	StepFailed StepOutcome = "failed"
	// StepSkipped indicates the step was skipped (policy denial or
	// trigger evaluation decided against an optional ceremony).
	StepSkipped StepOutcome = "skipped"
)

// Artifact is a file produced by a workflow step or ceremony, persisted
// under docs/ or source paths and committed with the step outcome.
type Artifact struct {
	// Path is the repository-relative destination path.
	Path string `json:"path"`
	// Bytes is the file content.
	Bytes []byte `json:"-"`
}

// PlanStatus is the terminal status of a plan run.
type PlanStatus string

const (
	// PlanCompleted indicates every required step finished.
	PlanCompleted PlanStatus = "completed"
	// PlanFailed indicates a fatal step failure aborted the plan.
	PlanFailed PlanStatus = "failed"
	// PlanCancelled indicates the run was halted by a cancellation signal.
	PlanCancelled PlanStatus = "cancelled"
)

// Default deadlines for external calls. Step metadata can override
// these per step.
const (
	// DefaultStepDeadline bounds a workflow step's agent invocation.
	DefaultStepDeadline = 30 * time.Minute
	// DefaultCeremonyDeadline bounds a ceremony's agent invocation.
	DefaultCeremonyDeadline = 10 * time.Minute
	// AbandonGrace is how long a cancelled external call gets to return
	// before its output is discarded.
	AbandonGrace = 30 * time.Second
)
