// Package agentrunner is the boundary to the external agent process.
// The orchestration core never talks to a model or tool directly; it
// hands a step or ceremony request to a Runner and gets artifacts and
// an outcome back.
package agentrunner

import (
	"context"
	"time"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// StepRequest describes one workflow step for the agent to execute.
type StepRequest struct {
	// Step is the workflow step to run.
	Step models.WorkflowStep `json:"step"`
	// EpicNum is the epic under execution.
	EpicNum int `json:"epic_num"`
	// StoryNum is the story the step targets, if any.
	StoryNum int `json:"story_num,omitempty"`
	// Feature is the feature name, for artifact paths.
	Feature string `json:"feature"`
	// Context is rendered guidance for the agent: selected learnings,
	// open action items, prior step output.
	Context string `json:"context,omitempty"`
	// Deadline bounds the invocation; zero means the step default.
	Deadline time.Duration `json:"-"`
}

// StepResult is what the agent produced for a step.
type StepResult struct {
	// Outcome is the step result.
	Outcome models.StepOutcome `json:"outcome"`
	// Artifacts are the files the agent produced, repository-relative.
	Artifacts []models.Artifact `json:"-"`
	// Gates is the quality gate result, when the step evaluated gates.
	Gates models.QualityGateResult `json:"gates,omitempty"`
	// Diagnostics is free-form failure detail.
	Diagnostics string `json:"diagnostics,omitempty"`
}

// CeremonyRequest describes one ceremony for the agent to facilitate.
type CeremonyRequest struct {
	// Type is the ceremony kind.
	Type models.CeremonyType `json:"type"`
	// EpicNum is the epic the ceremony belongs to.
	EpicNum int `json:"epic_num"`
	// Participants are the agent roles taking part.
	Participants []string `json:"participants,omitempty"`
	// Context is the rendered ceremony context document.
	Context string `json:"context,omitempty"`
	// Deadline bounds the invocation; zero means the ceremony default.
	Deadline time.Duration `json:"-"`
}

// CeremonyResult is the raw outcome of a ceremony invocation. Parsing
// the transcript into structured sections is the caller's job.
type CeremonyResult struct {
	// Transcript is the raw markdown transcript.
	Transcript string `json:"transcript"`
	// DurationMS is the wall-clock duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// Runner executes steps and ceremonies through the external agent.
// Implementations must honor the context: on cancellation or deadline
// the call returns an agent failure and any partial output is dropped.
type Runner interface {
	ExecuteStep(ctx context.Context, req StepRequest) (StepResult, error)
	ExecuteCeremony(ctx context.Context, req CeremonyRequest) (CeremonyResult, error)
}
