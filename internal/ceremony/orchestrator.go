package ceremony

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gao-dev/gao-dev/internal/agentrunner"
	"github.com/gao-dev/gao-dev/internal/learning"
	"github.com/gao-dev/gao-dev/internal/logging"
	"github.com/gao-dev/gao-dev/internal/state"
	"github.com/gao-dev/gao-dev/internal/trigger"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// Request asks for one ceremony to be held.
type Request struct {
	// EpicNum is the epic the ceremony belongs to.
	EpicNum int
	// Type is the ceremony kind.
	Type models.CeremonyType
	// Phase is the workflow phase the ceremony runs in.
	Phase models.Phase
	// StoryNum is the related story, if any.
	StoryNum int
	// MidEpic marks a retrospective at the mid-epic checkpoint.
	MidEpic bool
	// Manual marks a user-requested hold, which bypasses the cooldown
	// but not the cap or an open circuit.
	Manual bool
	// Participants are the agent roles taking part.
	Participants []string
}

// Result is the outcome of a hold request.
type Result struct {
	// Held is true when the ceremony ran and was recorded.
	Held bool
	// Denied is true when the safety guard refused the request.
	Denied bool
	// DenyReason explains a denial.
	DenyReason string
	// Ceremony is the recorded ceremony when Held.
	Ceremony models.Ceremony
	// Transcript is the parsed transcript when Held.
	Transcript *Transcript
}

// Orchestrator runs ceremonies end to end: guard check, context build,
// agent invocation, transcript parse, and recording.
type Orchestrator struct {
	state     *state.Coordinator
	runner    agentrunner.Runner
	guard     *trigger.Guard
	learnings *learning.Service
	logger    *slog.Logger
	deadline  time.Duration
	now       func() time.Time
}

// NewOrchestrator wires a ceremony orchestrator.
func NewOrchestrator(st *state.Coordinator, runner agentrunner.Runner, guard *trigger.Guard, learnings *learning.Service, deadline time.Duration, logger *slog.Logger) *Orchestrator {
	if deadline <= 0 {
		deadline = models.DefaultCeremonyDeadline
	}
	return &Orchestrator{
		state:     st,
		runner:    runner,
		guard:     guard,
		learnings: learnings,
		logger:    logging.OrNop(logger),
		deadline:  deadline,
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Hold runs one ceremony. Guard denials come back as a non-error Result
// so callers can record the skip and move on. Agent failures follow the
// per-type policy: planning aborts, retrospectives retry once and then
// continue, standups continue immediately. A transcript that parses
// with problems downgrades the recorded outcome to partial.
func (o *Orchestrator) Hold(ctx context.Context, req Request) (Result, error) {
	epic, err := o.state.GetEpic(req.EpicNum)
	if err != nil {
		return Result{}, err
	}
	if epic == nil {
		return Result{}, fmt.Errorf("epic %d not found", req.EpicNum)
	}

	states, err := o.state.LoadSafetyStates(req.EpicNum)
	if err != nil {
		return Result{}, err
	}
	decision := o.guard.CanHold(req.Type, states[req.Type], o.now(), req.Manual)
	if !decision.Allow {
		o.logger.Info("ceremony denied",
			"epic", req.EpicNum, "type", string(req.Type), "reason", decision.Reason)
		return Result{Denied: true, DenyReason: decision.Reason}, nil
	}

	doc, err := o.buildContext(epic, req.Type)
	if err != nil {
		return Result{}, err
	}

	raw, runErr := o.invoke(ctx, req, doc)
	if runErr != nil {
		if models.IsKind(runErr, models.KindCancelled) {
			return Result{}, runErr
		}
		return o.handleFailure(req, epic, runErr)
	}

	heldAt := o.now()
	parsed, parseErr := ParseTranscript(raw.Transcript)
	if parseErr != nil {
		return o.handleFailure(req, epic, models.NewAgentFailure("unusable transcript", parseErr))
	}

	outcome := models.OutcomeSuccess
	if parsed.Degraded() {
		outcome = models.OutcomePartial
		o.logger.Warn("ceremony transcript degraded",
			"epic", req.EpicNum, "type", string(req.Type), "problems", len(parsed.Problems))
	}

	recorded, err := o.record(req, epic, raw, parsed, outcome, heldAt)
	if err != nil {
		return Result{}, err
	}

	// Planning is where accumulated retrospective action items become
	// backlog: anything flagged for promotion turns into a draft story.
	if req.Type == models.CeremonyPlanning {
		promoted, err := o.state.PromoteActionItems(req.EpicNum)
		if err != nil {
			return Result{}, fmt.Errorf("promote action items after planning: %w", err)
		}
		if len(promoted) > 0 {
			o.logger.Info("action items promoted to stories",
				"epic", req.EpicNum, "count", len(promoted))
		}
	}

	return Result{Held: true, Ceremony: recorded, Transcript: parsed}, nil
}

func (o *Orchestrator) invoke(ctx context.Context, req Request, doc string) (agentrunner.CeremonyResult, error) {
	attempts := 1
	if req.Type == models.CeremonyRetrospective {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := o.runner.ExecuteCeremony(ctx, agentrunner.CeremonyRequest{
			Type:         req.Type,
			EpicNum:      req.EpicNum,
			Participants: req.Participants,
			Context:      doc,
			Deadline:     o.deadline,
		})
		if err == nil {
			return result, nil
		}
		if models.IsKind(err, models.KindCancelled) {
			return agentrunner.CeremonyResult{}, err
		}
		lastErr = err
		if i < attempts-1 {
			o.logger.Warn("ceremony attempt failed, retrying",
				"epic", req.EpicNum, "type", string(req.Type), "error", err)
		}
	}
	return agentrunner.CeremonyResult{}, lastErr
}

// handleFailure applies the per-type failure policy after the agent
// could not produce a usable ceremony.
func (o *Orchestrator) handleFailure(req Request, epic *models.Epic, cause error) (Result, error) {
	if req.Type == models.CeremonyPlanning {
		return Result{}, fmt.Errorf("planning ceremony for epic %d: %w", req.EpicNum, cause)
	}

	// Standups and exhausted retrospectives record the failure and let
	// the run continue.
	heldAt := o.now()
	recorded, err := o.record(req, epic, agentrunner.CeremonyResult{}, &Transcript{
		Problems: []string{cause.Error()},
	}, models.OutcomeFailed, heldAt)
	if err != nil {
		return Result{}, err
	}
	o.logger.Error("ceremony failed, continuing",
		"epic", req.EpicNum, "type", string(req.Type), "error", cause)
	return Result{Held: true, Ceremony: recorded}, nil
}

func (o *Orchestrator) record(req Request, epic *models.Epic, raw agentrunner.CeremonyResult, parsed *Transcript, outcome models.CeremonyOutcome, heldAt time.Time) (models.Ceremony, error) {
	cer := models.Ceremony{
		EpicNum:      req.EpicNum,
		StoryNum:     req.StoryNum,
		Type:         req.Type,
		Phase:        req.Phase,
		HeldAt:       heldAt,
		DurationMS:   raw.DurationMS,
		Participants: req.Participants,
		Transcript:   raw.Transcript,
		Summary:      parsed.Summary,
		Outcome:      outcome,
		MidEpic:      req.MidEpic,
	}

	var artifacts []models.Artifact
	if raw.Transcript != "" {
		path := fmt.Sprintf("docs/features/%s/ceremonies/%s-%s.md",
			epic.FeatureName, req.Type, heldAt.UTC().Format("20060102-150405"))
		artifacts = append(artifacts, models.Artifact{Path: path, Bytes: []byte(raw.Transcript)})
	}

	return o.state.RecordCeremony(cer, parsed.ActionItems, parsed.Learnings, artifacts)
}
