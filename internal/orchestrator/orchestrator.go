// Package orchestrator drives a workflow plan end to end: it selects
// the plan, creates the epic, executes steps through the agent runner,
// fires ceremonies when the trigger engine says they are due, and
// records the run. It owns retry and failure policy; all state
// mutation goes through the state coordinator.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gao-dev/gao-dev/internal/agentrunner"
	"github.com/gao-dev/gao-dev/internal/ceremony"
	"github.com/gao-dev/gao-dev/internal/config"
	"github.com/gao-dev/gao-dev/internal/learning"
	"github.com/gao-dev/gao-dev/internal/logging"
	"github.com/gao-dev/gao-dev/internal/state"
	"github.com/gao-dev/gao-dev/internal/trigger"
	"github.com/gao-dev/gao-dev/internal/workflow"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// Step names the run loop keys special behavior off.
const (
	stepCreateStories    = "create-stories"
	stepImplementStories = "implement-stories"
)

// RunRequest describes one piece of work to orchestrate.
type RunRequest struct {
	// Feature names the feature the work belongs to.
	Feature string
	// ScaleLevel classifies the work's size.
	ScaleLevel models.ScaleLevel
	// ProjectType describes the project kind.
	ProjectType string
	// Tags describes the work's topics, for learning selection.
	Tags []string
	// TotalStories is the planned story count for the epic.
	TotalStories int
	// RequestPlanning asks for a planning ceremony at scale 2.
	RequestPlanning bool
}

// RunMetrics summarizes one plan run.
type RunMetrics struct {
	// StepsTotal is the planned step count.
	StepsTotal int `json:"steps_total"`
	// StepsDone counts non-ceremony steps that finished (success or
	// partial); ceremony steps are tracked by the ceremony counters.
	StepsDone int `json:"steps_done"`
	// StepsSkipped is the number of steps skipped.
	StepsSkipped int `json:"steps_skipped"`
	// CeremoniesHeld counts ceremonies held during the run.
	CeremoniesHeld int `json:"ceremonies_held"`
	// CeremoniesSkipped counts ceremonies due but denied or not triggered.
	CeremoniesSkipped int `json:"ceremonies_skipped"`
	// Retries counts transient-failure retries across all steps.
	Retries int `json:"retries"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the run reached a terminal status.
	FinishedAt time.Time `json:"finished_at"`
}

// RunResult is the terminal outcome of a plan run.
type RunResult struct {
	// EpicNum is the epic the run created.
	EpicNum int `json:"epic_num"`
	// Status is the terminal plan status.
	Status models.PlanStatus `json:"status"`
	// Metrics summarizes the run.
	Metrics RunMetrics `json:"metrics"`
}

// Orchestrator executes workflow plans.
type Orchestrator struct {
	cfg        *config.Config
	state      *state.Coordinator
	runner     agentrunner.Runner
	selector   *workflow.Selector
	engine     *trigger.Engine
	ceremonies *ceremony.Orchestrator
	learnings  *learning.Service
	emitter    *eventEmitter
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(time.Duration)
}

// New wires an orchestrator from its collaborators. learnings may be
// nil, in which case applications are not recorded.
func New(cfg *config.Config, st *state.Coordinator, runner agentrunner.Runner, selector *workflow.Selector, ceremonies *ceremony.Orchestrator, learnings *learning.Service, logger *slog.Logger) *Orchestrator {
	guard := trigger.NewGuard(cfg.Safety)
	return &Orchestrator{
		cfg:        cfg,
		state:      st,
		runner:     runner,
		selector:   selector,
		engine:     trigger.NewEngine(guard),
		ceremonies: ceremonies,
		learnings:  learnings,
		emitter:    newEventEmitter(defaultEventBuffer),
		logger:     logging.OrNop(logger),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// SetClock overrides the time and sleep sources, for tests.
func (o *Orchestrator) SetClock(now func() time.Time, sleep func(time.Duration)) {
	o.now = now
	o.sleep = sleep
}

// Events returns the orchestration event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Close ends the event stream.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}

// Run executes one plan for the request. Cancellation through ctx stops
// the run after the current atomic write and reports PlanCancelled.
// A required step's failure or a planning ceremony's failure aborts the
// run with PlanFailed; optional failures and partials continue.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	plan, err := o.selector.Select(workflow.WorkRequest{
		Feature:         req.Feature,
		ScaleLevel:      req.ScaleLevel,
		ProjectType:     req.ProjectType,
		Tags:            req.Tags,
		RequestPlanning: req.RequestPlanning,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("select plan: %w", err)
	}
	planYAML, err := plan.Marshal()
	if err != nil {
		return RunResult{}, err
	}
	order, err := plan.ExecutionOrder()
	if err != nil {
		return RunResult{}, err
	}

	epic, err := o.state.CreateEpic(req.Feature, req.ScaleLevel, req.ProjectType, req.TotalStories, []models.Artifact{
		{Path: fmt.Sprintf("docs/features/%s/plan.yaml", req.Feature), Bytes: planYAML},
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("create epic: %w", err)
	}

	runID, err := o.state.StartPlanRun(epic.EpicNum, len(plan.Steps))
	if err != nil {
		return RunResult{}, err
	}
	if _, err := o.state.ExpireStaleActionItems(o.now()); err != nil {
		o.logger.Warn("expire action items", "error", err)
	}

	metrics := RunMetrics{StepsTotal: len(plan.Steps), StartedAt: o.now()}
	o.emitter.emit(Event{Type: EventPlanStarted, Time: o.now(), EpicNum: epic.EpicNum, Detail: req.Feature})
	o.logger.Info("plan run started",
		"epic", epic.EpicNum, "feature", req.Feature, "steps", len(plan.Steps))

	run := &planRun{
		id:      runID,
		epic:    epic.EpicNum,
		req:     req,
		plan:    plan,
		metrics: &metrics,
	}

	status, runErr := o.executePlan(ctx, run, order)
	metrics.FinishedAt = o.now()
	if err := o.state.FinishPlanRun(runID, status, metrics.StepsDone, metrics.CeremoniesHeld, metrics.CeremoniesSkipped); err != nil {
		o.logger.Error("finish plan run", "error", err)
	}
	o.emitter.emit(Event{Type: EventPlanFinished, Time: o.now(), EpicNum: epic.EpicNum, Detail: string(status)})
	o.logger.Info("plan run finished",
		"epic", epic.EpicNum, "status", string(status),
		"steps_done", metrics.StepsDone, "ceremonies_held", metrics.CeremoniesHeld)

	return RunResult{EpicNum: epic.EpicNum, Status: status, Metrics: metrics}, runErr
}

// planRun is the mutable context of one executing plan.
type planRun struct {
	id            int64
	epic          int
	req           RunRequest
	plan          *workflow.Plan
	metrics       *RunMetrics
	prevPhase     models.Phase
	storiesDriven bool
}

func (o *Orchestrator) executePlan(ctx context.Context, run *planRun, order []int) (models.PlanStatus, error) {
	for _, idx := range order {
		if ctx.Err() != nil {
			return models.PlanCancelled, nil
		}
		step := run.plan.Steps[idx]

		if cerType, ok := step.IsCeremony(); ok {
			if err := o.runCeremonyStep(ctx, run, step, cerType); err != nil {
				if models.IsKind(err, models.KindCancelled) {
					return models.PlanCancelled, nil
				}
				return models.PlanFailed, err
			}
			continue
		}

		// Pre-step evaluation: ceremonies that became due between steps
		// (a failure streak, a time gap) fire before more work piles on.
		if err := o.evaluateTriggers(ctx, run, step.Phase, 0, false); err != nil {
			if models.IsKind(err, models.KindCancelled) {
				return models.PlanCancelled, nil
			}
			return models.PlanFailed, err
		}

		var outcome models.StepOutcome
		var err error
		if step.Name == stepImplementStories {
			outcome, err = o.runStoryStep(ctx, run, step)
		} else {
			outcome, err = o.runStep(ctx, run, step)
		}
		if err != nil {
			if models.IsKind(err, models.KindCancelled) {
				return models.PlanCancelled, nil
			}
			return models.PlanFailed, err
		}

		switch outcome {
		case models.StepSuccess, models.StepPartial:
			run.metrics.StepsDone++
		case models.StepSkipped:
			run.metrics.StepsSkipped++
		}

		if step.Name == stepCreateStories && outcome != models.StepSkipped {
			if err := o.seedStories(run); err != nil {
				return models.PlanFailed, err
			}
		}

		if err := o.evaluateTriggers(ctx, run, step.Phase, 0, false); err != nil {
			if models.IsKind(err, models.KindCancelled) {
				return models.PlanCancelled, nil
			}
			return models.PlanFailed, err
		}
		run.prevPhase = step.Phase
	}
	return models.PlanCompleted, nil
}

// seedStories backfills draft stories up to the epic's planned count
// after the create-stories step ran. The agent's story artifacts are
// already committed; the rows here are what the run loop drives.
func (o *Orchestrator) seedStories(run *planRun) error {
	epic, err := o.state.GetEpic(run.epic)
	if err != nil {
		return err
	}
	if epic == nil {
		return fmt.Errorf("epic %d vanished during run", run.epic)
	}
	existing, err := o.state.ListStories(run.epic)
	if err != nil {
		return err
	}
	for n := len(existing) + 1; n <= epic.TotalStories; n++ {
		title := fmt.Sprintf("%s story %d", run.req.Feature, n)
		if _, err := o.state.CreateStory(run.epic, title, nil); err != nil {
			return fmt.Errorf("seed story %d.%d: %w", run.epic, n, err)
		}
	}
	return nil
}

// runStoryStep drives the implement-stories step through the story
// lifecycle: each draft story advances draft -> ready -> in_progress,
// gets one agent invocation, then lands in review and done (or failed).
// Trigger evaluation runs after every story so cadence-based standups
// and the mid-epic retrospective fire at the right story, not at the
// end of the step. With no stories tracked the step degrades to a
// plain invocation.
func (o *Orchestrator) runStoryStep(ctx context.Context, run *planRun, step models.WorkflowStep) (models.StepOutcome, error) {
	stories, err := o.state.ListStories(run.epic)
	if err != nil {
		return "", err
	}
	if len(stories) == 0 {
		return o.runStep(ctx, run, step)
	}
	run.storiesDriven = true

	outcome := models.StepSuccess
	for _, st := range stories {
		if st.Status != models.StoryDraft {
			continue
		}
		if ctx.Err() != nil {
			return "", &models.CoreError{Kind: models.KindCancelled, Code: models.CodeCancelled,
				Msg: "run cancelled", Err: ctx.Err()}
		}

		storyOutcome, err := o.runStory(ctx, run, step, st.StoryNum)
		if err != nil {
			return "", err
		}
		if storyOutcome != models.StepSuccess {
			outcome = models.StepPartial
		}

		if err := o.evaluateTriggers(ctx, run, step.Phase, st.StoryNum, storyOutcome != models.StepFailed); err != nil {
			return "", err
		}
	}
	return outcome, nil
}

// runStory advances one story through its lifecycle around a single
// agent invocation. A failed story is recorded and the run moves on;
// the failure streak is what the retrospective trigger watches.
func (o *Orchestrator) runStory(ctx context.Context, run *planRun, step models.WorkflowStep, storyNum int) (models.StepOutcome, error) {
	o.emitter.emit(Event{Type: EventStoryStarted, Time: o.now(), EpicNum: run.epic,
		Step: step.Name, Story: storyNum})

	if _, err := o.state.AdvanceStory(run.epic, storyNum, models.StoryReady, nil); err != nil {
		return "", err
	}
	if _, err := o.state.AdvanceStory(run.epic, storyNum, models.StoryInProgress, nil); err != nil {
		return "", err
	}

	result, err := o.executeStep(ctx, run, step, storyNum)
	if err != nil {
		if models.IsKind(err, models.KindCancelled) {
			return "", err
		}
		if _, aerr := o.state.AdvanceStory(run.epic, storyNum, models.StoryFailed, nil); aerr != nil {
			return "", aerr
		}
		o.recordApplications(run, storyNum, models.ApplicationFailure)
		o.emitter.emit(Event{Type: EventStoryFinished, Time: o.now(), EpicNum: run.epic,
			Step: step.Name, Story: storyNum, Outcome: models.StepFailed, Detail: err.Error()})
		o.logger.Warn("story failed",
			"epic", run.epic, "story", storyNum, "error", err)
		return models.StepFailed, nil
	}

	if _, err := o.state.AdvanceStory(run.epic, storyNum, models.StoryReview, result.Artifacts); err != nil {
		return "", err
	}
	if result.Gates != "" && result.Gates != models.GatesUnknown {
		if err := o.state.RecordQualityGates(run.epic, storyNum, result.Gates); err != nil {
			return "", err
		}
	}

	final := models.StoryDone
	if result.Outcome == models.StepFailed {
		final = models.StoryFailed
	}
	if _, err := o.state.AdvanceStory(run.epic, storyNum, final, nil); err != nil {
		return "", err
	}

	o.recordApplications(run, storyNum, applicationOutcome(result.Outcome))
	o.emitter.emit(Event{Type: EventStoryFinished, Time: o.now(), EpicNum: run.epic,
		Step: step.Name, Story: storyNum, Outcome: result.Outcome})
	return result.Outcome, nil
}

// recordApplications closes the feedback loop: every learning that
// shaped the plan gets an application row with the work's outcome, so
// its success rate and confidence reflect real use.
func (o *Orchestrator) recordApplications(run *planRun, storyNum int, outcome models.ApplicationOutcome) {
	if o.learnings == nil {
		return
	}
	for _, id := range run.plan.AppliedLearnings {
		_, err := o.learnings.RecordApplication(models.LearningApplication{
			LearningID: id,
			EpicNum:    run.epic,
			StoryNum:   storyNum,
			Outcome:    outcome,
			AppliedAt:  o.now(),
			Context:    run.req.Feature,
		})
		if err != nil {
			o.logger.Warn("record learning application",
				"learning_id", id, "epic", run.epic, "error", err)
		}
	}
}

func applicationOutcome(o models.StepOutcome) models.ApplicationOutcome {
	switch o {
	case models.StepSuccess:
		return models.ApplicationSuccess
	case models.StepPartial:
		return models.ApplicationPartial
	default:
		return models.ApplicationFailure
	}
}

// isWorkStep reports whether a step carries the epic's implementation
// work, the signal learning applications are judged by on runs that do
// not track stories.
func isWorkStep(name string) bool {
	switch name {
	case "implement-chore", "fix", stepImplementStories:
		return true
	}
	return false
}

// executeStep invokes the agent for one step with the retry policy:
// transient failures back off exponentially up to the configured retry
// budget, everything else fails immediately.
func (o *Orchestrator) executeStep(ctx context.Context, run *planRun, step models.WorkflowStep, storyNum int) (agentrunner.StepResult, error) {
	var result agentrunner.StepResult
	var err error
	for attempt := 0; ; attempt++ {
		result, err = o.runner.ExecuteStep(ctx, agentrunner.StepRequest{
			Step:     step,
			EpicNum:  run.epic,
			StoryNum: storyNum,
			Feature:  run.req.Feature,
			Deadline: o.cfg.Timeouts.Step,
		})
		if err == nil || !models.IsKind(err, models.KindTransient) || attempt >= o.cfg.Retry.MaxRetries {
			break
		}
		delay := o.cfg.Retry.BaseDelay << uint(attempt)
		run.metrics.Retries++
		o.logger.Warn("step failed transiently, retrying",
			"epic", run.epic, "step", step.Name, "attempt", attempt+1, "delay", delay.String())
		o.sleep(delay)
	}
	return result, err
}

// runStep executes one non-ceremony step. A failed required step
// aborts the plan; a failed optional step is skipped.
func (o *Orchestrator) runStep(ctx context.Context, run *planRun, step models.WorkflowStep) (models.StepOutcome, error) {
	o.emitter.emit(Event{Type: EventStepStarted, Time: o.now(), EpicNum: run.epic, Step: step.Name})

	result, err := o.executeStep(ctx, run, step, 0)
	if err != nil {
		if models.IsKind(err, models.KindCancelled) {
			return "", err
		}
		if !step.Required {
			o.logger.Warn("optional step failed, skipping",
				"epic", run.epic, "step", step.Name, "error", err)
			o.emitter.emit(Event{Type: EventStepFinished, Time: o.now(), EpicNum: run.epic,
				Step: step.Name, Outcome: models.StepSkipped, Detail: err.Error()})
			return models.StepSkipped, nil
		}
		if isWorkStep(step.Name) && !run.storiesDriven {
			o.recordApplications(run, 0, models.ApplicationFailure)
		}
		o.emitter.emit(Event{Type: EventStepFinished, Time: o.now(), EpicNum: run.epic,
			Step: step.Name, Outcome: models.StepFailed, Detail: err.Error()})
		return "", fmt.Errorf("step %s: %w", step.Name, err)
	}

	if len(result.Artifacts) > 0 {
		sha, err := o.state.CommitStepOutput(run.epic, step, result.Artifacts)
		if err != nil {
			return "", fmt.Errorf("commit %s output: %w", step.Name, err)
		}
		o.emitter.emit(Event{Type: EventArtifactCommitted, Time: o.now(), EpicNum: run.epic,
			Step: step.Name, Detail: sha})
	}

	outcome := result.Outcome
	if isWorkStep(step.Name) && !run.storiesDriven {
		o.recordApplications(run, 0, applicationOutcome(outcome))
	}
	if outcome == models.StepFailed && step.Required {
		o.emitter.emit(Event{Type: EventStepFinished, Time: o.now(), EpicNum: run.epic,
			Step: step.Name, Outcome: outcome, Detail: result.Diagnostics})
		return "", fmt.Errorf("required step %s failed: %s", step.Name, result.Diagnostics)
	}
	o.emitter.emit(Event{Type: EventStepFinished, Time: o.now(), EpicNum: run.epic,
		Step: step.Name, Outcome: outcome})
	return outcome, nil
}

// runCeremonyStep executes an injected ceremony step. Optional steps
// are re-evaluated against the trigger rules at execution time;
// required steps go straight to the hold, where the guard still has
// the last word.
func (o *Orchestrator) runCeremonyStep(ctx context.Context, run *planRun, step models.WorkflowStep, cerType models.CeremonyType) error {
	tctx, err := o.state.BuildTriggerContext(run.epic, state.TriggerInputs{
		Phase:           step.Phase,
		PrevPhase:       run.prevPhase,
		RequestPlanning: run.req.RequestPlanning,
		StandupInterval: run.plan.StandupInterval,
	})
	if err != nil {
		return err
	}

	if !step.Required {
		due := false
		for _, t := range o.engine.Evaluate(tctx, o.now()) {
			if t == cerType {
				due = true
				break
			}
		}
		if !due {
			run.metrics.CeremoniesSkipped++
			o.emitter.emit(Event{Type: EventCeremonySkipped, Time: o.now(), EpicNum: run.epic,
				Ceremony: cerType, Detail: "not due"})
			return nil
		}
	}

	return o.hold(ctx, run, cerType, step.Phase, tctx)
}

// evaluateTriggers fires any ceremonies due around a step or a story.
// It runs before and after every non-ceremony step and after each
// story, so cadence rules see the state they key on. Guard-blocked
// candidates are not counted as skips: only a ceremony the plan or a
// rule actually called for counts when it does not run.
func (o *Orchestrator) evaluateTriggers(ctx context.Context, run *planRun, phase models.Phase, storyNum int, storyDone bool) error {
	tctx, err := o.state.BuildTriggerContext(run.epic, state.TriggerInputs{
		StoryNum:           storyNum,
		Phase:              phase,
		PrevPhase:          run.prevPhase,
		RequestPlanning:    run.req.RequestPlanning,
		StoryJustCompleted: storyDone,
		StandupInterval:    run.plan.StandupInterval,
	})
	if err != nil {
		return err
	}
	states, err := o.state.LoadSafetyStates(run.epic)
	if err != nil {
		return err
	}

	allowed, blocked := o.engine.Allowed(tctx, states, o.now())
	for _, b := range blocked {
		o.logger.Debug("ceremony blocked", "epic", run.epic, "type", string(b.Type), "reason", b.Reason)
	}
	for _, t := range allowed {
		// Planning runs at its injected plan position, after the planning
		// artifacts exist, not at the first transition that finds it due.
		if t == models.CeremonyPlanning {
			continue
		}
		if ctx.Err() != nil {
			return &models.CoreError{Kind: models.KindCancelled, Code: models.CodeCancelled,
				Msg: "run cancelled", Err: ctx.Err()}
		}
		if err := o.hold(ctx, run, t, phase, tctx); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) hold(ctx context.Context, run *planRun, t models.CeremonyType, phase models.Phase, tctx models.TriggerContext) error {
	midEpic := t == models.CeremonyRetrospective &&
		tctx.TotalStories > 0 && tctx.StoriesCompleted < tctx.TotalStories

	result, err := o.ceremonies.Hold(ctx, ceremony.Request{
		EpicNum:  run.epic,
		Type:     t,
		Phase:    phase,
		StoryNum: tctx.StoryNum,
		MidEpic:  midEpic,
	})
	if err != nil {
		return err
	}
	if result.Denied {
		run.metrics.CeremoniesSkipped++
		o.emitter.emit(Event{Type: EventCeremonySkipped, Time: o.now(), EpicNum: run.epic,
			Ceremony: t, Detail: result.DenyReason})
		return nil
	}
	run.metrics.CeremoniesHeld++
	o.emitter.emit(Event{Type: EventCeremonyHeld, Time: o.now(), EpicNum: run.epic,
		Ceremony: t, Detail: string(result.Ceremony.Outcome)})
	return nil
}

// HoldCeremony runs one user-requested ceremony outside a plan run.
// Manual holds bypass the cooldown but not the cap or an open circuit;
// a denial comes back as a policy error.
func (o *Orchestrator) HoldCeremony(ctx context.Context, epicNum int, t models.CeremonyType) (models.Ceremony, error) {
	result, err := o.ceremonies.Hold(ctx, ceremony.Request{
		EpicNum: epicNum,
		Type:    t,
		Manual:  true,
	})
	if err != nil {
		return models.Ceremony{}, err
	}
	if result.Denied {
		return models.Ceremony{}, models.NewPolicyDenial(result.DenyReason)
	}
	return result.Ceremony, nil
}

// Status summarizes an epic for display.
type Status struct {
	Epic        models.Epic         `json:"epic"`
	Stories     []models.Story      `json:"stories,omitempty"`
	Ceremonies  []models.Ceremony   `json:"ceremonies,omitempty"`
	OpenActions []models.ActionItem `json:"open_actions,omitempty"`
	LastRun     *state.PlanRun      `json:"last_run,omitempty"`
}

// ErrEpicNotFound reports a status request for a missing epic.
var ErrEpicNotFound = errors.New("epic not found")

// EpicStatus returns the current state of an epic.
func (o *Orchestrator) EpicStatus(epicNum int) (Status, error) {
	epic, err := o.state.GetEpic(epicNum)
	if err != nil {
		return Status{}, err
	}
	if epic == nil {
		return Status{}, fmt.Errorf("epic %d: %w", epicNum, ErrEpicNotFound)
	}

	st := Status{Epic: *epic}
	if st.Stories, err = o.state.ListStories(epicNum); err != nil {
		return Status{}, err
	}
	if st.Ceremonies, err = o.state.ListCeremonies(epicNum); err != nil {
		return Status{}, err
	}
	if st.OpenActions, err = o.state.ListOpenActionItems(epicNum); err != nil {
		return Status{}, err
	}
	if st.LastRun, err = o.state.LastPlanRun(epicNum); err != nil {
		return Status{}, err
	}
	return st, nil
}
