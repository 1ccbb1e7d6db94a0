package workflow

import (
	"fmt"
	"log/slog"

	"github.com/gao-dev/gao-dev/internal/learning"
	"github.com/gao-dev/gao-dev/internal/logging"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// maxAdjustmentDepth caps how long a cause chain of learning-driven
// insertions may grow.
const maxAdjustmentDepth = 3

// WorkRequest describes the work a plan is being built for.
type WorkRequest struct {
	// Feature names the feature the work belongs to.
	Feature string
	// ScaleLevel classifies the work's size.
	ScaleLevel models.ScaleLevel
	// ProjectType describes the project kind.
	ProjectType string
	// Tags describes the work's topics, used for learning selection.
	Tags []string
	// RequestPlanning asks for a planning ceremony at scale 2.
	RequestPlanning bool
}

// LearningSelector is the slice of the learning service the selector
// needs.
type LearningSelector interface {
	Select(req learning.Request) ([]learning.Scored, error)
}

// Selector builds plans from the catalog, injects ceremony steps, and
// applies learning-driven adjustments.
type Selector struct {
	catalog   *Catalog
	learnings LearningSelector
	logger    *slog.Logger
}

// NewSelector creates a workflow selector. learnings may be nil, in
// which case no adjustments are applied.
func NewSelector(catalog *Catalog, learnings LearningSelector, logger *slog.Logger) *Selector {
	return &Selector{catalog: catalog, learnings: learnings, logger: logging.OrNop(logger)}
}

// Select returns a validated plan for the request.
func (s *Selector) Select(req WorkRequest) (*Plan, error) {
	if !req.ScaleLevel.Valid() {
		return nil, fmt.Errorf("invalid scale level %d", int(req.ScaleLevel))
	}

	steps, err := s.catalog.Base(req.ScaleLevel)
	if err != nil {
		return nil, err
	}

	steps = injectCeremonies(steps, req)
	plan := &Plan{Steps: steps}

	if s.learnings != nil {
		scored, err := s.learnings.Select(learning.Request{
			ScaleLevel:  req.ScaleLevel,
			ProjectType: req.ProjectType,
			Tags:        req.Tags,
		})
		if err != nil {
			return nil, fmt.Errorf("select learnings: %w", err)
		}
		s.applyAdjustments(plan, scored)
		for _, sc := range scored {
			plan.AppliedLearnings = append(plan.AppliedLearnings, sc.Learning.ID)
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}

	s.logger.Info("plan selected",
		"feature", req.Feature, "scale", int(req.ScaleLevel), "steps", len(plan.Steps))
	return plan, nil
}

// ceremonyStep builds an injected ceremony step depending on the step
// at index dep.
func ceremonyStep(name string, required bool, dep int) models.WorkflowStep {
	return models.WorkflowStep{
		Name:      name,
		Phase:     models.PhaseRetrospective,
		Required:  required,
		DependsOn: []int{dep},
	}
}

// injectCeremonies applies the ceremony injection rules for scale >= 2.
func injectCeremonies(steps []models.WorkflowStep, req WorkRequest) []models.WorkflowStep {
	if req.ScaleLevel < models.ScaleSmallFeature {
		return steps
	}

	// Planning goes after the last planning artifact step. One step is
	// enough; a second planning would be denied at execution time anyway
	// because one already exists for the epic.
	if req.ScaleLevel >= models.ScaleFeature || req.RequestPlanning {
		if idx := lastIndexOf(steps, "draft-prd", "create-epics"); idx >= 0 {
			required := req.ScaleLevel >= models.ScaleFeature
			steps = insertStep(steps, idx+1, ceremonyStep("ceremony-planning", required, idx))
		}
	}

	// Standups after each implement-stories step; the trigger engine
	// decides at execution time whether they actually run.
	for _, idx := range indicesOf(steps, "implement-stories") {
		steps = insertStep(steps, idx+1, ceremonyStep("ceremony-standup", false, idx))
	}

	// Retrospectives after each terminal test step.
	for _, idx := range indicesOf(steps, "test-feature", "integration-test") {
		steps = insertStep(steps, idx+1, ceremonyStep("ceremony-retrospective", true, idx))
	}

	return steps
}

// applyAdjustments mutates the plan per the categories of the selected
// learnings.
func (s *Selector) applyAdjustments(plan *Plan, scored []learning.Scored) {
	var extraTestInserted, designReviewInserted, intervalHalved bool

	for _, sc := range scored {
		switch sc.Learning.Category {
		case models.CategoryQuality:
			if extraTestInserted {
				annotate(plan.Steps, "quality_gates", "strict", "test-feature", "integration-test")
				continue
			}
			idx := lastIndexOf(plan.Steps, "test-feature", "integration-test")
			if idx < 0 {
				continue
			}
			extra := models.WorkflowStep{
				Name:            "test-feature",
				Phase:           models.PhaseImplementation,
				Required:        true,
				DependsOn:       []int{idx},
				AdjustmentDepth: 1,
			}
			if extra.AdjustmentDepth > maxAdjustmentDepth {
				continue
			}
			plan.Steps = insertStep(plan.Steps, idx+1, extra)
			extraTestInserted = true
			s.logger.Info("quality learning added test step", "learning_id", sc.Learning.ID)

		case models.CategoryProcess:
			if intervalHalved {
				continue
			}
			if base := defaultStandupInterval(scaleOf(plan)); base > 1 {
				plan.StandupInterval = base / 2
				if plan.StandupInterval < 1 {
					plan.StandupInterval = 1
				}
				intervalHalved = true
				s.logger.Info("process learning halved standup interval",
					"learning_id", sc.Learning.ID, "interval", plan.StandupInterval)
			}

		case models.CategoryArchitectural:
			if designReviewInserted {
				continue
			}
			idx := firstIndexOf(plan.Steps, "implement-stories")
			if idx < 0 {
				continue
			}
			review := models.WorkflowStep{
				Name:            "design-review",
				Phase:           models.PhaseSolutioning,
				Required:        true,
				DependsOn:       append([]int(nil), plan.Steps[idx].DependsOn...),
				AdjustmentDepth: 1,
			}
			plan.Steps = insertStep(plan.Steps, idx, review)
			// implement-stories moved to idx+1 and now waits on the review.
			plan.Steps[idx+1].DependsOn = append(plan.Steps[idx+1].DependsOn, idx)
			designReviewInserted = true
			s.logger.Info("architectural learning added design review", "learning_id", sc.Learning.ID)

		case models.CategoryOperational:
			annotate(plan.Steps, "operational_guardrails", "true", "implement-stories", "implement-chore", "fix")
		}
	}
}

// scaleOf infers the plan's scale from its step names; only the
// standup cadence depends on it.
func scaleOf(plan *Plan) models.ScaleLevel {
	if firstIndexOf(plan.Steps, "integration-test") >= 0 {
		return models.ScaleGreenfield
	}
	if firstIndexOf(plan.Steps, "create-epics") >= 0 {
		return models.ScaleFeature
	}
	if firstIndexOf(plan.Steps, "draft-prd") >= 0 {
		return models.ScaleSmallFeature
	}
	if firstIndexOf(plan.Steps, "reproduce-bug") >= 0 {
		return models.ScaleBugFix
	}
	return models.ScaleChore
}

// defaultStandupInterval returns the stories-per-standup cadence for a
// scale; 0 means standups are time-based or disabled.
func defaultStandupInterval(scale models.ScaleLevel) int {
	switch scale {
	case models.ScaleSmallFeature:
		return 3
	case models.ScaleFeature:
		return 2
	default:
		return 0
	}
}

func annotate(steps []models.WorkflowStep, key, value string, names ...string) {
	for i := range steps {
		for _, n := range names {
			if steps[i].Name != n {
				continue
			}
			if steps[i].Metadata == nil {
				steps[i].Metadata = make(map[string]string)
			}
			steps[i].Metadata[key] = value
		}
	}
}

func firstIndexOf(steps []models.WorkflowStep, names ...string) int {
	for i, s := range steps {
		for _, n := range names {
			if s.Name == n {
				return i
			}
		}
	}
	return -1
}

func lastIndexOf(steps []models.WorkflowStep, names ...string) int {
	for i := len(steps) - 1; i >= 0; i-- {
		for _, n := range names {
			if steps[i].Name == n {
				return i
			}
		}
	}
	return -1
}

func indicesOf(steps []models.WorkflowStep, names ...string) []int {
	var out []int
	for i := len(steps) - 1; i >= 0; i-- {
		for _, n := range names {
			if steps[i].Name == n {
				out = append(out, i)
			}
		}
	}
	// Highest index first so insertions do not shift pending targets.
	return out
}
