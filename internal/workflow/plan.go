// Package workflow builds execution plans: base step sequences per
// scale, ceremony injection, learning-driven adjustments, and plan
// validation. A plan is a flat slice of steps whose depends_on edges
// are indices into that slice.
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// Plan is an ordered, acyclic sequence of workflow steps plus the
// run-scoped knobs adjustments may have turned.
type Plan struct {
	// Steps is the flat step arena; DependsOn edges index into it.
	Steps []models.WorkflowStep `yaml:"steps"`
	// StandupInterval is the stories-per-standup cadence for this run;
	// 0 means the scale default.
	StandupInterval int `yaml:"standup_interval,omitempty"`
	// AppliedLearnings are the ids of the learnings that shaped this
	// plan. Each gets an application record when the run's work steps
	// resolve.
	AppliedLearnings []int64 `yaml:"applied_learnings,omitempty"`
}

// Validate checks that every dependency index is in range and that the
// dependency graph is acyclic. Cycles are reported as ErrPlanCycle.
func (p *Plan) Validate() error {
	n := len(p.Steps)
	for i, s := range p.Steps {
		for _, d := range s.DependsOn {
			if d < 0 || d >= n {
				return models.NewInvariantError("dependency index out of range", map[string]any{
					"step":       s.Name,
					"index":      i,
					"depends_on": d,
				})
			}
			if d == i {
				return planCycleError([]string{s.Name})
			}
		}
	}

	if _, err := p.ExecutionOrder(); err != nil {
		return err
	}
	return nil
}

// ExecutionOrder returns a topological order of step indices. Among
// ready steps the lowest index goes first, so a plan with no
// cross-dependencies executes in authoring order.
func (p *Plan) ExecutionOrder() ([]int, error) {
	n := len(p.Steps)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, s := range p.Steps {
		indegree[i] = len(s.DependsOn)
		for _, d := range s.DependsOn {
			dependents[d] = append(dependents[d], i)
		}
	}

	order := make([]int, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			var stuck []string
			for i := 0; i < n; i++ {
				if indegree[i] > 0 {
					stuck = append(stuck, p.Steps[i].Name)
				}
			}
			return nil, planCycleError(stuck)
		}
		indegree[next] = -1
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}
	return order, nil
}

func planCycleError(steps []string) error {
	return &models.CoreError{
		Kind:   models.KindDataInvariant,
		Code:   models.CodePlanCycle,
		Msg:    "workflow plan contains a dependency cycle",
		Fields: map[string]any{"steps": steps},
	}
}

// Marshal serializes the plan to YAML.
func (p *Plan) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	return data, nil
}

// UnmarshalPlan deserializes and validates a plan.
func UnmarshalPlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// insertStep inserts step at position pos and rewrites every
// dependency index at or beyond pos. The inserted step's own DependsOn
// must already use post-insertion indices.
func insertStep(steps []models.WorkflowStep, pos int, step models.WorkflowStep) []models.WorkflowStep {
	out := make([]models.WorkflowStep, 0, len(steps)+1)
	out = append(out, steps[:pos]...)
	out = append(out, step)
	out = append(out, steps[pos:]...)

	for i := range out {
		if i == pos {
			continue
		}
		for j, d := range out[i].DependsOn {
			if d >= pos {
				out[i].DependsOn[j] = d + 1
			}
		}
	}
	return out
}
