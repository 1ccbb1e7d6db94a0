package workflow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/gao-dev/gao-dev/pkg/models"
)

func TestValidate_AcceptsDAG(t *testing.T) {
	p := &Plan{Steps: []models.WorkflowStep{
		{Name: "a", Phase: models.PhasePlanning},
		{Name: "b", Phase: models.PhasePlanning, DependsOn: []int{0}},
		{Name: "c", Phase: models.PhaseImplementation, DependsOn: []int{0, 1}},
	}}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_RejectsCycle(t *testing.T) {
	p := &Plan{Steps: []models.WorkflowStep{
		{Name: "a", DependsOn: []int{2}},
		{Name: "b", DependsOn: []int{0}},
		{Name: "c", DependsOn: []int{1}},
	}}

	err := p.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want cycle error")
	}
	var ce *models.CoreError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *models.CoreError", err)
	}
	if ce.Code != models.CodePlanCycle {
		t.Errorf("error code = %q, want %q", ce.Code, models.CodePlanCycle)
	}
}

func TestValidate_RejectsSelfDependency(t *testing.T) {
	p := &Plan{Steps: []models.WorkflowStep{{Name: "a", DependsOn: []int{0}}}}
	if err := p.Validate(); err == nil {
		t.Error("Validate() accepted a self-dependency")
	}
}

func TestValidate_RejectsOutOfRangeIndex(t *testing.T) {
	p := &Plan{Steps: []models.WorkflowStep{{Name: "a", DependsOn: []int{5}}}}
	err := p.Validate()
	if err == nil {
		t.Fatal("Validate() accepted an out-of-range dependency")
	}
	if !models.IsKind(err, models.KindDataInvariant) {
		t.Errorf("error kind = %v, want data_invariant", models.KindOf(err))
	}
}

func TestExecutionOrder_RespectsDependencies(t *testing.T) {
	p := &Plan{Steps: []models.WorkflowStep{
		{Name: "c", DependsOn: []int{1, 2}},
		{Name: "a"},
		{Name: "b", DependsOn: []int{1}},
	}}

	order, err := p.ExecutionOrder()
	if err != nil {
		t.Fatalf("ExecutionOrder failed: %v", err)
	}
	if !reflect.DeepEqual(order, []int{1, 2, 0}) {
		t.Errorf("ExecutionOrder() = %v, want [1 2 0]", order)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	p := &Plan{
		Steps: []models.WorkflowStep{
			{Name: "draft-prd", Phase: models.PhasePlanning, Required: true},
			{Name: "ceremony-planning", Phase: models.PhaseRetrospective, Required: true, DependsOn: []int{0}},
			{Name: "implement-stories", Phase: models.PhaseImplementation, Required: true, DependsOn: []int{1},
				Metadata: map[string]string{"operational_guardrails": "true"}},
		},
		StandupInterval: 1,
	}

	data, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := UnmarshalPlan(data)
	if err != nil {
		t.Fatalf("UnmarshalPlan failed: %v", err)
	}

	if got.StandupInterval != p.StandupInterval {
		t.Errorf("StandupInterval = %d, want %d", got.StandupInterval, p.StandupInterval)
	}
	if len(got.Steps) != len(p.Steps) {
		t.Fatalf("got %d steps, want %d", len(got.Steps), len(p.Steps))
	}
	for i := range p.Steps {
		if got.Steps[i].Name != p.Steps[i].Name {
			t.Errorf("step %d name = %q, want %q", i, got.Steps[i].Name, p.Steps[i].Name)
		}
		if !reflect.DeepEqual(got.Steps[i].DependsOn, p.Steps[i].DependsOn) {
			t.Errorf("step %d deps = %v, want %v", i, got.Steps[i].DependsOn, p.Steps[i].DependsOn)
		}
	}
	if got.Steps[2].Metadata["operational_guardrails"] != "true" {
		t.Error("metadata lost in round trip")
	}
}

func TestInsertStep_ShiftsIndices(t *testing.T) {
	steps := []models.WorkflowStep{
		{Name: "a"},
		{Name: "b", DependsOn: []int{0}},
		{Name: "c", DependsOn: []int{1}},
	}

	steps = insertStep(steps, 1, models.WorkflowStep{Name: "x", DependsOn: []int{0}})

	want := []string{"a", "x", "b", "c"}
	for i, n := range want {
		if steps[i].Name != n {
			t.Fatalf("step %d = %q, want %q", i, steps[i].Name, n)
		}
	}
	if !reflect.DeepEqual(steps[2].DependsOn, []int{0}) {
		t.Errorf("b deps = %v, want [0]", steps[2].DependsOn)
	}
	if !reflect.DeepEqual(steps[3].DependsOn, []int{2}) {
		t.Errorf("c deps = %v, want [2] (shifted)", steps[3].DependsOn)
	}
}
