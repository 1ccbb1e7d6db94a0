package trigger

import (
	"reflect"
	"testing"
	"time"

	"github.com/gao-dev/gao-dev/internal/config"
	"github.com/gao-dev/gao-dev/pkg/models"
)

func testEngine() *Engine {
	return NewEngine(NewGuard(config.Default().Safety))
}

func TestEvaluate_Planning(t *testing.T) {
	now := time.Now()
	e := testEngine()

	tests := []struct {
		name string
		ctx  models.TriggerContext
		want bool
	}{
		{"chore never plans", models.TriggerContext{ScaleLevel: models.ScaleChore}, false},
		{"bug fix never plans", models.TriggerContext{ScaleLevel: models.ScaleBugFix}, false},
		{"scale 2 without request", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature}, false},
		{"scale 2 with request", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature, RequestPlanning: true}, true},
		{"scale 2 request but already held", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature, RequestPlanning: true, PlanningHeld: true}, false},
		{"scale 3 at epic start", models.TriggerContext{ScaleLevel: models.ScaleFeature}, true},
		{"scale 3 already held", models.TriggerContext{ScaleLevel: models.ScaleFeature, PlanningHeld: true}, false},
		{"scale 4 at epic start", models.TriggerContext{ScaleLevel: models.ScaleGreenfield}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contains(e.Evaluate(tt.ctx, now), models.CeremonyPlanning)
			if got != tt.want {
				t.Errorf("planning due = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_Standup(t *testing.T) {
	now := time.Now()
	e := testEngine()

	tests := []struct {
		name string
		ctx  models.TriggerContext
		want bool
	}{
		{"bug fix never", models.TriggerContext{ScaleLevel: models.ScaleBugFix, QualityGates: models.GatesFailed}, false},
		{"failed gates force standup", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature, TotalStories: 2, StoriesCompleted: 1, QualityGates: models.GatesFailed}, true},
		{"scale 2 small epic no standup", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature, TotalStories: 3, StoriesCompleted: 3}, false},
		{"scale 2 every third story", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature, TotalStories: 5, StoriesCompleted: 3}, true},
		{"scale 2 off interval", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature, TotalStories: 5, StoriesCompleted: 2}, false},
		{"scale 2 zero completed", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature, TotalStories: 5}, false},
		{"scale 3 every second story", models.TriggerContext{ScaleLevel: models.ScaleFeature, TotalStories: 8, StoriesCompleted: 4, MidRetroHeld: true}, true},
		{"scale 3 odd story", models.TriggerContext{ScaleLevel: models.ScaleFeature, TotalStories: 8, StoriesCompleted: 3}, false},
		{"scale 3 halved interval", models.TriggerContext{ScaleLevel: models.ScaleFeature, TotalStories: 8, StoriesCompleted: 3, StandupInterval: 1}, true},
		{"scale 4 never held", models.TriggerContext{ScaleLevel: models.ScaleGreenfield, PlanningHeld: true}, true},
		{"scale 4 recent standup", models.TriggerContext{ScaleLevel: models.ScaleGreenfield, PlanningHeld: true, LastStandupAt: now.Add(-1 * time.Hour)}, false},
		{"scale 4 stale standup", models.TriggerContext{ScaleLevel: models.ScaleGreenfield, PlanningHeld: true, LastStandupAt: now.Add(-25 * time.Hour)}, true},
		{"scale 4 story just completed", models.TriggerContext{ScaleLevel: models.ScaleGreenfield, PlanningHeld: true, LastStandupAt: now.Add(-1 * time.Hour), StoryJustCompleted: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contains(e.Evaluate(tt.ctx, now), models.CeremonyStandup)
			if got != tt.want {
				t.Errorf("standup due = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_Retrospective(t *testing.T) {
	now := time.Now()
	e := testEngine()

	tests := []struct {
		name string
		ctx  models.TriggerContext
		want bool
	}{
		{"chore never", models.TriggerContext{ScaleLevel: models.ScaleChore}, false},
		{"bug fix single failure", models.TriggerContext{ScaleLevel: models.ScaleBugFix, ConsecutiveStoryFailures: 1}, false},
		{"bug fix repeated failures", models.TriggerContext{ScaleLevel: models.ScaleBugFix, ConsecutiveStoryFailures: 2}, true},
		{"scale 2 epic completion", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature, TotalStories: 5, StoriesCompleted: 5}, true},
		{"scale 2 mid epic does not fire", models.TriggerContext{ScaleLevel: models.ScaleSmallFeature, TotalStories: 8, StoriesCompleted: 4}, false},
		{"scale 3 mid epic at half", models.TriggerContext{ScaleLevel: models.ScaleFeature, TotalStories: 8, StoriesCompleted: 4}, true},
		{"scale 3 mid epic already held", models.TriggerContext{ScaleLevel: models.ScaleFeature, TotalStories: 8, StoriesCompleted: 4, MidRetroHeld: true}, false},
		{"scale 3 outside window", models.TriggerContext{ScaleLevel: models.ScaleFeature, TotalStories: 8, StoriesCompleted: 3}, false},
		{"scale 3 three stories never hits window", models.TriggerContext{ScaleLevel: models.ScaleFeature, TotalStories: 3, StoriesCompleted: 1}, false},
		{"zero stories never completes", models.TriggerContext{ScaleLevel: models.ScaleFeature, TotalStories: 0, StoriesCompleted: 0, PlanningHeld: true}, false},
		{"scale 4 phase boundary", models.TriggerContext{ScaleLevel: models.ScaleGreenfield, TotalStories: 10, StoriesCompleted: 1, PrevPhase: models.PhasePlanning, Phase: models.PhaseSolutioning, LastStandupAt: now}, true},
		{"scale 4 phase boundary already held", models.TriggerContext{ScaleLevel: models.ScaleGreenfield, TotalStories: 10, StoriesCompleted: 1, PrevPhase: models.PhasePlanning, Phase: models.PhaseSolutioning, PhaseRetroHeld: true, LastStandupAt: now}, false},
		{"scale 4 same phase", models.TriggerContext{ScaleLevel: models.ScaleGreenfield, TotalStories: 10, StoriesCompleted: 1, PrevPhase: models.PhaseSolutioning, Phase: models.PhaseSolutioning, LastStandupAt: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contains(e.Evaluate(tt.ctx, now), models.CeremonyRetrospective)
			if got != tt.want {
				t.Errorf("retrospective due = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestEvaluate_MidEpicOrdering mirrors a level 3 epic at the halfway
// point: the standup and the mid-epic retrospective both fire, in that
// order, and planning is skipped because it was already held.
func TestEvaluate_MidEpicOrdering(t *testing.T) {
	e := testEngine()
	ctx := models.TriggerContext{
		ScaleLevel:       models.ScaleFeature,
		TotalStories:     8,
		StoriesCompleted: 4,
		PlanningHeld:     true,
	}

	got := e.Evaluate(ctx, time.Now())
	want := []models.CeremonyType{models.CeremonyStandup, models.CeremonyRetrospective}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Evaluate() = %v, want %v", got, want)
	}
}

func TestAllowed_FiltersBlocked(t *testing.T) {
	e := testEngine()
	now := time.Now()

	ctx := models.TriggerContext{
		ScaleLevel:       models.ScaleFeature,
		TotalStories:     8,
		StoriesCompleted: 4,
		PlanningHeld:     true,
	}
	states := map[models.CeremonyType]models.SafetyState{
		models.CeremonyStandup: {Circuit: models.CircuitOpen, ConsecutiveFailures: 3},
	}

	allowed, blocked := e.Allowed(ctx, states, now)
	if !reflect.DeepEqual(allowed, []models.CeremonyType{models.CeremonyRetrospective}) {
		t.Errorf("allowed = %v, want [retrospective]", allowed)
	}
	if len(blocked) != 1 || blocked[0].Type != models.CeremonyStandup {
		t.Fatalf("blocked = %v, want one standup denial", blocked)
	}
	if blocked[0].Reason == "" {
		t.Error("blocked reason is empty")
	}
}

func contains(types []models.CeremonyType, t models.CeremonyType) bool {
	for _, c := range types {
		if c == t {
			return true
		}
	}
	return false
}
