package learning

import (
	"math"
	"testing"
	"time"

	"github.com/gao-dev/gao-dev/pkg/models"
)

func TestDecay(t *testing.T) {
	tests := []struct {
		name    string
		daysOld float64
		want    float64
	}{
		{"fresh", 0, 1.0},
		{"at 30 days", 30, 1.0},
		{"at 60 days", 60, 0.9},
		{"at 90 days", 90, 0.8},
		{"at 135 days", 135, 0.7},
		{"at 180 days exactly", 180, 0.6},
		{"beyond 180 days", 181, 0.5},
		{"a year old", 365, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decay(tt.daysOld)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Decay(%v) = %v, want %v", tt.daysOld, got, tt.want)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	base := models.Learning{
		Category:    models.CategoryQuality,
		ScaleLevel:  models.ScaleFeature,
		ProjectType: "api",
		Tags:        []string{"auth", "api"},
	}

	tests := []struct {
		name     string
		learning models.Learning
		req      Request
		want     float64
	}{
		{
			name:     "full match clamps to 1.0",
			learning: base,
			req:      Request{ScaleLevel: models.ScaleFeature, ProjectType: "api", Tags: []string{"auth", "api"}},
			// 0.3 + 0.2 + 0.3 + 0.2 = 1.0
			want: 1.0,
		},
		{
			name:     "adjacent scale, partial tags",
			learning: base,
			req:      Request{ScaleLevel: models.ScaleSmallFeature, ProjectType: "cli", Tags: []string{"auth", "frontend"}},
			// 0.15 + 0 + (1/3)*0.3 + 0.2 = 0.45
			want: 0.45,
		},
		{
			name: "operational category gets no bonus",
			learning: models.Learning{
				Category:   models.CategoryOperational,
				ScaleLevel: models.ScaleFeature,
			},
			req: Request{ScaleLevel: models.ScaleFeature},
			// 0.3 only
			want: 0.3,
		},
		{
			name:     "no tags on either side contributes nothing",
			learning: models.Learning{Category: models.CategoryProcess, ScaleLevel: models.ScaleChore},
			req:      Request{ScaleLevel: models.ScaleChore},
			// 0.3 + 0.2
			want: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.learning, tt.req)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestScore_CrossProject walks a quality learning from one project
// through scoring against work in another: with weakly overlapping
// tags the score lands below the threshold, with strong overlap it
// clears it.
func TestScore_CrossProject(t *testing.T) {
	now := time.Now()
	l := models.Learning{
		Category:         models.CategoryQuality,
		Tags:             []string{"auth", "api"},
		ScaleLevel:       models.ScaleFeature,
		ProjectType:      "api",
		BaseRelevance:    0.9,
		ApplicationCount: 1,
		SuccessRate:      1.0,
		ConfidenceScore:  models.ConfidenceScore(1, 1.0),
		IndexedAt:        now,
	}

	// Different project type, tags {auth, frontend}: similarity is
	// 0.3 (scale) + 0.1 (jaccard 1/3) + 0.2 (category) = 0.6 and the
	// score stays under 0.3.
	weak := Request{ScaleLevel: models.ScaleFeature, ProjectType: "frontend", Tags: []string{"auth", "frontend"}}
	got := Score(l, weak, now)
	if got >= 0.3 {
		t.Errorf("weak-match score = %v, want < 0.3", got)
	}
	if math.Abs(got-0.9*l.ConfidenceScore*0.6) > 1e-9 {
		t.Errorf("weak-match score = %v, want %v", got, 0.9*l.ConfidenceScore*0.6)
	}

	// Matching project and tags: similarity clamps to 1.0 and the
	// score clears the threshold.
	strong := Request{ScaleLevel: models.ScaleFeature, ProjectType: "api", Tags: []string{"auth", "api"}}
	got = Score(l, strong, now)
	if got < 0.3 {
		t.Errorf("strong-match score = %v, want >= 0.3", got)
	}
	if math.Abs(got-0.9*l.ConfidenceScore) > 1e-9 {
		t.Errorf("strong-match score = %v, want %v", got, 0.9*l.ConfidenceScore)
	}
}

func TestScore_UnappliedLearningUsesNeutralRate(t *testing.T) {
	now := time.Now()
	l := models.Learning{
		Category:        models.CategoryQuality,
		ScaleLevel:      models.ScaleFeature,
		BaseRelevance:   1.0,
		ConfidenceScore: 0.5,
		IndexedAt:       now,
	}
	req := Request{ScaleLevel: models.ScaleFeature}

	// With zero applications the stored success_rate of 0 must not
	// zero the score.
	got := Score(l, req, now)
	if got == 0 {
		t.Error("Score for unapplied learning = 0, want neutral success rate")
	}
}

func TestScore_FreshLearningFullDecay(t *testing.T) {
	now := time.Now()
	l := models.Learning{
		Category:         models.CategoryQuality,
		ScaleLevel:       models.ScaleFeature,
		BaseRelevance:    1.0,
		ApplicationCount: 1,
		SuccessRate:      1.0,
		ConfidenceScore:  1.0,
		IndexedAt:        now,
	}
	req := Request{ScaleLevel: models.ScaleFeature}

	want := Similarity(l, req)
	if got := Score(l, req, now); math.Abs(got-want) > 1e-9 {
		t.Errorf("Score at indexed_at = %v, want %v (decay exactly 1.0)", got, want)
	}
}
