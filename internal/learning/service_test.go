package learning

import (
	"testing"
	"time"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// fakeRepo is an in-memory Repository for service tests.
type fakeRepo struct {
	learnings []models.Learning
	apps      []models.LearningApplication
}

func (f *fakeRepo) ActiveLearnings() ([]models.Learning, error) {
	var active []models.Learning
	for _, l := range f.learnings {
		if l.SupersededBy == 0 {
			active = append(active, l)
		}
	}
	return active, nil
}

func (f *fakeRepo) RecordApplication(app models.LearningApplication) (models.Learning, error) {
	f.apps = append(f.apps, app)
	for i := range f.learnings {
		l := &f.learnings[i]
		if l.ID != app.LearningID {
			continue
		}
		var weight float64
		for _, a := range f.apps {
			if a.LearningID == l.ID {
				weight += a.Outcome.SuccessWeight()
			}
		}
		l.ApplicationCount++
		l.SuccessRate = weight / float64(l.ApplicationCount)
		l.ConfidenceScore = models.ConfidenceScore(l.ApplicationCount, l.SuccessRate)
		return *l, nil
	}
	return models.Learning{}, nil
}

func (f *fakeRepo) Supersede(oldID, newID int64) error {
	for i := range f.learnings {
		if f.learnings[i].ID == oldID {
			f.learnings[i].SupersededBy = newID
		}
	}
	return nil
}

func newLearning(id int64, relevance float64, indexed time.Time) models.Learning {
	return models.Learning{
		ID:              id,
		Category:        models.CategoryQuality,
		ScaleLevel:      models.ScaleFeature,
		ProjectType:     "api",
		Tags:            []string{"auth"},
		BaseRelevance:   relevance,
		ConfidenceScore: 0.5,
		IndexedAt:       indexed,
	}
}

func TestSelect_OrdersByScore(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{learnings: []models.Learning{
		newLearning(1, 0.7, now),
		newLearning(2, 0.95, now),
		newLearning(3, 0.8, now),
	}}
	svc := NewService(repo, nil, WithClock(func() time.Time { return now }))

	got, err := svc.Select(Request{ScaleLevel: models.ScaleFeature, ProjectType: "api", Tags: []string{"auth"}})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d learnings, want 3", len(got))
	}
	wantOrder := []int64{2, 3, 1}
	for i, w := range wantOrder {
		if got[i].Learning.ID != w {
			t.Errorf("position %d = learning %d, want %d", i, got[i].Learning.ID, w)
		}
	}
}

func TestSelect_AppliesThreshold(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{learnings: []models.Learning{
		newLearning(1, 0.95, now),
		newLearning(2, 0.05, now),
	}}
	svc := NewService(repo, nil, WithClock(func() time.Time { return now }))

	got, err := svc.Select(Request{ScaleLevel: models.ScaleFeature, ProjectType: "api", Tags: []string{"auth"}})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d learnings, want 1 (low-relevance one discarded)", len(got))
	}
	if got[0].Learning.ID != 1 {
		t.Errorf("selected learning %d, want 1", got[0].Learning.ID)
	}
}

func TestSelect_RespectsLimit(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{}
	for i := int64(1); i <= 8; i++ {
		repo.learnings = append(repo.learnings, newLearning(i, 0.9, now))
	}
	svc := NewService(repo, nil, WithClock(func() time.Time { return now }))

	got, err := svc.Select(Request{ScaleLevel: models.ScaleFeature, ProjectType: "api", Tags: []string{"auth"}})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != DefaultLimit {
		t.Errorf("got %d learnings, want default limit %d", len(got), DefaultLimit)
	}

	got, err = svc.Select(Request{ScaleLevel: models.ScaleFeature, ProjectType: "api", Tags: []string{"auth"}, Limit: 2})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d learnings, want explicit limit 2", len(got))
	}
}

func TestSelect_ExcludesSuperseded(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{learnings: []models.Learning{
		newLearning(1, 0.9, now),
		newLearning(2, 0.9, now),
	}}
	svc := NewService(repo, nil, WithClock(func() time.Time { return now }))

	if err := svc.Supersede(1, 2); err != nil {
		t.Fatalf("Supersede failed: %v", err)
	}

	got, err := svc.Select(Request{ScaleLevel: models.ScaleFeature, ProjectType: "api", Tags: []string{"auth"}})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 1 || got[0].Learning.ID != 2 {
		t.Errorf("got %v, want only learning 2", got)
	}
}

func TestSupersede_RejectsSelf(t *testing.T) {
	svc := NewService(&fakeRepo{}, nil)
	if err := svc.Supersede(3, 3); err == nil {
		t.Error("Supersede(3, 3) = nil, want error")
	}
}

func TestRecordApplication_UpdatesCounters(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{learnings: []models.Learning{newLearning(1, 0.9, now)}}
	svc := NewService(repo, nil, WithClock(func() time.Time { return now }))

	updated, err := svc.RecordApplication(models.LearningApplication{
		LearningID: 1, EpicNum: 2, Outcome: models.ApplicationSuccess,
	})
	if err != nil {
		t.Fatalf("RecordApplication failed: %v", err)
	}
	if updated.ApplicationCount != 1 {
		t.Errorf("ApplicationCount = %d, want 1", updated.ApplicationCount)
	}
	if updated.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", updated.SuccessRate)
	}

	// A partial counts as half a success.
	updated, err = svc.RecordApplication(models.LearningApplication{
		LearningID: 1, EpicNum: 2, Outcome: models.ApplicationPartial,
	})
	if err != nil {
		t.Fatalf("RecordApplication failed: %v", err)
	}
	if updated.ApplicationCount != 2 {
		t.Errorf("ApplicationCount = %d, want 2", updated.ApplicationCount)
	}
	if updated.SuccessRate != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", updated.SuccessRate)
	}

	if len(repo.apps) != 2 {
		t.Fatalf("repo has %d applications, want 2", len(repo.apps))
	}
	if repo.apps[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not defaulted to now")
	}
}
