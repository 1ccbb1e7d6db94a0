package learning

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gao-dev/gao-dev/internal/logging"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// Repository is the persistence surface the service needs. The state
// coordinator implements it; the service never writes SQL itself so the
// commit-pairing protocol stays in one place.
type Repository interface {
	// ActiveLearnings returns all learnings that are not superseded.
	ActiveLearnings() ([]models.Learning, error)
	// RecordApplication persists one application and recomputes the
	// learning's counters. It returns the updated learning.
	RecordApplication(app models.LearningApplication) (models.Learning, error)
	// Supersede marks oldID as replaced by newID.
	Supersede(oldID, newID int64) error
}

// Scored pairs a learning with its computed relevance score.
type Scored struct {
	Learning models.Learning
	Score    float64
}

// Service selects and maintains learnings.
type Service struct {
	repo      Repository
	logger    *slog.Logger
	threshold float64
	limit     int
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithThreshold overrides the selection score threshold.
func WithThreshold(t float64) Option {
	return func(s *Service) { s.threshold = t }
}

// WithLimit overrides the default selection limit.
func WithLimit(n int) Option {
	return func(s *Service) { s.limit = n }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a learning service backed by the given repository.
func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		logger:    logging.OrNop(logger),
		threshold: DefaultThreshold,
		limit:     DefaultLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns up to the request limit of learnings ordered by
// descending score. Learnings below the threshold are discarded even
// when the limit is not reached; superseded learnings never appear.
func (s *Service) Select(req Request) ([]Scored, error) {
	all, err := s.repo.ActiveLearnings()
	if err != nil {
		return nil, fmt.Errorf("list learnings: %w", err)
	}

	now := s.now()
	var scored []Scored
	for _, l := range all {
		score := Score(l, req, now)
		if score < s.threshold {
			s.logger.Debug("learning below threshold",
				"learning_id", l.ID, "score", score, "threshold", s.threshold)
			continue
		}
		scored = append(scored, Scored{Learning: l, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	limit := req.Limit
	if limit <= 0 {
		limit = s.limit
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}

	s.logger.Info("learnings selected",
		"candidates", len(all), "selected", len(scored))
	return scored, nil
}

// RecordApplication records that a learning was applied to work and
// with what outcome. Counter updates happen in the repository so they
// ride the same transaction as the paired commit.
func (s *Service) RecordApplication(app models.LearningApplication) (models.Learning, error) {
	if app.AppliedAt.IsZero() {
		app.AppliedAt = s.now()
	}
	updated, err := s.repo.RecordApplication(app)
	if err != nil {
		return models.Learning{}, fmt.Errorf("record application: %w", err)
	}

	s.logger.Info("learning application recorded",
		"learning_id", app.LearningID, "epic", app.EpicNum,
		"outcome", string(app.Outcome), "success_rate", updated.SuccessRate)
	return updated, nil
}

// Supersede marks an old learning as replaced by a newer one. The old
// learning stops appearing in selections immediately.
func (s *Service) Supersede(oldID, newID int64) error {
	if oldID == newID {
		return fmt.Errorf("learning %d cannot supersede itself", oldID)
	}
	if err := s.repo.Supersede(oldID, newID); err != nil {
		return fmt.Errorf("supersede learning %d: %w", oldID, err)
	}
	s.logger.Info("learning superseded", "old_id", oldID, "new_id", newID)
	return nil
}
