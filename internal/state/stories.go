package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gao-dev/gao-dev/internal/gitops"
	"github.com/gao-dev/gao-dev/internal/store"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// CreateStory allocates the next story number within an epic and
// commits the story artifact.
func (c *Coordinator) CreateStory(epicNum int, title string, artifacts []models.Artifact) (models.Story, error) {
	epic, err := c.GetEpic(epicNum)
	if err != nil {
		return models.Story{}, err
	}
	if epic == nil {
		return models.Story{}, fmt.Errorf("epic %d not found", epicNum)
	}

	if err := c.writeArtifacts(artifacts); err != nil {
		return models.Story{}, err
	}

	story := models.Story{
		EpicNum:      epicNum,
		Title:        title,
		Status:       models.StoryDraft,
		QualityGates: models.GatesUnknown,
		CreatedAt:    c.now(),
	}

	_, err = c.mutateDeferred(func(tx *sql.Tx) (gitops.CommitMessage, error) {
		var next int
		if err := tx.QueryRow(
			"SELECT COALESCE(MAX(story_num), 0) + 1 FROM stories WHERE epic_num = ?",
			epicNum).Scan(&next); err != nil {
			return gitops.CommitMessage{}, fmt.Errorf("allocate story number: %w", err)
		}
		story.StoryNum = next

		_, err := tx.Exec(`
			INSERT INTO stories (epic_num, story_num, title, status, quality_gates, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			story.EpicNum, story.StoryNum, story.Title, string(story.Status),
			string(story.QualityGates), store.FormatTime(story.CreatedAt))
		if err != nil {
			return gitops.CommitMessage{}, fmt.Errorf("insert story: %w", err)
		}

		return gitops.NewCommitMessage("docs", epic.FeatureName,
			fmt.Sprintf("add story %s - %s", story.Key(), title))
	})
	if err != nil {
		return models.Story{}, err
	}

	c.logger.Info("story created", "story", story.Key(), "title", title)
	return story, nil
}

// AdvanceStory moves a story to a new status, stages the given
// artifacts, and commits everything as one unit. Illegal transitions
// and epic counter violations roll the whole operation back.
func (c *Coordinator) AdvanceStory(epicNum, storyNum int, newStatus models.StoryStatus, artifacts []models.Artifact) (models.Story, error) {
	epic, err := c.GetEpic(epicNum)
	if err != nil {
		return models.Story{}, err
	}
	if epic == nil {
		return models.Story{}, fmt.Errorf("epic %d not found", epicNum)
	}
	story, err := c.GetStory(epicNum, storyNum)
	if err != nil {
		return models.Story{}, err
	}
	if story == nil {
		return models.Story{}, fmt.Errorf("story %d.%d not found", epicNum, storyNum)
	}

	if !models.CanTransition(story.Status, newStatus) {
		return models.Story{}, models.NewInvariantError("illegal story transition", map[string]any{
			"story": story.Key(),
			"from":  string(story.Status),
			"to":    string(newStatus),
		})
	}

	if err := c.writeArtifacts(artifacts); err != nil {
		return models.Story{}, err
	}

	now := c.now()
	rework := story.Status == models.StoryReview && newStatus == models.StoryInProgress

	updated := *story
	updated.Status = newStatus
	if rework {
		updated.ReworkCount++
	}
	if newStatus == models.StoryInProgress && updated.StartedAt == nil {
		updated.StartedAt = &now
	}
	if newStatus.Terminal() {
		updated.CompletedAt = &now
		if updated.StartedAt != nil {
			updated.CycleTimeSeconds = int64(now.Sub(*updated.StartedAt).Seconds())
		}
	}

	// Bug-fix epics commit story work as fixes, everything else as
	// features.
	typ := "feat"
	if epic.ScaleLevel == models.ScaleBugFix {
		typ = "fix"
	}
	msg, err := gitops.NewCommitMessage(typ, updated.Key(),
		fmt.Sprintf("story %s - %s", updated.Key(), updated.Title))
	if err != nil {
		return models.Story{}, err
	}

	_, err = c.mutate(msg, func(tx *sql.Tx) error {
		if err := c.updateStory(tx, &updated); err != nil {
			return err
		}
		return c.applyStoryEffects(tx, epic, story.Status, newStatus, now)
	}, nil)
	if err != nil {
		return models.Story{}, err
	}

	c.logger.Info("story advanced",
		"story", updated.Key(), "from", string(story.Status), "to", string(newStatus))
	return updated, nil
}

func (c *Coordinator) updateStory(tx *sql.Tx, s *models.Story) error {
	var startedAt, completedAt any
	if s.StartedAt != nil {
		startedAt = store.FormatTime(*s.StartedAt)
	}
	if s.CompletedAt != nil {
		completedAt = store.FormatTime(*s.CompletedAt)
	}

	_, err := tx.Exec(`
		UPDATE stories
		SET status = ?, cycle_time_seconds = ?, rework_count = ?, quality_gates = ?, started_at = ?, completed_at = ?
		WHERE epic_num = ? AND story_num = ?`,
		string(s.Status), s.CycleTimeSeconds, s.ReworkCount, string(s.QualityGates),
		startedAt, completedAt, s.EpicNum, s.StoryNum)
	if err != nil {
		return fmt.Errorf("update story %s: %w", s.Key(), err)
	}
	return nil
}

// applyStoryEffects keeps the epic row consistent with its stories:
// activation on first start, counter bumps on completion, and epic
// completion when the final story lands.
func (c *Coordinator) applyStoryEffects(tx *sql.Tx, epic *models.Epic, from, to models.StoryStatus, now time.Time) error {
	e := *epic
	changed := false

	if to == models.StoryInProgress && e.Status == models.EpicPlanned {
		e.Status = models.EpicActive
		changed = true
	}
	if to == models.StoryDone {
		e.StoriesCompleted++
		changed = true
		if e.StoriesCompleted == e.TotalStories {
			e.Status = models.EpicCompleted
			t := now
			e.CompletedAt = &t
		}
	}
	if !changed {
		return nil
	}

	if err := e.CheckInvariants(); err != nil {
		return err
	}

	var completedAt any
	if e.CompletedAt != nil {
		completedAt = store.FormatTime(*e.CompletedAt)
	}
	_, err := tx.Exec(`
		UPDATE epics SET status = ?, stories_completed = ?, completed_at = ?
		WHERE epic_num = ?`,
		string(e.Status), e.StoriesCompleted, completedAt, e.EpicNum)
	if err != nil {
		return fmt.Errorf("update epic %d: %w", e.EpicNum, err)
	}
	*epic = e
	return nil
}

// RecordQualityGates stores the latest gate result for a story. Gate
// results are bookkeeping derived from test runs; the commit carrying
// the test artifacts already happened, so no extra commit is made.
func (c *Coordinator) RecordQualityGates(epicNum, storyNum int, result models.QualityGateResult) error {
	res, err := c.store.Exec(
		"UPDATE stories SET quality_gates = ? WHERE epic_num = ? AND story_num = ?",
		string(result), epicNum, storyNum)
	if err != nil {
		return fmt.Errorf("record quality gates: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("story %d.%d not found", epicNum, storyNum)
	}
	return nil
}

// GetStory returns the story with the given key, or nil if absent.
func (c *Coordinator) GetStory(epicNum, storyNum int) (*models.Story, error) {
	row := c.store.QueryRow(`
		SELECT epic_num, story_num, title, status, cycle_time_seconds, rework_count, quality_gates, created_at, started_at, completed_at
		FROM stories WHERE epic_num = ? AND story_num = ?`, epicNum, storyNum)

	story, err := scanStory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get story %d.%d: %w", epicNum, storyNum, err)
	}
	return story, nil
}

// ListStories returns an epic's stories ordered by story number.
func (c *Coordinator) ListStories(epicNum int) ([]models.Story, error) {
	rows, err := c.store.Query(`
		SELECT epic_num, story_num, title, status, cycle_time_seconds, rework_count, quality_gates, created_at, started_at, completed_at
		FROM stories WHERE epic_num = ? ORDER BY story_num`, epicNum)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var stories []models.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, *story)
	}
	return stories, rows.Err()
}

func scanStory(s scanner) (*models.Story, error) {
	var story models.Story
	var status, gates, createdAt string
	var startedAt, completedAt sql.NullString

	err := s.Scan(&story.EpicNum, &story.StoryNum, &story.Title, &status,
		&story.CycleTimeSeconds, &story.ReworkCount, &gates, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	story.Status = models.StoryStatus(status)
	story.QualityGates = models.QualityGateResult(gates)
	if story.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	story.StartedAt = store.ParseNullTime(startedAt)
	story.CompletedAt = store.ParseNullTime(completedAt)
	return &story, nil
}
