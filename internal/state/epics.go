package state

import (
	"database/sql"
	"fmt"

	"github.com/gao-dev/gao-dev/internal/gitops"
	"github.com/gao-dev/gao-dev/internal/store"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// CreateEpic allocates the next epic number, persists the epic with its
// initial artifacts, and commits them in one unit. A safety state row
// per ceremony type is seeded alongside.
func (c *Coordinator) CreateEpic(feature string, scale models.ScaleLevel, projectType string, totalStories int, artifacts []models.Artifact) (models.Epic, error) {
	if !scale.Valid() {
		return models.Epic{}, fmt.Errorf("invalid scale level %d", int(scale))
	}
	if totalStories < 0 {
		return models.Epic{}, models.NewInvariantError("negative total_stories", map[string]any{
			"total_stories": totalStories,
		})
	}

	if err := c.writeArtifacts(artifacts); err != nil {
		return models.Epic{}, err
	}

	epic := models.Epic{
		FeatureName:  feature,
		ScaleLevel:   scale,
		Status:       models.EpicPlanned,
		TotalStories: totalStories,
		ProjectType:  projectType,
		CreatedAt:    c.now(),
	}

	msgTemplate := func(n int) (gitops.CommitMessage, error) {
		return gitops.NewCommitMessage("docs", feature,
			fmt.Sprintf("initialize epic %d (Level %d)", n, int(scale)))
	}

	// The epic number is only known inside the transaction, so the
	// commit message is built there and the commit made manually.
	var created models.Epic
	_, err := c.mutateDeferred(func(tx *sql.Tx) (gitops.CommitMessage, error) {
		var next int
		if err := tx.QueryRow("SELECT COALESCE(MAX(epic_num), 0) + 1 FROM epics").Scan(&next); err != nil {
			return gitops.CommitMessage{}, fmt.Errorf("allocate epic number: %w", err)
		}
		epic.EpicNum = next

		_, err := tx.Exec(`
			INSERT INTO epics (epic_num, feature_name, scale_level, status, total_stories, stories_completed, project_type, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			epic.EpicNum, epic.FeatureName, int(epic.ScaleLevel), string(epic.Status),
			epic.TotalStories, epic.ProjectType, store.FormatTime(epic.CreatedAt))
		if err != nil {
			return gitops.CommitMessage{}, fmt.Errorf("insert epic: %w", err)
		}

		for _, t := range models.CeremonyTypes {
			if _, err := tx.Exec(
				"INSERT INTO safety_state (epic_num, type) VALUES (?, ?)",
				epic.EpicNum, string(t)); err != nil {
				return gitops.CommitMessage{}, fmt.Errorf("seed safety state: %w", err)
			}
		}

		created = epic
		return msgTemplate(next)
	})
	if err != nil {
		return models.Epic{}, err
	}

	c.logger.Info("epic created",
		"epic", created.EpicNum, "feature", feature, "scale", int(scale))
	return created, nil
}

// mutateDeferred is mutate for operations that only know their commit
// message after their SQL writes ran.
func (c *Coordinator) mutateDeferred(writes func(tx *sql.Tx) (gitops.CommitMessage, error)) (string, error) {
	var sha string
	err := c.store.WithTx(func(tx *sql.Tx) error {
		msg, err := writes(tx)
		if err != nil {
			return err
		}
		s, err := c.commitPaired(msg)
		if err != nil {
			return err
		}
		sha = s
		return nil
	})
	if err != nil {
		if sha != "" {
			if uerr := c.git.UndoLastCommit(); uerr != nil {
				c.logger.Error("failed to undo orphaned commit", "sha", sha, "error", uerr)
			}
			c.clearJournal()
		}
		return "", err
	}
	c.clearJournal()
	return sha, nil
}

// GetEpic returns the epic with the given number, or nil if absent.
func (c *Coordinator) GetEpic(epicNum int) (*models.Epic, error) {
	row := c.store.QueryRow(`
		SELECT epic_num, feature_name, scale_level, status, total_stories, stories_completed, project_type, created_at, completed_at
		FROM epics WHERE epic_num = ?`, epicNum)

	epic, err := scanEpic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get epic %d: %w", epicNum, err)
	}
	return epic, nil
}

// ListEpics returns all epics ordered by number.
func (c *Coordinator) ListEpics() ([]models.Epic, error) {
	rows, err := c.store.Query(`
		SELECT epic_num, feature_name, scale_level, status, total_stories, stories_completed, project_type, created_at, completed_at
		FROM epics ORDER BY epic_num`)
	if err != nil {
		return nil, fmt.Errorf("list epics: %w", err)
	}
	defer rows.Close()

	var epics []models.Epic
	for rows.Next() {
		epic, err := scanEpic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan epic: %w", err)
		}
		epics = append(epics, *epic)
	}
	return epics, rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEpic(s scanner) (*models.Epic, error) {
	var epic models.Epic
	var scale int
	var status, createdAt string
	var projectType, completedAt sql.NullString

	err := s.Scan(&epic.EpicNum, &epic.FeatureName, &scale, &status,
		&epic.TotalStories, &epic.StoriesCompleted, &projectType, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	epic.ScaleLevel = models.ScaleLevel(scale)
	epic.Status = models.EpicStatus(status)
	epic.ProjectType = projectType.String
	if epic.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	epic.CompletedAt = store.ParseNullTime(completedAt)
	return &epic, nil
}
